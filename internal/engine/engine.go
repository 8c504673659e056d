// Package engine is the command surface of the order core. Every mutation of
// an order goes through the per-order lock, the lifecycle machine and the store
// before its event is published, so subscribers see changes in commit order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/order-engine/internal/cart"
	"github.com/example/order-engine/internal/drivers"
	"github.com/example/order-engine/internal/eta"
	"github.com/example/order-engine/internal/events"
	"github.com/example/order-engine/internal/keylock"
	"github.com/example/order-engine/internal/lifecycle"
	"github.com/example/order-engine/internal/matcher"
	"github.com/example/order-engine/internal/models"
	"github.com/example/order-engine/internal/observability"
	"github.com/example/order-engine/internal/storage"
)

var (
	ErrInvalidOrder = errors.New("invalid order")
	ErrEmptyCart    = errors.New("cart is empty")
)

// LocationSink receives every accepted driver location sample.
type LocationSink interface {
	PublishLocation(ctx context.Context, s models.LocationSample) error
}

type Options struct {
	Store     storage.OrderStore
	Pool      *drivers.Pool
	Bus       events.Publisher
	Carts     *cart.Service
	Locations LocationSink
	ETA       eta.Estimator

	Locale          string
	BroadcastWindow time.Duration
	BroadcastTopN   int

	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

type Engine struct {
	store     storage.OrderStore
	pool      *drivers.Pool
	bus       events.Publisher
	carts     *cart.Service
	locations LocationSink
	eta       eta.Estimator
	machine   *lifecycle.Machine
	coord     *matcher.Coordinator
	locks     *keylock.Locker
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

func New(opts Options) *Engine {
	e := &Engine{
		store:     opts.Store,
		pool:      opts.Pool,
		bus:       opts.Bus,
		carts:     opts.Carts,
		locations: opts.Locations,
		eta:       opts.ETA,
		locks:     keylock.New(),
		logger:    opts.Logger,
		now:       opts.Now,
		newID:     opts.NewID,
	}
	if e.store == nil {
		e.store = storage.NewMemoryStore()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.pool == nil {
		e.pool = drivers.NewPool(drivers.Options{Logger: e.logger})
	}
	if e.bus == nil {
		e.bus = events.NewBus()
	}
	if e.carts == nil {
		e.carts = cart.NewService()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	e.machine = lifecycle.NewMachine(opts.Locale)
	e.machine.Now = e.now
	e.coord = matcher.NewCoordinator(matcher.Options{
		Store:   e.store,
		Pool:    e.pool,
		Machine: e.machine,
		Bus:     e.bus,
		Locks:   e.locks,
		Window:  opts.BroadcastWindow,
		TopN:    opts.BroadcastTopN,
		Logger:  e.logger.With("component", "matcher"),
		Now:     e.now,
	})
	return e
}

// NewOrder is the input of CreateOrder.
type NewOrder struct {
	CustomerID          string            `json:"customer_id"`
	DeliveryAddress     string            `json:"delivery_address"`
	DeliveryCoordinates *models.Coord     `json:"delivery_coordinates,omitempty"`
	Items               []models.CartItem `json:"items"`
	TotalAmount         float64           `json:"total_amount"`
	Currency            string            `json:"currency,omitempty"`
	Locale              string            `json:"locale,omitempty"`
	Source              models.CartSource `json:"source,omitempty"`
	PartnerID           string            `json:"partner_id,omitempty"`
}

// CreateOrder stores a new pending order. Customers always order for themselves.
func (e *Engine) CreateOrder(ctx context.Context, in NewOrder, actor models.Actor) (models.Order, error) {
	if actor.Role == models.RoleCustomer {
		in.CustomerID = actor.ID
	}
	if err := validateNewOrder(in); err != nil {
		return models.Order{}, err
	}
	total := in.TotalAmount
	if total == 0 {
		for _, it := range in.Items {
			total += it.UnitPrice * float64(it.Quantity)
		}
	}
	o := models.Order{
		ID:                  e.newID(),
		CustomerID:          in.CustomerID,
		DeliveryAddress:     in.DeliveryAddress,
		DeliveryCoordinates: in.DeliveryCoordinates,
		TotalAmount:         total,
		Currency:            in.Currency,
		Source:              in.Source,
		PartnerID:           in.PartnerID,
		Items:               in.Items,
		Locale:              in.Locale,
	}
	o = e.machine.Init(o, actor)
	if err := e.store.Create(ctx, o); err != nil {
		return models.Order{}, err
	}
	e.logger.Info("order_created", "order_id", o.ID, "customer_id", o.CustomerID, "total", o.TotalAmount)
	return o, nil
}

// Checkout turns the customer's cart into an order. The cart is taken before
// the order is created, so items added meanwhile land in a fresh cart. It is
// put back if the order cannot be created.
func (e *Engine) Checkout(ctx context.Context, customerID, address string, coords *models.Coord, actor models.Actor) (models.Order, error) {
	if actor.Role == models.RoleCustomer {
		customerID = actor.ID
	}
	c := e.carts.Clear(customerID)
	if c.Empty() {
		return models.Order{}, ErrEmptyCart
	}
	o, err := e.CreateOrder(ctx, NewOrder{
		CustomerID:          customerID,
		DeliveryAddress:     address,
		DeliveryCoordinates: coords,
		Items:               c.Items,
		TotalAmount:         c.Total(),
		Source:              c.Source,
		PartnerID:           c.PartnerID,
	}, actor)
	if err != nil {
		if !e.carts.Restore(c) {
			e.logger.Warn("cart_not_restored", "customer_id", customerID, "error", err)
		}
		return models.Order{}, err
	}
	return o, nil
}

func (e *Engine) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	return e.store.Get(ctx, orderID)
}

// Snapshot is the fresh order state handed to a session when it subscribes.
func (e *Engine) Snapshot(ctx context.Context, orderID string) (models.Order, error) {
	return e.store.Get(ctx, orderID)
}

// UpdateOrderStatus applies a status change requested by actor. status may be a
// canonical status or a presentation synonym such as "preparing". Re-applying
// the current status returns the order unchanged and publishes nothing.
func (e *Engine) UpdateOrderStatus(ctx context.Context, orderID, status string, actor models.Actor, notes string) (models.Order, error) {
	target, err := lifecycle.ParseStatus(status)
	if err != nil {
		observability.TransitionRejections.WithLabelValues("unknown_status").Inc()
		return models.Order{}, &lifecycle.TransitionError{To: models.OrderStatus(status), Role: actor.Role, Reason: "unknown status", Err: lifecycle.ErrInvalidTransition}
	}

	unlock := e.locks.Lock(orderID)
	defer unlock()

	order, err := e.store.Get(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	res, err := e.machine.Transition(order, target, actor, notes)
	if err != nil {
		e.reject(order, target, actor, err)
		return order, err
	}
	if res.Event == nil {
		return res.Order, nil
	}
	if err := e.store.Update(ctx, res.Order); err != nil {
		return order, err
	}
	if res.Order.Status.Terminal() {
		e.coord.Release(orderID, order.AssignedDriverID)
	}

	change := *res.Event
	if res.Order.Status == models.StatusOutForDelivery {
		minutes, _ := e.eta.Estimate(e.pool.Trail(res.Order.AssignedDriverID), res.Order.DeliveryCoordinates)
		change.ETAMinutes = &minutes
	}
	e.bus.Publish(orderID, events.StatusUpdate(change))

	observability.TransitionsTotal.WithLabelValues(string(change.PreviousStatus), string(change.NewStatus)).Inc()
	e.logger.Info("order_transitioned",
		"order_id", orderID,
		"from", change.PreviousStatus,
		"to", change.NewStatus,
		"actor_role", actor.Role,
		"actor_id", actor.ID,
	)
	return res.Order, nil
}

func (e *Engine) reject(order models.Order, target models.OrderStatus, actor models.Actor, err error) {
	reason := "invalid"
	if errors.Is(err, lifecycle.ErrForbiddenTransition) {
		reason = "forbidden"
	}
	observability.TransitionRejections.WithLabelValues(reason).Inc()
	e.logger.Info("transition_rejected",
		"order_id", order.ID,
		"from", order.Status,
		"to", target,
		"actor_role", actor.Role,
		"reason", reason,
	)
}

func (e *Engine) BroadcastToAvailableDrivers(ctx context.Context, orderID string, actor models.Actor) ([]string, error) {
	if !actor.Role.IsStaff() {
		return nil, fmt.Errorf("%w: broadcasting is reserved for staff", lifecycle.ErrForbiddenTransition)
	}
	return e.coord.BroadcastToAvailableDrivers(ctx, orderID)
}

func (e *Engine) AcceptOrder(ctx context.Context, orderID, driverID string) (models.Order, error) {
	return e.coord.AcceptOrder(ctx, orderID, driverID)
}

func (e *Engine) AssignDriver(ctx context.Context, orderID, driverID string, actor models.Actor) (models.Order, error) {
	return e.coord.AssignDriver(ctx, orderID, driverID, actor)
}

func (e *Engine) PendingOffers(driverID string) []models.OrderOffer {
	return e.coord.PendingOffers(driverID)
}

// ExpireBroadcasts reports broadcasts whose acceptance window has closed.
func (e *Engine) ExpireBroadcasts(ctx context.Context) int {
	return e.coord.ExpireBroadcasts(ctx)
}

func (e *Engine) SetDriverStatus(ctx context.Context, driverID, status string) (models.Driver, error) {
	return e.pool.SetStatus(ctx, driverID, models.DriverStatus(strings.ToLower(strings.TrimSpace(status))))
}

func (e *Engine) RegisterDriver(d models.Driver) models.Driver {
	return e.pool.Register(d)
}

func (e *Engine) GetDriver(driverID string) (models.Driver, bool) {
	return e.pool.Get(driverID)
}

// RecordDriverLocation stores a GPS sample and publishes a location update with
// a fresh ETA to every order the driver currently carries.
func (e *Engine) RecordDriverLocation(ctx context.Context, driverID string, sample models.LocationSample) (models.Driver, error) {
	d, accepted, err := e.pool.RecordLocation(ctx, driverID, sample)
	if err != nil {
		return d, err
	}
	if !accepted {
		observability.LocationsDropped.Inc()
		return d, nil
	}
	if e.locations != nil {
		if err := e.locations.PublishLocation(ctx, *d.LastKnownLocation); err != nil {
			observability.OutboxErrors.Inc()
			e.logger.Warn("location_forward_failed", "driver_id", driverID, "error", err)
		}
	}
	trail := e.pool.Trail(driverID)
	for _, orderID := range d.CurrentOrderIDs {
		e.publishLocation(ctx, orderID, d, trail)
	}
	return d, nil
}

func (e *Engine) publishLocation(ctx context.Context, orderID string, d models.Driver, trail []models.LocationSample) {
	unlock := e.locks.Lock(orderID)
	defer unlock()

	order, err := e.store.Get(ctx, orderID)
	if err != nil {
		e.logger.Warn("location_order_lookup_failed", "order_id", orderID, "error", err)
		return
	}
	if order.AssignedDriverID != d.ID || order.Status.Terminal() {
		return
	}
	loc := d.LastKnownLocation
	minutes, fallback := e.eta.Estimate(trail, order.DeliveryCoordinates)
	e.bus.Publish(orderID, events.LocationUpdate(orderID, models.LocationUpdate{
		DriverID:    d.ID,
		Lat:         loc.Lat,
		Lng:         loc.Lng,
		Speed:       loc.Speed,
		Heading:     loc.Heading,
		ETAMinutes:  minutes,
		ETAFallback: fallback,
	}, loc.Timestamp))
}

// ListAvailableDrivers returns up to limit available drivers ranked by distance
// to near and rating. limit <= 0 returns all of them.
func (e *Engine) ListAvailableDrivers(near *models.Coord, limit int) []models.Driver {
	return drivers.Take(e.pool.ListAvailable(near), limit)
}

// DriverCounts reports online, busy and stale drivers.
func (e *Engine) DriverCounts() (online, busy, stale int) {
	return e.pool.Counts()
}

func (e *Engine) GetCart(customerID string) models.CartState {
	return e.carts.Get(customerID)
}

func (e *Engine) AddCartItem(customerID string, item models.CartItem) (models.CartState, *cart.Conflict, error) {
	c, conflict, err := e.carts.AddItem(customerID, item)
	if conflict != nil {
		observability.CartConflictsTotal.WithLabelValues(string(conflict.ConflictType)).Inc()
	}
	return c, conflict, err
}

func (e *Engine) ClearAndSwitchCart(customerID string, item models.CartItem) (models.CartState, error) {
	return e.carts.ClearAndSwitch(customerID, item)
}

func (e *Engine) RemoveCartItem(customerID, productID string) models.CartState {
	return e.carts.RemoveItem(customerID, productID)
}

func validateNewOrder(in NewOrder) error {
	switch {
	case in.CustomerID == "":
		return fmt.Errorf("%w: customer id is required", ErrInvalidOrder)
	case strings.TrimSpace(in.DeliveryAddress) == "":
		return fmt.Errorf("%w: delivery address is required", ErrInvalidOrder)
	case in.DeliveryCoordinates != nil && !in.DeliveryCoordinates.Valid():
		return fmt.Errorf("%w: delivery coordinates out of range", ErrInvalidOrder)
	case in.TotalAmount < 0:
		return fmt.Errorf("%w: negative total", ErrInvalidOrder)
	}
	for _, it := range in.Items {
		if err := cart.ValidateItem(it); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidOrder, err)
		}
	}
	return nil
}
