// Package matcher binds drivers to ready orders, either by broadcasting the
// order to nearby available drivers and letting the first one accept it, or by
// direct assignment from the back office.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/example/order-engine/internal/drivers"
	"github.com/example/order-engine/internal/events"
	"github.com/example/order-engine/internal/geo"
	"github.com/example/order-engine/internal/keylock"
	"github.com/example/order-engine/internal/lifecycle"
	"github.com/example/order-engine/internal/models"
	"github.com/example/order-engine/internal/observability"
	"github.com/example/order-engine/internal/storage"
)

var (
	// ErrAlreadyAssigned means another driver won the order first. Retrying is pointless.
	ErrAlreadyAssigned = errors.New("order already assigned")
	// ErrDriverUnavailable means the driver is offline, at capacity or unknown.
	ErrDriverUnavailable = errors.New("driver unavailable")
	ErrNotBroadcast      = errors.New("order is not open for acceptance")
	ErrNotReady          = errors.New("order is not ready for dispatch")
)

const (
	ModeBroadcast = "broadcast"
	ModeDirect    = "direct"

	DefaultBroadcastWindow = 2 * time.Minute
	DefaultTopN            = 8
)

type broadcast struct {
	at       time.Time
	deadline time.Time
	offers   map[string]models.OrderOffer // by driver id
}

type Options struct {
	Store   storage.OrderStore
	Pool    *drivers.Pool
	Machine *lifecycle.Machine
	Bus     events.Publisher
	// Locks serializes work per order id. Share it with every other writer of
	// orders so status changes and assignment never interleave.
	Locks  *keylock.Locker
	Window time.Duration
	TopN   int
	Logger *slog.Logger
	Now    func() time.Time
}

type Coordinator struct {
	store   storage.OrderStore
	pool    *drivers.Pool
	machine *lifecycle.Machine
	bus     events.Publisher
	locks   *keylock.Locker
	window  time.Duration
	topN    int
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	broadcasts map[string]*broadcast // by order id
}

func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		store:      opts.Store,
		pool:       opts.Pool,
		machine:    opts.Machine,
		bus:        opts.Bus,
		locks:      opts.Locks,
		window:     opts.Window,
		topN:       opts.TopN,
		logger:     opts.Logger,
		now:        opts.Now,
		broadcasts: make(map[string]*broadcast),
	}
	if c.locks == nil {
		c.locks = keylock.New()
	}
	if c.machine == nil {
		c.machine = lifecycle.NewMachine("en")
	}
	if c.window <= 0 {
		c.window = DefaultBroadcastWindow
	}
	if c.topN <= 0 {
		c.topN = DefaultTopN
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// BroadcastToAvailableDrivers offers a ready, unassigned order to the closest
// available drivers and opens it for acceptance until the broadcast window
// closes. Broadcasting again refreshes the window and the driver selection.
// It returns the IDs of the drivers the order was offered to.
func (c *Coordinator) BroadcastToAvailableDrivers(ctx context.Context, orderID string) ([]string, error) {
	unlock := c.locks.Lock(orderID)
	defer unlock()

	order, err := c.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.AssignedDriverID != "" {
		return nil, ErrAlreadyAssigned
	}
	if order.Status != models.StatusReady {
		return nil, fmt.Errorf("%w: order is %s", ErrNotReady, order.Status)
	}

	now := c.now()
	b := &broadcast{at: now, deadline: now.Add(c.window), offers: make(map[string]models.OrderOffer)}
	offered := make([]string, 0, c.topN)
	for _, d := range drivers.Take(c.pool.ListAvailable(order.DeliveryCoordinates), c.topN) {
		offer := models.OrderOffer{
			OrderID:         order.ID,
			DeliveryAddress: order.DeliveryAddress,
			TotalAmount:     order.TotalAmount,
			ExpiresAt:       b.deadline,
		}
		if order.DeliveryCoordinates != nil && d.LastKnownLocation != nil {
			km := geo.HaversineKm(d.LastKnownLocation.Coord(), *order.DeliveryCoordinates)
			offer.DistanceKm = &km
		}
		b.offers[d.ID] = offer
		offered = append(offered, d.ID)
	}

	c.mu.Lock()
	c.broadcasts[orderID] = b
	c.mu.Unlock()

	for _, id := range offered {
		c.bus.Publish(events.DriverChannel(id), events.Offer(b.offers[id], now))
	}
	observability.BroadcastsTotal.Inc()
	c.logger.Info("order_broadcast", "order_id", orderID, "offered", len(offered), "deadline", b.deadline)
	return offered, nil
}

// AcceptOrder binds a broadcast order to the first driver that accepts it.
// Losing the race returns ErrAlreadyAssigned and changes nothing.
func (c *Coordinator) AcceptOrder(ctx context.Context, orderID, driverID string) (models.Order, error) {
	unlock := c.locks.Lock(orderID)
	defer unlock()

	order, err := c.store.Get(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if order.AssignedDriverID != "" {
		c.conflict(orderID, driverID, "already_assigned")
		return order, ErrAlreadyAssigned
	}
	c.mu.Lock()
	b, open := c.broadcasts[orderID]
	c.mu.Unlock()
	if !open || !c.now().Before(b.deadline) {
		return order, ErrNotBroadcast
	}
	if order.Status != models.StatusReady {
		return order, fmt.Errorf("%w: order is %s", ErrNotReady, order.Status)
	}
	actor := models.Actor{Role: models.RoleDriver, ID: driverID}
	return c.bind(ctx, order, driverID, actor, ModeBroadcast)
}

// AssignDriver binds driverID to a ready order on behalf of staff, bypassing
// any broadcast in progress.
func (c *Coordinator) AssignDriver(ctx context.Context, orderID, driverID string, actor models.Actor) (models.Order, error) {
	if !actor.Role.IsStaff() {
		return models.Order{}, &lifecycle.TransitionError{
			From:   models.StatusReady,
			To:     models.StatusDriverAssigned,
			Role:   actor.Role,
			Reason: "direct assignment is reserved for staff",
			Err:    lifecycle.ErrForbiddenTransition,
		}
	}
	unlock := c.locks.Lock(orderID)
	defer unlock()

	order, err := c.store.Get(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if order.AssignedDriverID != "" {
		c.conflict(orderID, driverID, "already_assigned")
		return order, ErrAlreadyAssigned
	}
	if order.Status != models.StatusReady {
		return order, fmt.Errorf("%w: order is %s", ErrNotReady, order.Status)
	}
	return c.bind(ctx, order, driverID, actor, ModeDirect)
}

// bind reserves the driver, applies ready -> driver_assigned and persists. Any
// failure undoes the reservation. Callers hold the order lock.
func (c *Coordinator) bind(ctx context.Context, order models.Order, driverID string, actor models.Actor, mode string) (models.Order, error) {
	if _, err := c.pool.Reserve(driverID, order.ID); err != nil {
		c.conflict(order.ID, driverID, "driver_unavailable")
		return order, fmt.Errorf("%w: %s", ErrDriverUnavailable, err)
	}

	bound := order.Clone()
	bound.AssignedDriverID = driverID
	res, err := c.machine.Transition(bound, models.StatusDriverAssigned, actor, "")
	if err != nil {
		c.pool.Release(driverID, order.ID)
		return order, err
	}
	if err := c.store.Update(ctx, res.Order); err != nil {
		c.pool.Release(driverID, order.ID)
		return order, err
	}

	c.mu.Lock()
	b := c.broadcasts[order.ID]
	delete(c.broadcasts, order.ID)
	c.mu.Unlock()

	assignment := models.Assignment{DriverID: driverID, Mode: mode, ActorID: actor.ID, At: res.Event.Timestamp}
	c.bus.Publish(order.ID, events.StatusUpdate(*res.Event))
	c.bus.Publish(order.ID, events.Assigned(order.ID, assignment))
	if b != nil {
		// retract the offer from everyone else who saw it
		for id := range b.offers {
			if id != driverID {
				c.bus.Publish(events.DriverChannel(id), events.Assigned(order.ID, assignment))
			}
		}
	}

	observability.AssignmentsTotal.WithLabelValues(mode).Inc()
	observability.TransitionsTotal.WithLabelValues(string(res.Event.PreviousStatus), string(res.Event.NewStatus)).Inc()
	c.logger.Info("order_assigned", "order_id", order.ID, "driver_id", driverID, "mode", mode)
	return res.Order, nil
}

// Release frees the driver's capacity for orderID and closes any broadcast
// still open for it. It is called once an order is delivered or cancelled.
func (c *Coordinator) Release(orderID, driverID string) bool {
	c.mu.Lock()
	delete(c.broadcasts, orderID)
	c.mu.Unlock()
	if driverID == "" {
		return false
	}
	return c.pool.Release(driverID, orderID)
}

// ExpireBroadcasts reports every broadcast whose window has closed without an
// accepting driver with a single unassigned_timeout event and forgets it.
// Escalation (re-broadcast, direct assignment) is left to the back office.
func (c *Coordinator) ExpireBroadcasts(ctx context.Context) int {
	now := c.now()
	c.mu.Lock()
	var due []string
	for id, b := range c.broadcasts {
		if !now.Before(b.deadline) {
			due = append(due, id)
		}
	}
	c.mu.Unlock()
	sort.Strings(due)

	expired := 0
	for _, id := range due {
		if c.expire(ctx, id, now) {
			expired++
		}
	}
	return expired
}

func (c *Coordinator) expire(ctx context.Context, orderID string, now time.Time) bool {
	unlock := c.locks.Lock(orderID)
	defer unlock()

	c.mu.Lock()
	b, ok := c.broadcasts[orderID]
	if !ok || now.Before(b.deadline) {
		c.mu.Unlock()
		return false
	}
	delete(c.broadcasts, orderID)
	c.mu.Unlock()

	order, err := c.store.Get(ctx, orderID)
	if err != nil {
		c.logger.Warn("unassigned_timeout_lookup_failed", "order_id", orderID, "error", err)
		return false
	}
	if order.AssignedDriverID != "" || order.Status != models.StatusReady {
		return false
	}
	offered := make([]string, 0, len(b.offers))
	for id := range b.offers {
		offered = append(offered, id)
	}
	sort.Strings(offered)
	c.bus.Publish(orderID, events.Unassigned(orderID, models.UnassignedTimeout{
		BroadcastAt:    b.at,
		Deadline:       b.deadline,
		OfferedDrivers: offered,
	}, now))
	observability.UnassignedTimeoutsTotal.Inc()
	c.logger.Warn("unassigned_timeout", "order_id", orderID, "offered", len(offered))
	return true
}

// PendingOffers lists the open offers a driver received, soonest deadline first.
func (c *Coordinator) PendingOffers(driverID string) []models.OrderOffer {
	now := c.now()
	c.mu.Lock()
	var out []models.OrderOffer
	for _, b := range c.broadcasts {
		if offer, ok := b.offers[driverID]; ok && now.Before(b.deadline) {
			out = append(out, offer)
		}
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out
}

// Broadcasting reports whether orderID is currently open for acceptance.
func (c *Coordinator) Broadcasting(orderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.broadcasts[orderID]
	return ok && c.now().Before(b.deadline)
}

func (c *Coordinator) conflict(orderID, driverID, reason string) {
	observability.AssignmentConflicts.WithLabelValues(reason).Inc()
	c.logger.Info("assignment_conflict", "order_id", orderID, "driver_id", driverID, "reason", reason)
}
