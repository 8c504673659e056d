package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/order-engine/internal/drivers"
	"github.com/example/order-engine/internal/events"
	"github.com/example/order-engine/internal/lifecycle"
	"github.com/example/order-engine/internal/logging"
	"github.com/example/order-engine/internal/matcher"
	"github.com/example/order-engine/internal/models"
	"github.com/example/order-engine/internal/storage"
)

var (
	customer = models.Actor{Role: models.RoleCustomer, ID: "c1"}
	staff    = models.Actor{Role: models.RoleStaff, ID: "s1"}
	admin    = models.Actor{Role: models.RoleAdmin, ID: "a1"}
	cairo    = &models.Coord{Lat: 30.0644, Lng: 31.2157}
)

type sink struct {
	mu      sync.Mutex
	samples []models.LocationSample
}

func (s *sink) PublishLocation(_ context.Context, l models.LocationSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, l)
	return nil
}

type harness struct {
	e     *Engine
	bus   *events.Bus
	pool  *drivers.Pool
	sink  *sink
	clock time.Time
	mu    sync.Mutex
}

func (h *harness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clock
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.clock = h.clock.Add(d)
	h.mu.Unlock()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{bus: events.NewBus(), sink: &sink{}, clock: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	h.pool = drivers.NewPool(drivers.Options{Logger: logging.Discard(), Now: h.now})
	n := 0
	h.e = New(Options{
		Store:           storage.NewMemoryStore(),
		Pool:            h.pool,
		Bus:             h.bus,
		Locations:       h.sink,
		Locale:          "en",
		BroadcastWindow: time.Minute,
		Logger:          logging.Discard(),
		Now:             h.now,
		NewID: func() string {
			n++
			return "order-" + string(rune('0'+n))
		},
	})
	return h
}

func (h *harness) order(t *testing.T) models.Order {
	t.Helper()
	o, err := h.e.CreateOrder(context.Background(), NewOrder{
		DeliveryAddress:     "26th of July St",
		DeliveryCoordinates: cairo,
		Items:               []models.CartItem{{ProductID: "p1", Quantity: 2, UnitPrice: 50, Origin: models.ItemOrigin{Source: models.SourceStore}}},
	}, customer)
	require.NoError(t, err)
	return o
}

func (h *harness) toReady(t *testing.T, id string) {
	t.Helper()
	for _, s := range []string{"confirmed", "processing", "ready"} {
		_, err := h.e.UpdateOrderStatus(context.Background(), id, s, staff, "")
		require.NoError(t, err)
	}
}

func statuses(t *testing.T, c *events.ChanSubscriber) []models.OrderStatus {
	t.Helper()
	var out []models.OrderStatus
	for {
		select {
		case ev := <-c.C():
			if ev.Type == models.EventOrderStatusUpdate {
				out = append(out, ev.Payload.(models.StatusChange).NewStatus)
			}
		default:
			return out
		}
	}
}

func TestCreateOrder(t *testing.T) {
	h := newHarness(t)
	o := h.order(t)
	assert.Equal(t, models.StatusPending, o.Status)
	assert.Equal(t, "c1", o.CustomerID)
	assert.InDelta(t, 100.0, o.TotalAmount, 1e-9)
	assert.Len(t, o.StatusHistory, 1)

	_, err := h.e.CreateOrder(context.Background(), NewOrder{CustomerID: "c1"}, staff)
	require.ErrorIs(t, err, ErrInvalidOrder)
	_, err = h.e.CreateOrder(context.Background(), NewOrder{CustomerID: "c1", DeliveryAddress: "x", DeliveryCoordinates: &models.Coord{Lat: 100}}, staff)
	require.ErrorIs(t, err, ErrInvalidOrder)
}

func TestUpdateOrderStatus_EventOrdering(t *testing.T) {
	h := newHarness(t)
	o := h.order(t)
	sub := events.NewChanSubscriber(16)
	h.bus.Subscribe(o.ID, "admin-list", sub)

	ctx := context.Background()
	for _, s := range []string{"confirmed", "processing"} {
		_, err := h.e.UpdateOrderStatus(ctx, o.ID, s, staff, "")
		require.NoError(t, err)
	}
	// presentation synonym for the current stage: no event
	_, err := h.e.UpdateOrderStatus(ctx, o.ID, "printing", staff, "")
	require.NoError(t, err)

	require.Equal(t, []models.OrderStatus{models.StatusConfirmed, models.StatusProcessing}, statuses(t, sub))
}

func TestUpdateOrderStatus_RejectionsLeaveOrderUntouched(t *testing.T) {
	h := newHarness(t)
	o := h.order(t)
	ctx := context.Background()

	_, err := h.e.UpdateOrderStatus(ctx, o.ID, "delivered", staff, "")
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
	_, err = h.e.UpdateOrderStatus(ctx, o.ID, "confirmed", customer, "")
	require.ErrorIs(t, err, lifecycle.ErrForbiddenTransition)
	_, err = h.e.UpdateOrderStatus(ctx, o.ID, "teleported", staff, "")
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
	_, err = h.e.UpdateOrderStatus(ctx, "missing", "confirmed", staff, "")
	require.ErrorIs(t, err, storage.ErrNotFound)

	got, _ := h.e.GetOrder(ctx, o.ID)
	require.Equal(t, models.StatusPending, got.Status)
	require.Len(t, got.StatusHistory, 1)
}

func TestDeliveryScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.order(t)
	h.toReady(t, o.ID)

	h.e.RegisterDriver(models.Driver{ID: "d1", Name: "Captain Ali", Rating: 4.7})
	require.Empty(t, h.e.ListAvailableDrivers(nil, 0), "offline drivers are not listed")

	_, err := h.e.SetDriverStatus(ctx, "d1", "online")
	require.NoError(t, err)
	_, err = h.e.RecordDriverLocation(ctx, "d1", models.LocationSample{Lat: 30.0444, Lng: 31.2357, Timestamp: h.now()})
	require.NoError(t, err)
	require.Len(t, h.e.ListAvailableDrivers(cairo, 5), 1)

	sub := events.NewChanSubscriber(32)
	h.bus.Subscribe(o.ID, "customer-tab", sub)
	offers := events.NewChanSubscriber(4)
	h.bus.Subscribe(events.DriverChannel("d1"), "driver-app", offers)

	offered, err := h.e.BroadcastToAvailableDrivers(ctx, o.ID, staff)
	require.NoError(t, err)
	require.Equal(t, []string{"d1"}, offered)
	require.Equal(t, models.EventOrderOffer, (<-offers.C()).Type)
	require.Len(t, h.e.PendingOffers("d1"), 1)

	_, err = h.e.AcceptOrder(ctx, o.ID, "d1")
	require.NoError(t, err)
	require.Empty(t, h.e.ListAvailableDrivers(nil, 0), "driver at cap disappears")

	first := <-sub.C()
	second := <-sub.C()
	require.Equal(t, models.EventOrderStatusUpdate, first.Type)
	require.Equal(t, models.EventOrderAssigned, second.Type)

	_, err = h.e.UpdateOrderStatus(ctx, o.ID, "out_for_delivery", models.Actor{Role: models.RoleDriver, ID: "d1"}, "picked up")
	require.NoError(t, err)
	pickup := <-sub.C()
	change := pickup.Payload.(models.StatusChange)
	require.Equal(t, models.StatusOutForDelivery, change.NewStatus)
	require.NotNil(t, change.ETAMinutes)
	require.Equal(t, 6, *change.ETAMinutes)

	h.advance(10 * time.Second)
	_, err = h.e.RecordDriverLocation(ctx, "d1", models.LocationSample{Lat: 30.0544, Lng: 31.2257, Timestamp: h.now()})
	require.NoError(t, err)
	loc := <-sub.C()
	require.Equal(t, models.EventDriverLocationUpdate, loc.Type)
	update := loc.Payload.(models.LocationUpdate)
	require.Equal(t, "d1", update.DriverID)
	require.False(t, update.ETAFallback)
	require.Equal(t, 3, update.ETAMinutes)
	require.Len(t, h.sink.samples, 2)

	_, err = h.e.UpdateOrderStatus(ctx, o.ID, "delivered", admin, "")
	require.ErrorIs(t, err, lifecycle.ErrForbiddenTransition)
	delivered, err := h.e.UpdateOrderStatus(ctx, o.ID, "delivered", models.Actor{Role: models.RoleDriver, ID: "d1"}, "")
	require.NoError(t, err)
	require.Equal(t, "d1", delivered.AssignedDriverID)

	require.Len(t, h.e.ListAvailableDrivers(nil, 0), 1, "driver is free again")
	d, _ := h.e.GetDriver("d1")
	require.Empty(t, d.CurrentOrderIDs)
}

func TestCancelReleasesDriver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.order(t)
	h.toReady(t, o.ID)
	_, _ = h.e.SetDriverStatus(ctx, "d1", "online")
	_, err := h.e.AssignDriver(ctx, o.ID, "d1", staff)
	require.NoError(t, err)

	cancelled, err := h.e.UpdateOrderStatus(ctx, o.ID, "canceled", models.Actor{Role: models.RoleDriver, ID: "d1"}, "customer unreachable")
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, cancelled.Status)
	require.Empty(t, cancelled.AssignedDriverID)
	d, _ := h.e.GetDriver("d1")
	require.True(t, d.IsAvailable)

	again, err := h.e.UpdateOrderStatus(ctx, o.ID, "cancelled", staff, "")
	require.NoError(t, err, "second cancel is a no-op")
	require.Len(t, again.StatusHistory, len(cancelled.StatusHistory))
}

func TestLocationWithoutDestinationFallsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o, err := h.e.CreateOrder(ctx, NewOrder{DeliveryAddress: "pickup at counter"}, customer)
	require.NoError(t, err)
	h.toReady(t, o.ID)
	_, _ = h.e.SetDriverStatus(ctx, "d1", "online")
	_, err = h.e.AssignDriver(ctx, o.ID, "d1", staff)
	require.NoError(t, err)

	sub := events.NewChanSubscriber(4)
	h.bus.Subscribe(o.ID, "s", sub)
	_, err = h.e.RecordDriverLocation(ctx, "d1", models.LocationSample{Lat: 30, Lng: 31, Timestamp: h.now()})
	require.NoError(t, err)
	update := (<-sub.C()).Payload.(models.LocationUpdate)
	require.True(t, update.ETAFallback)
	require.Equal(t, 15, update.ETAMinutes)
}

func TestBroadcastRequiresStaff(t *testing.T) {
	h := newHarness(t)
	o := h.order(t)
	_, err := h.e.BroadcastToAvailableDrivers(context.Background(), o.ID, customer)
	require.ErrorIs(t, err, lifecycle.ErrForbiddenTransition)
}

func TestExpireBroadcasts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.order(t)
	h.toReady(t, o.ID)
	sub := events.NewChanSubscriber(4)
	h.bus.Subscribe(o.ID, "admin", sub)

	_, err := h.e.BroadcastToAvailableDrivers(ctx, o.ID, staff)
	require.NoError(t, err)
	h.advance(time.Minute)
	require.Equal(t, 1, h.e.ExpireBroadcasts(ctx))
	require.Equal(t, models.EventUnassignedTimeout, (<-sub.C()).Type)

	_, err = h.e.AcceptOrder(ctx, o.ID, "d1")
	require.True(t, errors.Is(err, matcher.ErrNotBroadcast))
}

func TestCheckout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.e.Checkout(ctx, "", "addr", nil, customer)
	require.ErrorIs(t, err, ErrEmptyCart)

	partner := models.ItemOrigin{Source: models.SourcePartner, PartnerID: "print-co"}
	_, conflict, err := h.e.AddCartItem("c1", models.CartItem{ProductID: "mug", Quantity: 2, UnitPrice: 80, Origin: partner})
	require.NoError(t, err)
	require.Nil(t, conflict)
	_, conflict, err = h.e.AddCartItem("c1", models.CartItem{ProductID: "pen", Quantity: 1, UnitPrice: 5, Origin: models.ItemOrigin{Source: models.SourceStore}})
	require.NoError(t, err)
	require.NotNil(t, conflict)

	o, err := h.e.Checkout(ctx, "", "addr", cairo, customer)
	require.NoError(t, err)
	require.Equal(t, models.SourcePartner, o.Source)
	require.Equal(t, "print-co", o.PartnerID)
	require.InDelta(t, 160.0, o.TotalAmount, 1e-9)
	require.True(t, h.e.GetCart("c1").Empty())
}

// createHook runs before every order is stored.
type createHook struct {
	storage.OrderStore
	before func() error
}

func (s *createHook) Create(ctx context.Context, o models.Order) error {
	if err := s.before(); err != nil {
		return err
	}
	return s.OrderStore.Create(ctx, o)
}

func TestCheckout_ItemsAddedDuringCheckoutStayInCart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	store := models.ItemOrigin{Source: models.SourceStore}
	_, _, err := h.e.AddCartItem("c1", models.CartItem{ProductID: "mug", Quantity: 1, UnitPrice: 80, Origin: store})
	require.NoError(t, err)

	h.e.store = &createHook{OrderStore: h.e.store, before: func() error {
		_, conflict, err := h.e.AddCartItem("c1", models.CartItem{ProductID: "pen", Quantity: 1, UnitPrice: 5, Origin: store})
		require.NoError(t, err)
		require.Nil(t, conflict)
		return nil
	}}

	o, err := h.e.Checkout(ctx, "", "addr", cairo, customer)
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "mug", o.Items[0].ProductID)
	assert.InDelta(t, 80.0, o.TotalAmount, 1e-9)

	c := h.e.GetCart("c1")
	require.Len(t, c.Items, 1)
	assert.Equal(t, "pen", c.Items[0].ProductID)
}

func TestCheckout_FailedOrderRestoresCart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, err := h.e.AddCartItem("c1", models.CartItem{ProductID: "mug", Quantity: 2, UnitPrice: 80, Origin: models.ItemOrigin{Source: models.SourceStore}})
	require.NoError(t, err)

	boom := errors.New("store down")
	h.e.store = &createHook{OrderStore: h.e.store, before: func() error { return boom }}
	_, err = h.e.Checkout(ctx, "", "addr", cairo, customer)
	require.ErrorIs(t, err, boom)

	c := h.e.GetCart("c1")
	require.Len(t, c.Items, 1)
	assert.Equal(t, 2, c.Items[0].Quantity)
	assert.Equal(t, models.SourceStore, c.Source)
}

func TestUpdateOrderStatus_UnknownStatusMessage(t *testing.T) {
	h := newHarness(t)
	o := h.order(t)
	_, err := h.e.UpdateOrderStatus(context.Background(), o.ID, "lost", staff, "")
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
	assert.NotContains(t, err.Error(), "->")
	assert.Contains(t, err.Error(), `"lost"`)
}
