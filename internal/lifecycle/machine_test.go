package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/order-engine/internal/models"
)

var (
	admin    = models.Actor{Role: models.RoleAdmin, ID: "admin-1"}
	staff    = models.Actor{Role: models.RoleStaff, ID: "staff-1"}
	driverA  = models.Actor{Role: models.RoleDriver, ID: "drv-a"}
	driverB  = models.Actor{Role: models.RoleDriver, ID: "drv-b"}
	customer = models.Actor{Role: models.RoleCustomer, ID: "cust-1"}
)

var allStatuses = []models.OrderStatus{
	models.StatusPending, models.StatusConfirmed, models.StatusProcessing, models.StatusReady,
	models.StatusDriverAssigned, models.StatusOutForDelivery, models.StatusDelivered, models.StatusCancelled,
}

func fixedMachine() *Machine {
	m := NewMachine("en")
	t0 := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return t0 }
	return m
}

func orderIn(status models.OrderStatus, driverID string) models.Order {
	return models.Order{
		ID:               "ord-1",
		Status:           status,
		CustomerID:       "cust-1",
		AssignedDriverID: driverID,
		StatusHistory:    []models.StatusEntry{{Status: status}},
	}
}

func driverFor(s models.OrderStatus) string {
	if s.RequiresDriver() {
		return "drv-a"
	}
	return ""
}

func TestTransition_UnlistedPairsAreInvalid(t *testing.T) {
	m := fixedMachine()
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			if from == to || Reachable(from, to) {
				continue
			}
			o := orderIn(from, driverFor(from))
			for _, actor := range []models.Actor{admin, staff, driverA, customer} {
				res, err := m.Transition(o, to, actor, "")
				require.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s as %s", from, to, actor.Role)
				require.Equal(t, o, res.Order)
				require.Nil(t, res.Event)
			}
		}
	}
}

func TestTransition_TerminalStatesHaveNoExits(t *testing.T) {
	assert.Empty(t, Allowed(models.StatusDelivered))
	assert.Empty(t, Allowed(models.StatusCancelled))
	assert.ElementsMatch(t, []models.OrderStatus{models.StatusConfirmed, models.StatusProcessing, models.StatusCancelled}, Allowed(models.StatusPending))
}

func TestTransition_AdminCannotDeliver(t *testing.T) {
	m := fixedMachine()
	o := orderIn(models.StatusOutForDelivery, "drv-a")

	for _, actor := range []models.Actor{admin, staff} {
		res, err := m.Transition(o, models.StatusDelivered, actor, "")
		require.ErrorIs(t, err, ErrForbiddenTransition)
		require.Equal(t, o, res.Order)

		var te *TransitionError
		require.True(t, errors.As(err, &te))
		require.Equal(t, actor.Role, te.Role)
	}

	res, err := m.Transition(o, models.StatusDelivered, driverA, "left at door")
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, res.Order.Status)
	require.Equal(t, "drv-a", res.Order.AssignedDriverID)
	require.Equal(t, "Delivered", res.Order.StatusText)
}

func TestTransition_OnlyAssignedDriver(t *testing.T) {
	m := fixedMachine()
	o := orderIn(models.StatusDriverAssigned, "drv-a")

	_, err := m.Transition(o, models.StatusOutForDelivery, driverB, "")
	require.ErrorIs(t, err, ErrForbiddenTransition)
	_, err = m.Transition(o, models.StatusOutForDelivery, admin, "")
	require.ErrorIs(t, err, ErrForbiddenTransition)

	res, err := m.Transition(o, models.StatusOutForDelivery, driverA, "")
	require.NoError(t, err)
	require.Equal(t, models.StatusOutForDelivery, res.Order.Status)
}

func TestTransition_StaffDrivesKitchenStages(t *testing.T) {
	m := fixedMachine()
	o := orderIn(models.StatusPending, "")

	_, err := m.Transition(o, models.StatusConfirmed, driverA, "")
	require.ErrorIs(t, err, ErrForbiddenTransition)
	_, err = m.Transition(o, models.StatusConfirmed, customer, "")
	require.ErrorIs(t, err, ErrForbiddenTransition)

	preparing, _ := ParseStatus("preparing")
	res, err := m.Transition(o, preparing, staff, "")
	require.NoError(t, err)
	require.Equal(t, models.StatusProcessing, res.Order.Status)

	printing, _ := ParseStatus("printing")
	again, err := m.Transition(res.Order, printing, staff, "")
	require.NoError(t, err)
	require.Nil(t, again.Event, "preparing and printing are the same canonical stage")
}

func TestTransition_CancellationRights(t *testing.T) {
	m := fixedMachine()

	for _, from := range []models.OrderStatus{models.StatusPending, models.StatusConfirmed, models.StatusProcessing, models.StatusReady, models.StatusDriverAssigned, models.StatusOutForDelivery} {
		res, err := m.Transition(orderIn(from, driverFor(from)), models.StatusCancelled, admin, "")
		require.NoError(t, err, from)
		require.Empty(t, res.Order.AssignedDriverID, "cancel must unbind the driver")
	}

	_, err := m.Transition(orderIn(models.StatusOutForDelivery, "drv-a"), models.StatusCancelled, driverA, "")
	require.NoError(t, err)
	_, err = m.Transition(orderIn(models.StatusReady, ""), models.StatusCancelled, driverA, "")
	require.ErrorIs(t, err, ErrForbiddenTransition)

	_, err = m.Transition(orderIn(models.StatusPending, ""), models.StatusCancelled, customer, "")
	require.NoError(t, err)
	_, err = m.Transition(orderIn(models.StatusConfirmed, ""), models.StatusCancelled, customer, "")
	require.ErrorIs(t, err, ErrForbiddenTransition)
	other := models.Actor{Role: models.RoleCustomer, ID: "someone-else"}
	_, err = m.Transition(orderIn(models.StatusPending, ""), models.StatusCancelled, other, "")
	require.ErrorIs(t, err, ErrForbiddenTransition)
}

func TestTransition_DriverAssignedNeedsBinding(t *testing.T) {
	m := fixedMachine()
	_, err := m.Transition(orderIn(models.StatusReady, ""), models.StatusDriverAssigned, admin, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	res, err := m.Transition(orderIn(models.StatusReady, "drv-a"), models.StatusDriverAssigned, driverA, "")
	require.NoError(t, err)
	require.Equal(t, "drv-a", res.Order.AssignedDriverID)
}

func TestTransition_Idempotent(t *testing.T) {
	m := fixedMachine()
	o := orderIn(models.StatusCancelled, "")
	res, err := m.Transition(o, models.StatusCancelled, admin, "")
	require.NoError(t, err)
	require.Nil(t, res.Event)
	require.Equal(t, o, res.Order)
	require.Len(t, res.Order.StatusHistory, 1)
}

func TestTransition_HistoryAndEvent(t *testing.T) {
	m := fixedMachine()
	o := orderIn(models.StatusPending, "")
	res, err := m.Transition(o, models.StatusConfirmed, admin, "paid")
	require.NoError(t, err)

	require.Len(t, o.StatusHistory, 1, "input order must not be mutated")
	require.Len(t, res.Order.StatusHistory, 2)
	last := res.Order.StatusHistory[1]
	assert.Equal(t, models.StatusConfirmed, last.Status)
	assert.Equal(t, models.RoleAdmin, last.ActorRole)
	assert.Equal(t, "admin-1", last.ActorID)
	assert.Equal(t, "paid", last.Notes)

	require.NotNil(t, res.Event)
	assert.Equal(t, "ord-1", res.Event.OrderID)
	assert.Equal(t, models.StatusPending, res.Event.PreviousStatus)
	assert.Equal(t, models.StatusConfirmed, res.Event.NewStatus)
	assert.Equal(t, m.Now(), res.Event.Timestamp)
}

func TestTransition_LocaleText(t *testing.T) {
	m := fixedMachine()
	o := orderIn(models.StatusPending, "")
	o.Locale = "ar-EG"
	res, err := m.Transition(o, models.StatusConfirmed, admin, "")
	require.NoError(t, err)
	require.Equal(t, "تم التأكيد", res.Order.StatusText)
	require.Equal(t, "Confirmed", StatusText(models.StatusConfirmed, "fr"))
}

func TestTransition_UnknownTarget(t *testing.T) {
	m := fixedMachine()
	_, err := m.Transition(orderIn(models.StatusPending, ""), models.OrderStatus("shipped"), admin, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionError_Message(t *testing.T) {
	err := &TransitionError{To: "lost", Reason: "unknown status", Err: ErrInvalidTransition}
	require.Equal(t, `invalid transition: "lost" (unknown status)`, err.Error())

	err = &TransitionError{From: models.StatusPending, To: models.StatusDelivered, Err: ErrInvalidTransition}
	require.Equal(t, "invalid transition: pending -> delivered", err.Error())
}

func TestParseStatus(t *testing.T) {
	cases := map[string]models.OrderStatus{
		"reviewing":        models.StatusPending,
		"Preparing":        models.StatusProcessing,
		" printing ":       models.StatusProcessing,
		"out-for-delivery": models.StatusOutForDelivery,
		"canceled":         models.StatusCancelled,
		"delivered":        models.StatusDelivered,
	}
	for in, want := range cases {
		got, err := ParseStatus(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseStatus("lost")
	require.ErrorIs(t, err, ErrUnknownStatus)
}

func TestInit(t *testing.T) {
	m := fixedMachine()
	o := m.Init(models.Order{ID: "o", AssignedDriverID: "x"}, customer)
	require.Equal(t, models.StatusPending, o.Status)
	require.Empty(t, o.AssignedDriverID)
	require.Equal(t, "Under review", o.StatusText)
	require.Len(t, o.StatusHistory, 1)
	require.Equal(t, m.Now(), o.CreatedAt)
}
