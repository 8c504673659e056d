package lifecycle

import (
	"time"

	"github.com/example/order-engine/internal/models"
)

// Machine validates and applies order status transitions. It holds no order
// state and never publishes; callers own persistence and fan-out.
type Machine struct {
	// Locale is used for StatusText when the order carries none.
	Locale string
	Now    func() time.Time
}

func NewMachine(locale string) *Machine {
	return &Machine{Locale: locale, Now: func() time.Time { return time.Now().UTC() }}
}

// Result is the outcome of a successful Transition. Event is nil when the
// order was already in the target status.
type Result struct {
	Order models.Order
	Event *models.StatusChange
}

// Transition moves order to target on behalf of actor. On error the returned
// result carries the untouched order.
func (m *Machine) Transition(order models.Order, target models.OrderStatus, actor models.Actor, notes string) (Result, error) {
	if !Valid(target) {
		return Result{Order: order}, &TransitionError{From: order.Status, To: target, Role: actor.Role, Reason: "unknown target status", Err: ErrInvalidTransition}
	}
	if order.Status == target {
		return Result{Order: order}, nil
	}
	g, ok := transitions[order.Status][target]
	if !ok {
		return Result{Order: order}, &TransitionError{From: order.Status, To: target, Role: actor.Role, Err: ErrInvalidTransition}
	}
	if target.RequiresDriver() && order.AssignedDriverID == "" {
		return Result{Order: order}, &TransitionError{From: order.Status, To: target, Role: actor.Role, Reason: "no driver bound", Err: ErrInvalidTransition}
	}
	if !g.permits(order, actor) {
		return Result{Order: order}, &TransitionError{From: order.Status, To: target, Role: actor.Role, Err: ErrForbiddenTransition}
	}

	now := m.now()
	next := order.Clone()
	prev := next.Status
	next.Status = target
	if !target.RequiresDriver() {
		next.AssignedDriverID = ""
	}
	next.StatusText = StatusText(target, m.locale(next))
	next.UpdatedAt = now
	next.StatusHistory = append(next.StatusHistory, models.StatusEntry{
		Status:    target,
		ActorRole: actor.Role,
		ActorID:   actor.ID,
		Timestamp: now,
		Notes:     notes,
	})

	return Result{
		Order: next,
		Event: &models.StatusChange{
			OrderID:        next.ID,
			PreviousStatus: prev,
			NewStatus:      target,
			StatusText:     next.StatusText,
			ActorRole:      actor.Role,
			ActorID:        actor.ID,
			Timestamp:      now,
			Notes:          notes,
		},
	}, nil
}

// Init stamps a freshly created order with its initial pending status.
func (m *Machine) Init(order models.Order, actor models.Actor) models.Order {
	now := m.now()
	next := order.Clone()
	next.Status = models.StatusPending
	next.AssignedDriverID = ""
	next.StatusText = StatusText(models.StatusPending, m.locale(next))
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.UpdatedAt = now
	next.StatusHistory = []models.StatusEntry{{
		Status:    models.StatusPending,
		ActorRole: actor.Role,
		ActorID:   actor.ID,
		Timestamp: now,
	}}
	return next
}

func (m *Machine) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

func (m *Machine) locale(o models.Order) string {
	if o.Locale != "" {
		return o.Locale
	}
	return m.Locale
}
