package lifecycle

import "github.com/example/order-engine/internal/models"

// gate is the set of actors allowed to drive one edge.
type gate uint8

const (
	gateStaff gate = 1 << iota
	gateAssignedDriver
	gateOwningCustomer
)

var transitions = map[models.OrderStatus]map[models.OrderStatus]gate{
	models.StatusPending: {
		models.StatusConfirmed:  gateStaff,
		models.StatusProcessing: gateStaff, // print flow: reviewing -> preparing
		models.StatusCancelled:  gateStaff | gateOwningCustomer,
	},
	models.StatusConfirmed: {
		models.StatusProcessing: gateStaff,
		models.StatusCancelled:  gateStaff,
	},
	models.StatusProcessing: {
		models.StatusReady:     gateStaff,
		models.StatusCancelled: gateStaff,
	},
	models.StatusReady: {
		models.StatusDriverAssigned: gateStaff | gateAssignedDriver,
		models.StatusCancelled:      gateStaff,
	},
	models.StatusDriverAssigned: {
		models.StatusOutForDelivery: gateAssignedDriver,
		models.StatusCancelled:      gateStaff | gateAssignedDriver,
	},
	models.StatusOutForDelivery: {
		models.StatusDelivered: gateAssignedDriver,
		models.StatusCancelled: gateStaff | gateAssignedDriver,
	},
}

// Allowed lists the statuses reachable from from, in no particular order.
func Allowed(from models.OrderStatus) []models.OrderStatus {
	next := transitions[from]
	out := make([]models.OrderStatus, 0, len(next))
	for to := range next {
		out = append(out, to)
	}
	return out
}

// Reachable reports whether the table has an edge from -> to.
func Reachable(from, to models.OrderStatus) bool {
	_, ok := transitions[from][to]
	return ok
}

func (g gate) permits(o models.Order, actor models.Actor) bool {
	switch {
	case g&gateStaff != 0 && actor.Role.IsStaff():
		return true
	case g&gateAssignedDriver != 0 && actor.Role == models.RoleDriver &&
		actor.ID != "" && actor.ID == o.AssignedDriverID:
		return true
	case g&gateOwningCustomer != 0 && actor.Role == models.RoleCustomer &&
		actor.ID != "" && actor.ID == o.CustomerID:
		return true
	default:
		return false
	}
}
