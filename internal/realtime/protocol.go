package realtime

import "github.com/example/order-engine/internal/models"

// Client frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
)

// Reply frame types. Bus events are written as models.Event and carry their
// own event type.
const (
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FramePong         = "pong"
	FrameError        = "error"
)

type clientFrame struct {
	Type    string `json:"type"`
	OrderID string `json:"orderId"`
}

type replyFrame struct {
	Type    string        `json:"type"`
	OrderID string        `json:"orderId,omitempty"`
	Order   *models.Order `json:"order,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// CanView reports whether actor may follow order in real time. Staff see
// everything, customers their own orders and drivers the orders bound to them.
func CanView(actor models.Actor, order models.Order) bool {
	switch actor.Role {
	case models.RoleStaff, models.RoleAdmin:
		return true
	case models.RoleCustomer:
		return order.CustomerID == actor.ID
	case models.RoleDriver:
		return order.AssignedDriverID == actor.ID
	default:
		return false
	}
}
