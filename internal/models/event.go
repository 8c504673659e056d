package models

import "time"

type EventType string

const (
	EventOrderStatusUpdate    EventType = "order_status_update"
	EventDriverLocationUpdate EventType = "driver_location_update"
	EventOrderAssigned        EventType = "order_assigned"
	EventUnassignedTimeout    EventType = "unassigned_timeout"
	// EventOrderOffer is published on a driver's own channel when an order is broadcast.
	EventOrderOffer EventType = "order_offer"
)

// Event is the canonical fan-out unit and doubles as the server->client frame.
type Event struct {
	Type      EventType `json:"type"`
	OrderID   string    `json:"orderId"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusChange is produced by the state machine for every applied transition.
type StatusChange struct {
	OrderID        string      `json:"orderId"`
	PreviousStatus OrderStatus `json:"previousStatus"`
	NewStatus      OrderStatus `json:"newStatus"`
	StatusText     string      `json:"statusText"`
	ActorRole      ActorRole   `json:"actorRole"`
	ActorID        string      `json:"actorId"`
	Timestamp      time.Time   `json:"timestamp"`
	Notes          string      `json:"notes,omitempty"`
	ETAMinutes     *int        `json:"etaMinutes,omitempty"`
}

type LocationUpdate struct {
	DriverID    string   `json:"driverId"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Speed       *float64 `json:"speed,omitempty"`
	Heading     *float64 `json:"heading,omitempty"`
	ETAMinutes  int      `json:"etaMinutes"`
	ETAFallback bool     `json:"etaFallback"`
}

type Assignment struct {
	DriverID string    `json:"driverId"`
	Mode     string    `json:"mode"` // "broadcast" or "direct"
	ActorID  string    `json:"actorId,omitempty"`
	At       time.Time `json:"at"`
}

type UnassignedTimeout struct {
	BroadcastAt    time.Time `json:"broadcastAt"`
	Deadline       time.Time `json:"deadline"`
	OfferedDrivers []string  `json:"offeredDrivers"`
}

type OrderOffer struct {
	OrderID         string    `json:"orderId"`
	DeliveryAddress string    `json:"deliveryAddress"`
	DistanceKm      *float64  `json:"distanceKm,omitempty"`
	TotalAmount     float64   `json:"totalAmount"`
	ExpiresAt       time.Time `json:"expiresAt"`
}
