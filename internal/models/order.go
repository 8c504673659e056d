package models

import "time"

// OrderStatus is the canonical lifecycle stage of an order.
type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusConfirmed      OrderStatus = "confirmed"
	StatusProcessing     OrderStatus = "processing"
	StatusReady          OrderStatus = "ready"
	StatusDriverAssigned OrderStatus = "driver_assigned"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
)

func (s OrderStatus) String() string { return string(s) }

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// RequiresDriver reports whether an order in this status must carry an assigned driver.
func (s OrderStatus) RequiresDriver() bool {
	switch s {
	case StatusDriverAssigned, StatusOutForDelivery, StatusDelivered:
		return true
	default:
		return false
	}
}

type StatusEntry struct {
	Status    OrderStatus `json:"status"`
	ActorRole ActorRole   `json:"actor_role"`
	ActorID   string      `json:"actor_id"`
	Timestamp time.Time   `json:"timestamp"`
	Notes     string      `json:"notes,omitempty"`
}

type Order struct {
	ID                  string        `json:"id"`
	Status              OrderStatus   `json:"status"`
	StatusText          string        `json:"status_text"`
	CustomerID          string        `json:"customer_id"`
	AssignedDriverID    string        `json:"assigned_driver_id,omitempty"`
	DeliveryAddress     string        `json:"delivery_address"`
	DeliveryCoordinates *Coord        `json:"delivery_coordinates,omitempty"`
	TotalAmount         float64       `json:"total_amount"`
	Currency            string        `json:"currency,omitempty"`
	Source              CartSource    `json:"source,omitempty"`
	PartnerID           string        `json:"partner_id,omitempty"`
	Items               []CartItem    `json:"items,omitempty"`
	Locale              string        `json:"locale,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
	StatusHistory       []StatusEntry `json:"status_history"`
}

// Clone returns a copy that shares no slices or pointers with o.
func (o Order) Clone() Order {
	out := o
	if o.DeliveryCoordinates != nil {
		c := *o.DeliveryCoordinates
		out.DeliveryCoordinates = &c
	}
	if o.Items != nil {
		out.Items = append([]CartItem(nil), o.Items...)
	}
	if o.StatusHistory != nil {
		out.StatusHistory = append([]StatusEntry(nil), o.StatusHistory...)
	}
	return out
}
