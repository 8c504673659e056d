package events

import (
	"time"

	"github.com/example/order-engine/internal/models"
)

func StatusUpdate(sc models.StatusChange) models.Event {
	return models.Event{Type: models.EventOrderStatusUpdate, OrderID: sc.OrderID, Payload: sc, Timestamp: sc.Timestamp}
}

func Assigned(orderID string, a models.Assignment) models.Event {
	return models.Event{Type: models.EventOrderAssigned, OrderID: orderID, Payload: a, Timestamp: a.At}
}

func LocationUpdate(orderID string, u models.LocationUpdate, at time.Time) models.Event {
	return models.Event{Type: models.EventDriverLocationUpdate, OrderID: orderID, Payload: u, Timestamp: at}
}

func Unassigned(orderID string, u models.UnassignedTimeout, at time.Time) models.Event {
	return models.Event{Type: models.EventUnassignedTimeout, OrderID: orderID, Payload: u, Timestamp: at}
}

func Offer(o models.OrderOffer, at time.Time) models.Event {
	return models.Event{Type: models.EventOrderOffer, OrderID: o.OrderID, Payload: o, Timestamp: at}
}
