package models

type DriverStatus string

const (
	DriverOffline DriverStatus = "offline"
	DriverOnline  DriverStatus = "online"
	DriverBusy    DriverStatus = "busy"
)

func (s DriverStatus) Valid() bool {
	switch s {
	case DriverOffline, DriverOnline, DriverBusy:
		return true
	default:
		return false
	}
}

// Driver is a point-in-time view of a captain as tracked by the driver pool.
type Driver struct {
	ID                string          `json:"id"`
	Name              string          `json:"name,omitempty"`
	Status            DriverStatus    `json:"status"`
	IsAvailable       bool            `json:"is_available"`
	CurrentOrderIDs   []string        `json:"current_order_ids"`
	LastKnownLocation *LocationSample `json:"last_known_location,omitempty"`
	Rating            float64         `json:"rating"` // 0..5
	Stale             bool            `json:"stale"`
}

// HasOrder reports whether orderID is currently bound to the driver.
func (d Driver) HasOrder(orderID string) bool {
	for _, id := range d.CurrentOrderIDs {
		if id == orderID {
			return true
		}
	}
	return false
}
