package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies inside WGS84 bounds.
func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

type ActorRole string

const (
	RoleCustomer ActorRole = "customer"
	RoleStaff    ActorRole = "staff"
	RoleAdmin    ActorRole = "admin"
	RoleDriver   ActorRole = "driver"
)

func (r ActorRole) Valid() bool {
	switch r {
	case RoleCustomer, RoleStaff, RoleAdmin, RoleDriver:
		return true
	default:
		return false
	}
}

// IsStaff reports whether the role belongs to the back office (staff or admin).
func (r ActorRole) IsStaff() bool {
	return r == RoleStaff || r == RoleAdmin
}

// Actor is the authenticated caller of a command.
type Actor struct {
	Role ActorRole `json:"role"`
	ID   string    `json:"id"`
}

// LocationSample is a single GPS ping from a driver app.
type LocationSample struct {
	DriverID  string    `json:"driver_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
	Speed     *float64  `json:"speed,omitempty"`   // km/h
	Heading   *float64  `json:"heading,omitempty"` // degrees, 0-360
}

func (s LocationSample) Coord() Coord { return Coord{Lat: s.Lat, Lng: s.Lng} }
