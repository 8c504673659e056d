package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/example/order-engine/internal/auth"
	"github.com/example/order-engine/internal/engine"
	"github.com/example/order-engine/internal/events"
	"github.com/example/order-engine/internal/models"
	"github.com/example/order-engine/internal/realtime"
)

func actorOf(r *http.Request) models.Actor {
	a, _ := auth.ActorFrom(r.Context())
	return a
}

// ownsOrStaff reports whether actor may act on the resource owned by id.
func ownsOrStaff(actor models.Actor, role models.ActorRole, id string) bool {
	return actor.Role.IsStaff() || (actor.Role == role && actor.ID == id)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var in engine.NewOrder
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	actor := actorOf(r)
	if actor.Role == models.RoleDriver {
		s.writeError(w, r, errForbidden)
		return
	}
	o, err := s.engine.CreateOrder(r.Context(), in, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

type checkoutRequest struct {
	CustomerID          string        `json:"customer_id"`
	DeliveryAddress     string        `json:"delivery_address"`
	DeliveryCoordinates *models.Coord `json:"delivery_coordinates,omitempty"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	actor := actorOf(r)
	if actor.Role == models.RoleDriver {
		s.writeError(w, r, errForbidden)
		return
	}
	o, err := s.engine.Checkout(r.Context(), req.CustomerID, req.DeliveryAddress, req.DeliveryCoordinates, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !realtime.CanView(actorOf(r), o) {
		s.writeError(w, r, errForbidden)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type statusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.engine.UpdateOrderStatus(r.Context(), mux.Vars(r)["id"], req.Status, actorOf(r), req.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	offered, err := s.engine.BroadcastToAvailableDrivers(r.Context(), id, actorOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if offered == nil {
		offered = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": id, "offered_driver_ids": offered})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	if actor.Role != models.RoleDriver {
		s.writeError(w, r, errForbidden)
		return
	}
	o, err := s.engine.AcceptOrder(r.Context(), mux.Vars(r)["id"], actor.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type assignRequest struct {
	DriverID string `json:"driver_id"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.engine.AssignDriver(r.Context(), mux.Vars(r)["id"], req.DriverID, actorOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type driverStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleDriverStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !ownsOrStaff(actorOf(r), models.RoleDriver, id) {
		s.writeError(w, r, errForbidden)
		return
	}
	var req driverStatusRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.engine.SetDriverStatus(r.Context(), id, req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !ownsOrStaff(actorOf(r), models.RoleDriver, id) {
		s.writeError(w, r, errForbidden)
		return
	}
	var sample models.LocationSample
	if err := decode(r, &sample); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.engine.RecordDriverLocation(r.Context(), id, sample); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAvailableDrivers(w http.ResponseWriter, r *http.Request) {
	if !actorOf(r).Role.IsStaff() {
		s.writeError(w, r, errForbidden)
		return
	}
	q := r.URL.Query()
	var near *models.Coord
	if q.Get("lat") != "" || q.Get("lng") != "" {
		c, err := coordFromQuery(q)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		near = &c
	}
	limit, err := limitFromQuery(q, 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list := s.engine.ListAvailableDrivers(near, limit)
	if list == nil {
		list = []models.Driver{}
	}
	writeJSON(w, http.StatusOK, list)
}

// handleFleetNearby reads the Redis GEO mirror, which also holds drivers the
// local pool has not seen, e.g. samples ingested by other replicas.
func (s *Server) handleFleetNearby(w http.ResponseWriter, r *http.Request) {
	if !actorOf(r).Role.IsStaff() {
		s.writeError(w, r, errForbidden)
		return
	}
	if s.fleet == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "unavailable", Message: "location read model is not configured"})
		return
	}
	q := r.URL.Query()
	c, err := coordFromQuery(q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	radius := 5.0
	if v := q.Get("radius_km"); v != "" {
		if radius, err = strconv.ParseFloat(v, 64); err != nil || radius <= 0 {
			s.writeError(w, r, fmt.Errorf("%w: radius_km must be positive", errBadRequest))
			return
		}
	}
	limit, err := limitFromQuery(q, 20)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hits, err := s.fleet.Nearby(r.Context(), c, radius, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func coordFromQuery(q url.Values) (models.Coord, error) {
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	c := models.Coord{Lat: lat, Lng: lng}
	if errLat != nil || errLng != nil || !c.Valid() {
		return c, fmt.Errorf("%w: lat and lng must be valid coordinates", errBadRequest)
	}
	return c, nil
}

func limitFromQuery(q url.Values, def int) (int, error) {
	v := q.Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest)
	}
	return n, nil
}

func (s *Server) handleDriverOffers(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !ownsOrStaff(actorOf(r), models.RoleDriver, id) {
		s.writeError(w, r, errForbidden)
		return
	}
	offers := s.engine.PendingOffers(id)
	if offers == nil {
		offers = []models.OrderOffer{}
	}
	writeJSON(w, http.StatusOK, offers)
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["customer_id"]
	if !ownsOrStaff(actorOf(r), models.RoleCustomer, id) {
		s.writeError(w, r, errForbidden)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.GetCart(id))
}

func (s *Server) handleAddCartItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["customer_id"]
	if !ownsOrStaff(actorOf(r), models.RoleCustomer, id) {
		s.writeError(w, r, errForbidden)
		return
	}
	var item models.CartItem
	if err := decode(r, &item); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, conflict, err := s.engine.AddCartItem(id, item)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if conflict != nil {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":    "cart_conflict",
			"conflict": conflict,
			"cart":     c,
		})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleSwitchCart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["customer_id"]
	if !ownsOrStaff(actorOf(r), models.RoleCustomer, id) {
		s.writeError(w, r, errForbidden)
		return
	}
	var item models.CartItem
	if err := decode(r, &item); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.engine.ClearAndSwitchCart(id, item)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["customer_id"]
	if !ownsOrStaff(actorOf(r), models.RoleCustomer, id) {
		s.writeError(w, r, errForbidden)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.RemoveCartItem(id, vars["product_id"]))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.gateway.ServeWS(w, r, actorOf(r))
}

// handleDriverWS opens a session already subscribed to the driver's offer channel.
func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	if !ownsOrStaff(actorOf(r), models.RoleDriver, id) {
		s.writeError(w, r, errForbidden)
		return
	}
	s.gateway.ServeWS(w, r, actorOf(r), events.DriverChannel(id))
}
