package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/order-engine/internal/auth"
	"github.com/example/order-engine/internal/engine"
	"github.com/example/order-engine/internal/geo"
	"github.com/example/order-engine/internal/models"
	"github.com/example/order-engine/internal/realtime"
)

// FleetLocator answers radius queries against the Redis location read model.
type FleetLocator interface {
	Nearby(ctx context.Context, c models.Coord, radiusKm float64, limit int) ([]geo.NearbyDriver, error)
}

type Server struct {
	engine  *engine.Engine
	gateway *realtime.Gateway
	auth    *auth.Authenticator
	fleet   FleetLocator
	logger  *slog.Logger
	mux     *mux.Router
}

func NewServer(eng *engine.Engine, gw *realtime.Gateway, authn *auth.Authenticator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if authn == nil {
		authn = auth.NewAuthenticator("", 0)
	}
	s := &Server{
		engine:  eng,
		gateway: gw,
		auth:    authn,
		logger:  logger,
		mux:     mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/checkout", s.handleCheckout).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/status", s.handleUpdateStatus).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/broadcast", s.handleBroadcast).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/accept", s.handleAccept).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/assign", s.handleAssign).Methods(http.MethodPost)

	api.HandleFunc("/drivers/available", s.handleAvailableDrivers).Methods(http.MethodGet)
	api.HandleFunc("/drivers/{id}/status", s.handleDriverStatus).Methods(http.MethodPut)
	api.HandleFunc("/drivers/{id}/locations", s.handleDriverLocation).Methods(http.MethodPost)
	api.HandleFunc("/drivers/{id}/offers", s.handleDriverOffers).Methods(http.MethodGet)
	api.HandleFunc("/fleet/nearby", s.handleFleetNearby).Methods(http.MethodGet)

	api.HandleFunc("/carts/{customer_id}", s.handleGetCart).Methods(http.MethodGet)
	api.HandleFunc("/carts/{customer_id}/items", s.handleAddCartItem).Methods(http.MethodPost)
	api.HandleFunc("/carts/{customer_id}/items/{product_id}", s.handleRemoveCartItem).Methods(http.MethodDelete)
	api.HandleFunc("/carts/{customer_id}/switch", s.handleSwitchCart).Methods(http.MethodPost)

	s.mux.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	s.mux.HandleFunc("/ws/drivers/{driver_id}", s.handleDriverWS).Methods(http.MethodGet)
}

// WithFleet enables /api/v1/fleet/nearby.
func (s *Server) WithFleet(f FleetLocator) *Server {
	s.fleet = f
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// public routes skip authentication
func isPublic(path string) bool {
	return path == "/healthz" || path == "/metrics"
}
