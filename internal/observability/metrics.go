package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "order_engine"

var (
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "transitions_total", Help: "Applied order status transitions"},
		[]string{"from", "to"},
	)
	TransitionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "transition_rejections_total", Help: "Rejected order status transitions"},
		[]string{"reason"},
	)
	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "assignments_total", Help: "Drivers bound to orders"},
		[]string{"mode"},
	)
	AssignmentConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "assignment_conflicts_total", Help: "Lost assignment races and unavailable drivers"},
		[]string{"reason"},
	)
	BroadcastsTotal         = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "broadcasts_total", Help: "Orders broadcast to drivers"})
	UnassignedTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "unassigned_timeouts_total", Help: "Broadcasts that expired without an accepting driver"})

	CartConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "cart_conflicts_total", Help: "Cart additions refused because of a source mismatch"},
		[]string{"type"},
	)

	DriversOnline    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_online", Help: "Number of online drivers"})
	DriversBusy      = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_busy", Help: "Number of drivers at their concurrency cap"})
	DriversStale     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_stale", Help: "Online drivers whose last location is older than the freshness threshold"})
	LocationsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "locations_out_of_order_total", Help: "Location samples older than the last known one"})

	WSSessions      = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ws_sessions", Help: "Connected WebSocket sessions"})
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Events published on the bus"},
		[]string{"kind"},
	)
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "events_dropped_total", Help: "Deliveries dropped because a session queue was full"})
	OutboxErrors  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "outbox_errors_total", Help: "Events or samples the Kafka producer failed to write"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
