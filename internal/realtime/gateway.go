// Package realtime serves WebSocket sessions that follow orders and driver
// offer channels on the event bus.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/order-engine/internal/events"
	"github.com/example/order-engine/internal/models"
	"github.com/example/order-engine/internal/observability"
)

const maxFrameBytes = 4096

// Broker is the subscription side of the event bus.
type Broker interface {
	Subscribe(channel, sessionID string, sub events.Subscriber) events.Handle
	Unsubscribe(h events.Handle) bool
}

// SnapshotFunc loads the current state of an order for a subscribing session.
type SnapshotFunc func(ctx context.Context, orderID string) (models.Order, error)

type Options struct {
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	SendBuffer   int
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool
	Logger      *slog.Logger
}

func (o *Options) defaults() {
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(*http.Request) bool { return true }
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Gateway tracks live sessions and bridges them to the bus.
type Gateway struct {
	broker   Broker
	snapshot SnapshotFunc
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

func NewGateway(broker Broker, snapshot SnapshotFunc, opts Options) *Gateway {
	opts.defaults()
	return &Gateway{
		broker:   broker,
		snapshot: snapshot,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		logger:   opts.Logger,
		sessions: make(map[string]*session),
	}
}

// ServeWS upgrades the request and runs the session until the peer goes away.
// The session is subscribed to channels up front, e.g. a driver's offer channel.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request, actor models.Actor, channels ...string) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("ws_upgrade_failed", "error", err)
		return
	}
	s := &session{
		id:      uuid.NewString(),
		actor:   actor,
		conn:    conn,
		gw:      g,
		send:    make(chan any, g.opts.SendBuffer),
		handles: make(map[string]events.Handle),
		done:    make(chan struct{}),
	}
	if !g.add(s) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	for _, ch := range channels {
		s.subscribe(ch)
	}
	g.logger.Info("ws_connected", "session_id", s.id, "actor_role", actor.Role, "actor_id", actor.ID)

	go s.writePump()
	s.readPump(r.Context())
}

// SessionCount returns the number of connected sessions.
func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Close disconnects every session and refuses new ones.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	all := make([]*session, 0, len(g.sessions))
	for _, s := range g.sessions {
		all = append(all, s)
	}
	g.mu.Unlock()

	deadline := time.Now().Add(g.opts.WriteWait)
	for _, s := range all {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), deadline)
		s.close()
	}
}

func (g *Gateway) add(s *session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.sessions[s.id] = s
	observability.WSSessions.Inc()
	return true
}

func (g *Gateway) remove(s *session) {
	g.mu.Lock()
	_, ok := g.sessions[s.id]
	delete(g.sessions, s.id)
	g.mu.Unlock()
	if ok {
		observability.WSSessions.Dec()
		g.logger.Info("ws_disconnected", "session_id", s.id, "actor_id", s.actor.ID)
	}
}
