package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/order-engine/internal/events"
	"github.com/example/order-engine/internal/models"
	"github.com/example/order-engine/internal/storage"
)

// session is one connected client. It is the events.Subscriber for every
// channel the client follows; the write pump is the only writer of conn.
type session struct {
	id    string
	actor models.Actor
	conn  *websocket.Conn
	gw    *Gateway
	send  chan any

	mu      sync.Mutex
	handles map[string]events.Handle // by channel
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

// Deliver enqueues e without blocking. A full queue drops the event.
func (s *session) Deliver(e models.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- e:
		return true
	default:
		return false
	}
}

// reply enqueues a protocol answer. Unlike events it waits for room, bounded by
// the write timeout, since only this session's reader is held up.
func (s *session) reply(f replyFrame) {
	t := time.NewTimer(s.gw.opts.WriteWait)
	defer t.Stop()
	select {
	case s.send <- f:
	case <-s.done:
	case <-t.C:
		s.gw.logger.Warn("ws_reply_dropped", "session_id", s.id, "type", f.Type)
	}
}

// subscribe reports false once the session is closed. Registration happens
// under s.mu so close either sees the handle or subscribe sees closed.
func (s *session) subscribe(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.handles[channel] = s.gw.broker.Subscribe(channel, s.id, s)
	return true
}

func (s *session) unsubscribe(channel string) {
	s.mu.Lock()
	h, ok := s.handles[channel]
	delete(s.handles, channel)
	s.mu.Unlock()
	if ok {
		s.gw.broker.Unsubscribe(h)
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		handles := s.handles
		s.handles = map[string]events.Handle{}
		s.mu.Unlock()
		for _, h := range handles {
			s.gw.broker.Unsubscribe(h)
		}
		_ = s.conn.Close()
		s.gw.remove(s)
	})
}

func (s *session) readPump(ctx context.Context) {
	defer s.close()
	s.conn.SetReadLimit(maxFrameBytes)
	extend := func() { _ = s.conn.SetReadDeadline(time.Now().Add(s.gw.opts.PongWait)) }
	extend()
	s.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.gw.logger.Info("ws_read_error", "session_id", s.id, "error", err)
			}
			return
		}
		extend()

		var f clientFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			s.reply(replyFrame{Type: FrameError, Error: "malformed frame"})
			continue
		}
		s.handle(ctx, f)
	}
}

func (s *session) handle(ctx context.Context, f clientFrame) {
	switch f.Type {
	case FrameSubscribe:
		if f.OrderID == "" {
			s.reply(replyFrame{Type: FrameError, Error: "orderId is required"})
			return
		}
		order, err := s.gw.snapshot(ctx, f.OrderID)
		if err != nil {
			s.reply(replyFrame{Type: FrameError, OrderID: f.OrderID, Error: lookupError(err)})
			return
		}
		if !CanView(s.actor, order) {
			s.reply(replyFrame{Type: FrameError, OrderID: f.OrderID, Error: "forbidden"})
			return
		}
		if !s.subscribe(f.OrderID) {
			return
		}
		// take the snapshot again now that no event can be missed
		if fresh, err := s.gw.snapshot(ctx, f.OrderID); err == nil {
			order = fresh
		}
		s.reply(replyFrame{Type: FrameSubscribed, OrderID: f.OrderID, Order: &order})
	case FrameUnsubscribe:
		s.unsubscribe(f.OrderID)
		s.reply(replyFrame{Type: FrameUnsubscribed, OrderID: f.OrderID})
	case FramePing:
		s.reply(replyFrame{Type: FramePong})
	default:
		s.reply(replyFrame{Type: FrameError, OrderID: f.OrderID, Error: "unknown frame type"})
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(s.gw.opts.PingInterval)
	defer func() {
		ticker.Stop()
		s.close()
	}()
	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.gw.opts.WriteWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.gw.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func lookupError(err error) string {
	if errors.Is(err, storage.ErrNotFound) {
		return "unknown order"
	}
	return "order lookup failed"
}
