package events

import (
	"hash/fnv"
	"sync"

	"github.com/example/order-engine/internal/models"
)

const shardCount = 32

// Subscriber receives events for the channels it subscribed to.
// Deliver must not block; it reports false when the event was dropped.
type Subscriber interface {
	Deliver(e models.Event) bool
}

// Tap observes every published event, e.g. to mirror it to an outbox.
// It must not block.
type Tap interface {
	Forward(e models.Event)
}

// TapFunc adapts a plain function to Tap.
type TapFunc func(e models.Event)

func (f TapFunc) Forward(e models.Event) { f(e) }

// Publisher is the narrow publishing side used by the engine and coordinator.
type Publisher interface {
	Publish(channel string, e models.Event) int
}

// Handle identifies one (channel, session) subscription.
type Handle struct {
	Channel   string
	SessionID string
}

type topic struct {
	mu   sync.Mutex
	subs map[string]Subscriber // keyed by session id
}

type shard struct {
	mu     sync.RWMutex
	topics map[string]*topic
}

// Bus is a per-channel publish/subscribe registry. Channels are order IDs or
// driver channels (see DriverChannel). Delivery is at-most-once with no replay.
type Bus struct {
	shards [shardCount]*shard
	tap    Tap
	onDrop func(models.Event)
}

type Option func(*Bus)

func WithTap(t Tap) Option { return func(b *Bus) { b.tap = t } }

// WithDropHook is called for every delivery a subscriber refused.
func WithDropHook(fn func(models.Event)) Option { return func(b *Bus) { b.onDrop = fn } }

func NewBus(opts ...Option) *Bus {
	b := &Bus{}
	for i := range b.shards {
		b.shards[i] = &shard{topics: make(map[string]*topic)}
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// DriverChannel is the channel carrying offers for one driver.
func DriverChannel(driverID string) string { return "driver:" + driverID }

func (b *Bus) shardFor(channel string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(channel))
	return b.shards[h.Sum32()%shardCount]
}

// Subscribe registers sub on channel for sessionID. Subscribing an existing
// pair keeps the original subscriber and returns the same handle.
func (b *Bus) Subscribe(channel, sessionID string, sub Subscriber) Handle {
	h := Handle{Channel: channel, SessionID: sessionID}
	for {
		t := b.topicFor(channel)
		t.mu.Lock()
		if t.subs == nil {
			// raced with removal of an empty topic; fetch the live one
			t.mu.Unlock()
			continue
		}
		if _, ok := t.subs[sessionID]; !ok {
			t.subs[sessionID] = sub
		}
		t.mu.Unlock()
		return h
	}
}

// Unsubscribe removes the subscription and reports whether it existed.
// Deliveries already in progress on other subscribers are unaffected.
func (b *Bus) Unsubscribe(h Handle) bool {
	s := b.shardFor(h.Channel)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[h.Channel]
	if !ok {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[h.SessionID]; !ok {
		return false
	}
	delete(t.subs, h.SessionID)
	if len(t.subs) == 0 {
		t.subs = nil
		delete(s.topics, h.Channel)
	}
	return true
}

// Publish delivers e to every current subscriber of channel and returns how many
// accepted it. Publishes on one channel are serialized, so subscribers observe
// them in publish order.
func (b *Bus) Publish(channel string, e models.Event) int {
	if b.tap != nil {
		b.tap.Forward(e)
	}
	s := b.shardFor(channel)
	s.mu.RLock()
	t, ok := s.topics[channel]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delivered := 0
	for _, sub := range t.subs {
		if sub.Deliver(e) {
			delivered++
		} else if b.onDrop != nil {
			b.onDrop(e)
		}
	}
	return delivered
}

// SubscriberCount returns the number of sessions subscribed to channel.
func (b *Bus) SubscriberCount(channel string) int {
	s := b.shardFor(channel)
	s.mu.RLock()
	t, ok := s.topics[channel]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (b *Bus) topicFor(channel string) *topic {
	s := b.shardFor(channel)
	s.mu.RLock()
	t, ok := s.topics[channel]
	s.mu.RUnlock()
	if ok {
		return t
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok = s.topics[channel]; ok {
		return t
	}
	t = &topic{subs: make(map[string]Subscriber)}
	s.topics[channel] = t
	return t
}
