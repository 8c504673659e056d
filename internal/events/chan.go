package events

import "github.com/example/order-engine/internal/models"

// ChanSubscriber buffers events in a channel and drops them when it is full.
type ChanSubscriber struct {
	ch chan models.Event
}

func NewChanSubscriber(buffer int) *ChanSubscriber {
	return &ChanSubscriber{ch: make(chan models.Event, buffer)}
}

func (c *ChanSubscriber) Deliver(e models.Event) bool {
	select {
	case c.ch <- e:
		return true
	default:
		return false
	}
}

func (c *ChanSubscriber) C() <-chan models.Event { return c.ch }
