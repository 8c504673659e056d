package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/example/order-engine/internal/logging"
	"github.com/example/order-engine/internal/models"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducer_ForwardEvent(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw, "order-events", "driver-locations", logging.Discard())

	p.Forward(models.Event{
		Type:      models.EventOrderStatusUpdate,
		OrderID:   "o1",
		Payload:   models.StatusChange{OrderID: "o1", NewStatus: models.StatusConfirmed},
		Timestamp: time.Now(),
	})

	require.Len(t, fw.msgs, 1)
	require.Equal(t, "order-events", fw.msgs[0].Topic)
	require.Equal(t, []byte("o1"), fw.msgs[0].Key)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(fw.msgs[0].Value, &frame))
	require.Equal(t, "order_status_update", frame["type"])
	require.Equal(t, "o1", frame["orderId"])
}

func TestProducer_ForwardSwallowsErrors(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}
	p := newProducerWithWriter(fw, "order-events", "", logging.Discard())
	require.NotPanics(t, func() { p.Forward(models.Event{Type: models.EventOrderAssigned, OrderID: "o1"}) })
}

func TestProducer_PublishLocation(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw, "", "driver-locations", logging.Discard())

	require.NoError(t, p.PublishLocation(context.Background(), models.LocationSample{DriverID: "d1", Lat: 30, Lng: 31}))
	require.Len(t, fw.msgs, 1)
	require.Equal(t, "driver-locations", fw.msgs[0].Topic)
	require.Equal(t, []byte("d1"), fw.msgs[0].Key)

	p.Forward(models.Event{OrderID: "o1"})
	require.Len(t, fw.msgs, 1, "no events topic configured")

	fw.err = errors.New("broker down")
	require.ErrorContains(t, p.PublishLocation(context.Background(), models.LocationSample{DriverID: "d1"}), "kafka publish")

	require.NoError(t, p.Close())
	require.True(t, fw.closed)
}

func TestNewProducer(t *testing.T) {
	p := NewProducer([]string{"localhost:0"}, "e", "l", logging.Discard())
	require.NotNil(t, p)
}
