package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/example/order-engine/internal/logging"
	"github.com/example/order-engine/internal/observability"
)

type fakeExpirer struct{ calls atomic.Int32 }

func (f *fakeExpirer) ExpireBroadcasts(ctx context.Context) int {
	f.calls.Add(1)
	return 1
}

type fakeCounter struct{}

func (fakeCounter) DriverCounts() (int, int, int) { return 7, 3, 2 }

func TestManager_RunsSweepsOnSchedule(t *testing.T) {
	exp := &fakeExpirer{}
	m := NewManager(exp, fakeCounter{}, logging.Discard())
	require.NoError(t, m.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Stop(ctx)
	}()

	require.Eventually(t, func() bool { return exp.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	require.Equal(t, 7.0, testutil.ToFloat64(observability.DriversOnline))
	require.Equal(t, 3.0, testutil.ToFloat64(observability.DriversBusy))
	require.Equal(t, 2.0, testutil.ToFloat64(observability.DriversStale))
}

func TestManager_SweepDirect(t *testing.T) {
	exp := &fakeExpirer{}
	m := NewManager(exp, fakeCounter{}, nil)
	m.SweepBroadcasts()
	require.Equal(t, int32(1), exp.calls.Load())
}
