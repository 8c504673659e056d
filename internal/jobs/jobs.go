// Package jobs runs the engine's periodic sweeps on a seconds-resolution cron:
// closing expired driver broadcasts and refreshing driver pool gauges.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/order-engine/internal/observability"
)

const (
	BroadcastSweepSpec = "@every 1s"
	DriverGaugeSpec    = "@every 15s"
)

// BroadcastExpirer closes broadcasts whose acceptance window has passed.
type BroadcastExpirer interface {
	ExpireBroadcasts(ctx context.Context) int
}

// DriverCounter reports the pool's online, busy and stale drivers.
type DriverCounter interface {
	DriverCounts() (online, busy, stale int)
}

type Manager struct {
	cron    *cron.Cron
	expirer BroadcastExpirer
	counter DriverCounter
	timeout time.Duration
	logger  *slog.Logger
}

func NewManager(expirer BroadcastExpirer, counter DriverCounter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "jobs")
	return &Manager{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger), cron.Recover(cron.DiscardLogger)),
		),
		expirer: expirer,
		counter: counter,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// Start schedules every job and starts the scheduler.
func (m *Manager) Start() error {
	if _, err := m.cron.AddFunc(BroadcastSweepSpec, m.SweepBroadcasts); err != nil {
		return err
	}
	if _, err := m.cron.AddFunc(DriverGaugeSpec, m.RefreshDriverGauges); err != nil {
		return err
	}
	m.RefreshDriverGauges()
	m.cron.Start()
	m.logger.Info("jobs_started", "broadcast_sweep", BroadcastSweepSpec, "driver_gauges", DriverGaugeSpec)
	return nil
}

// Stop stops scheduling and waits for running jobs to finish or ctx to end.
func (m *Manager) Stop(ctx context.Context) {
	select {
	case <-m.cron.Stop().Done():
	case <-ctx.Done():
	}
	m.logger.Info("jobs_stopped")
}

func (m *Manager) SweepBroadcasts() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if n := m.expirer.ExpireBroadcasts(ctx); n > 0 {
		m.logger.Info("broadcasts_expired", "count", n)
	}
}

func (m *Manager) RefreshDriverGauges() {
	online, busy, stale := m.counter.DriverCounts()
	observability.DriversOnline.Set(float64(online))
	observability.DriversBusy.Set(float64(busy))
	observability.DriversStale.Set(float64(stale))
}
