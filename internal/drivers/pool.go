package drivers

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/example/order-engine/internal/models"
)

var (
	ErrUnknownDriver   = errors.New("unknown driver")
	ErrInvalidStatus   = errors.New("invalid driver status")
	ErrInvalidLocation = errors.New("invalid location sample")
	ErrUnavailable     = errors.New("driver unavailable")
)

const (
	DefaultConcurrencyCap = 1
	DefaultFreshness      = 2 * time.Minute
	DefaultTrailSize      = 5
)

// LocationMirror receives accepted samples for an external read model.
type LocationMirror interface {
	MirrorLocation(ctx context.Context, s models.LocationSample) error
	ForgetDriver(ctx context.Context, driverID string) error
}

type Options struct {
	ConcurrencyCap int
	Freshness      time.Duration
	TrailSize      int
	Mirror         LocationMirror
	Logger         *slog.Logger
	Now            func() time.Time
}

type driverState struct {
	id     string
	name   string
	status models.DriverStatus
	held   bool // busy by the driver's own choice
	orders []string
	trail  []models.LocationSample
	rating float64
}

// Pool tracks driver availability, current orders and last known positions.
type Pool struct {
	mu        sync.RWMutex
	drivers   map[string]*driverState
	cap       int
	freshness time.Duration
	trailSize int
	mirror    LocationMirror
	logger    *slog.Logger
	now       func() time.Time
}

func NewPool(opts Options) *Pool {
	p := &Pool{
		drivers:   make(map[string]*driverState),
		cap:       opts.ConcurrencyCap,
		freshness: opts.Freshness,
		trailSize: opts.TrailSize,
		mirror:    opts.Mirror,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if p.cap <= 0 {
		p.cap = DefaultConcurrencyCap
	}
	if p.freshness <= 0 {
		p.freshness = DefaultFreshness
	}
	if p.trailSize <= 0 {
		p.trailSize = DefaultTrailSize
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	return p
}

// Register adds a driver profile or refreshes its name and rating.
func (p *Pool) Register(d models.Driver) models.Driver {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.drivers[d.ID]
	if !ok {
		s = &driverState{id: d.ID, status: models.DriverOffline}
		if d.Status.Valid() {
			s.status = d.Status
			s.held = d.Status == models.DriverBusy
		}
		p.drivers[d.ID] = s
	}
	if d.Name != "" {
		s.name = d.Name
	}
	if d.Rating > 0 {
		s.rating = d.Rating
	}
	p.settle(s)
	return p.snapshot(s, p.now())
}

// SetStatus applies a login, logout or heartbeat. Unknown drivers are registered.
// A driver who reports busy stays busy until they report online or offline,
// whatever their order count.
func (p *Pool) SetStatus(ctx context.Context, driverID string, status models.DriverStatus) (models.Driver, error) {
	if !status.Valid() {
		return models.Driver{}, ErrInvalidStatus
	}
	p.mu.Lock()
	s, ok := p.drivers[driverID]
	if !ok {
		s = &driverState{id: driverID}
		p.drivers[driverID] = s
	}
	s.status = status
	s.held = status == models.DriverBusy
	p.settle(s)
	out := p.snapshot(s, p.now())
	p.mu.Unlock()

	if status == models.DriverOffline && p.mirror != nil {
		if err := p.mirror.ForgetDriver(ctx, driverID); err != nil {
			p.logger.Warn("location_mirror_forget_failed", "driver_id", driverID, "error", err)
		}
	}
	return out, nil
}

// RecordLocation stores a GPS sample. Samples older than the last known one are
// dropped and reported with accepted=false.
func (p *Pool) RecordLocation(ctx context.Context, driverID string, sample models.LocationSample) (d models.Driver, accepted bool, err error) {
	if !sample.Coord().Valid() {
		return models.Driver{}, false, ErrInvalidLocation
	}
	now := p.now()
	sample.DriverID = driverID
	if sample.Timestamp.IsZero() {
		sample.Timestamp = now
	}

	p.mu.Lock()
	s, ok := p.drivers[driverID]
	if !ok {
		p.mu.Unlock()
		return models.Driver{}, false, ErrUnknownDriver
	}
	if n := len(s.trail); n > 0 && sample.Timestamp.Before(s.trail[n-1].Timestamp) {
		out := p.snapshot(s, now)
		p.mu.Unlock()
		return out, false, nil
	}
	s.trail = append(s.trail, sample)
	if over := len(s.trail) - p.trailSize; over > 0 {
		s.trail = slices.Delete(s.trail, 0, over)
	}
	out := p.snapshot(s, now)
	p.mu.Unlock()

	if p.mirror != nil {
		if err := p.mirror.MirrorLocation(ctx, sample); err != nil {
			p.logger.Warn("location_mirror_failed", "driver_id", driverID, "error", err)
		}
	}
	return out, true, nil
}

// Trail returns a copy of the driver's trailing samples, oldest first.
func (p *Pool) Trail(driverID string) []models.LocationSample {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.drivers[driverID]
	if !ok {
		return nil
	}
	return slices.Clone(s.trail)
}

func (p *Pool) Get(driverID string) (models.Driver, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.drivers[driverID]
	if !ok {
		return models.Driver{}, false
	}
	return p.snapshot(s, p.now()), true
}

// Reserve binds orderID to the driver if they are available. It is idempotent
// for an order the driver already carries and has no effect on failure.
func (p *Pool) Reserve(driverID, orderID string) (models.Driver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.drivers[driverID]
	if !ok {
		return models.Driver{}, ErrUnknownDriver
	}
	if slices.Contains(s.orders, orderID) {
		return p.snapshot(s, p.now()), nil
	}
	if !p.available(s) {
		return p.snapshot(s, p.now()), ErrUnavailable
	}
	s.orders = append(s.orders, orderID)
	p.settle(s)
	return p.snapshot(s, p.now()), nil
}

// Release unbinds orderID from the driver and reports whether it was bound.
func (p *Pool) Release(driverID, orderID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.drivers[driverID]
	if !ok {
		return false
	}
	i := slices.Index(s.orders, orderID)
	if i < 0 {
		return false
	}
	s.orders = slices.Delete(s.orders, i, i+1)
	p.settle(s)
	return true
}

// Counts reports online (including busy) and stale drivers.
func (p *Pool) Counts() (online, busy, stale int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	now := p.now()
	for _, s := range p.drivers {
		switch s.status {
		case models.DriverOnline:
			online++
		case models.DriverBusy:
			online++
			busy++
		default:
			continue
		}
		if p.stale(s, now) {
			stale++
		}
	}
	return online, busy, stale
}

// settle flips online <-> busy around the concurrency cap. Callers hold p.mu.
func (p *Pool) settle(s *driverState) {
	switch {
	case s.status == models.DriverOnline && len(s.orders) >= p.cap:
		s.status = models.DriverBusy
	case s.status == models.DriverBusy && !s.held && len(s.orders) < p.cap:
		s.status = models.DriverOnline
	}
}

func (p *Pool) available(s *driverState) bool {
	return s.status == models.DriverOnline && len(s.orders) < p.cap
}

func (p *Pool) stale(s *driverState, now time.Time) bool {
	n := len(s.trail)
	if n == 0 {
		return false
	}
	return now.Sub(s.trail[n-1].Timestamp) > p.freshness
}

func (p *Pool) snapshot(s *driverState, now time.Time) models.Driver {
	d := models.Driver{
		ID:              s.id,
		Name:            s.name,
		Status:          s.status,
		IsAvailable:     p.available(s),
		CurrentOrderIDs: slices.Clone(s.orders),
		Rating:          s.rating,
		Stale:           p.stale(s, now),
	}
	if d.CurrentOrderIDs == nil {
		d.CurrentOrderIDs = []string{}
	}
	if n := len(s.trail); n > 0 {
		last := s.trail[n-1]
		d.LastKnownLocation = &last
	}
	return d
}
