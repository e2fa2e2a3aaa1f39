// Package dashboard keeps the pending-work counters of the payables desk
// fresh with background polling.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultInterval is used when no polling interval is configured.
const DefaultInterval = 10 * time.Second

// Counter names one polled figure.
type Counter string

const (
	CounterPendingApprovals   Counter = "pending_approvals"
	CounterPendingInspections Counter = "pending_inspections"
	CounterWaitingShipments   Counter = "waiting_shipments"
)

// Counters lists every polled counter in display order.
var Counters = []Counter{CounterPendingApprovals, CounterPendingInspections, CounterWaitingShipments}

// Source reads the current value of the counters.
type Source interface {
	PendingApprovals(ctx context.Context) (int64, error)
	PendingInspections(ctx context.Context) (int64, error)
	WaitingShipments(ctx context.Context) (int64, error)
}

// MetricsPort publishes refreshed counter values.
type MetricsPort interface {
	SetPendingCount(counter string, value int64)
}

// Reading is the last refresh result of one counter. A failed refresh keeps
// the previous value and records the error.
type Reading struct {
	Value       int64     `json:"value"`
	RefreshedAt time.Time `json:"refreshedAt"`
	Error       string    `json:"error,omitempty"`
}

// Poller refreshes each counter on its own ticker.
type Poller struct {
	source   Source
	interval time.Duration
	metrics  MetricsPort
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	readings map[Counter]Reading
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// Config wires Poller dependencies.
type Config struct {
	Source   Source
	Interval time.Duration
	Metrics  MetricsPort
	Logger   *slog.Logger
	Clock    func() time.Time
}

// NewPoller constructs a stopped poller.
func NewPoller(cfg Config) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Poller{
		source:   cfg.Source,
		interval: interval,
		metrics:  cfg.Metrics,
		logger:   logger,
		now:      now,
		readings: make(map[Counter]Reading, len(Counters)),
	}
}

// Start launches one loop per counter. Loops end when ctx is cancelled or
// Stop is called. Starting a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) error {
	if p.source == nil {
		return errors.New("dashboard: source required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range Counters {
		c := c
		g.Go(func() error {
			p.loop(ctx, c)
			return nil
		})
	}
	p.cancel = cancel
	p.group = g
	return nil
}

// Stop cancels every loop and waits for them to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, g := p.cancel, p.group
	p.cancel, p.group = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	_ = g.Wait()
}

func (p *Poller) loop(ctx context.Context, c Counter) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.refresh(ctx, c)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh(ctx, c)
		}
	}
}

func (p *Poller) refresh(ctx context.Context, c Counter) {
	value, err := p.read(ctx, c)
	if ctx.Err() != nil {
		return
	}
	p.mu.Lock()
	reading := p.readings[c]
	reading.RefreshedAt = p.now()
	if err != nil {
		reading.Error = err.Error()
	} else {
		reading.Value = value
		reading.Error = ""
	}
	p.readings[c] = reading
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("dashboard counter refresh failed", slog.String("counter", string(c)), slog.Any("error", err))
		return
	}
	if p.metrics != nil {
		p.metrics.SetPendingCount(string(c), value)
	}
}

func (p *Poller) read(ctx context.Context, c Counter) (int64, error) {
	switch c {
	case CounterPendingApprovals:
		return p.source.PendingApprovals(ctx)
	case CounterPendingInspections:
		return p.source.PendingInspections(ctx)
	case CounterWaitingShipments:
		return p.source.WaitingShipments(ctx)
	}
	return 0, errors.New("dashboard: unknown counter " + string(c))
}

// Snapshot returns a copy of the latest readings.
func (p *Poller) Snapshot() map[Counter]Reading {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[Counter]Reading, len(p.readings))
	for k, v := range p.readings {
		out[k] = v
	}
	return out
}
