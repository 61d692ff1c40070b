// Package daemon contains the upload daemon orchestrator. It consumes the
// write-close events and backend errors of a directory watch and fans each
// event out to the registered sinks until its context is cancelled.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ncsync/uploadd/internal/config"
	"github.com/ncsync/uploadd/internal/metrics"
	"github.com/ncsync/uploadd/internal/watcher"
)

// sampleInterval is how often gauges derived from the source are refreshed.
const sampleInterval = 5 * time.Second

// Source is a live directory watch. *watcher.Watcher implements it.
type Source interface {
	Root() string
	State() watcher.State
	WatchedDirs() int
	// Events delivers write-close events and is closed when the source is.
	Events() <-chan watcher.Event
	// Errors delivers backend failures and is closed when the source is.
	Errors() <-chan error
	Close() error
}

// Sink receives every dispatched event. Handle is called from the daemon's
// goroutine, one event at a time, in delivery order. A returned error is
// logged and counted; it does not stop the daemon.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev watcher.Event) error
}

// Daemon dispatches the events of one Source to its sinks.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	src     Source
	sinks   []Sink
	metrics *metrics.Metrics

	dispatched    atomic.Int64
	backendErrors atomic.Int64

	mu          sync.RWMutex
	startTime   time.Time
	lastEventAt time.Time
	running     bool
}

// Option is a functional option for Daemon construction.
type Option func(*Daemon)

// WithSinks registers sinks. They receive events in registration order.
func WithSinks(s ...Sink) Option {
	return func(d *Daemon) { d.sinks = append(d.sinks, s...) }
}

// WithMetrics records dispatch counters in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

// New creates a Daemon for src. The daemon takes ownership of src and closes
// it when Run returns.
func New(cfg *config.Config, logger *slog.Logger, src Source, opts ...Option) *Daemon {
	d := &Daemon{
		cfg:    cfg,
		logger: logger,
		src:    src,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = metrics.New()
	}
	return d
}

// Run dispatches events until ctx is cancelled or the source's event
// channel is closed, in which case it returns nil, or until the source
// reports that its root is gone, in which case it returns that error. The
// source is closed before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon: already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	defer func() {
		if err := d.src.Close(); err != nil {
			d.logger.Warn("daemon: error closing watch", slog.Any("error", err))
		}
		d.sample()
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		d.logger.Info("daemon: stopped",
			slog.Int64("dispatched", d.dispatched.Load()),
			slog.Int64("backend_errors", d.backendErrors.Load()),
		)
	}()

	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	d.logger.Info("daemon: started",
		slog.String("root", d.src.Root()),
		slog.String("address", d.cfg.Address),
		slog.String("username", d.cfg.Username),
		slog.Any("sinks", names),
	)
	d.sample()

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	events := d.src.Events()
	errs := d.src.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d.dispatch(ctx, ev)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if fatal := d.handleError(err); fatal != nil {
				return fatal
			}

		case <-ticker.C:
			d.sample()
		}
	}
}

// dispatch logs ev and hands it to every sink.
func (d *Daemon) dispatch(ctx context.Context, ev watcher.Event) {
	d.mu.Lock()
	d.lastEventAt = ev.Time
	d.mu.Unlock()
	d.dispatched.Add(1)
	d.metrics.DispatchedEvents.Add(1)

	d.logger.Info("daemon: file closed after write",
		slog.String("id", ev.ID),
		slog.String("path", ev.Path),
	)

	for _, s := range d.sinks {
		if err := s.Handle(ctx, ev); err != nil {
			d.metrics.SinkErrors.Add(1)
			d.logger.Warn("daemon: sink failed",
				slog.String("sink", s.Name()),
				slog.String("path", ev.Path),
				slog.Any("error", err),
			)
		}
	}
}

// handleError counts and logs a backend error. It returns a non-nil error
// when the watch can no longer deliver events.
func (d *Daemon) handleError(err error) error {
	d.backendErrors.Add(1)
	d.metrics.BackendErrors.Add(1)

	if errors.Is(err, watcher.ErrRootInvalidated) {
		d.logger.Error("daemon: watch root lost", slog.Any("error", err))
		return fmt.Errorf("daemon: %w", err)
	}
	d.logger.Warn("daemon: watch backend error", slog.Any("error", err))
	return nil
}

func (d *Daemon) sample() {
	d.metrics.WatchedDirs.Store(int64(d.src.WatchedDirs()))
}

// HealthStatus is the payload returned by the /healthz endpoint.
type HealthStatus struct {
	Status        string  `json:"status"`
	UptimeS       float64 `json:"uptime_s"`
	Root          string  `json:"root"`
	WatchState    string  `json:"watch_state"`
	WatchedDirs   int     `json:"watched_dirs"`
	Dispatched    int64   `json:"dispatched"`
	BackendErrors int64   `json:"backend_errors"`
	LastEventAt   string  `json:"last_event_at,omitempty"`
}

// Health returns a snapshot of the daemon's state. Status is "ok" while the
// watch is active and "stopped" otherwise.
func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	state := d.src.State()
	h := HealthStatus{
		Status:        "ok",
		Root:          d.src.Root(),
		WatchState:    state.String(),
		WatchedDirs:   d.src.WatchedDirs(),
		Dispatched:    d.dispatched.Load(),
		BackendErrors: d.backendErrors.Load(),
	}
	if state != watcher.StateActive {
		h.Status = "stopped"
	}
	if !d.startTime.IsZero() {
		h.UptimeS = time.Since(d.startTime).Seconds()
	}
	if !d.lastEventAt.IsZero() {
		h.LastEventAt = d.lastEventAt.UTC().Format(time.RFC3339)
	}
	return h
}
