// Package watcher installs a recursive watch on a directory tree and reduces
// the raw filesystem notifications it receives to write-close events: a file
// under the tree was closed after being opened for writing.
//
// Raw notifications are read by a backend goroutine and handed, one at a
// time and in kernel order, to the Watcher's classifier. Only write-close
// events are delivered on Events; everything else is dropped. Backend
// failures after the watch is active are reported on Errors and never stop
// the stream.
package watcher

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultBufferSize is the default capacity of the channel returned by
// Events.
const DefaultBufferSize = 64

// errorBufferSize is the capacity of the channel returned by Errors. Errors
// that do not fit are still logged.
const errorBufferSize = 16

// State is the lifecycle state of a Watcher.
type State int32

const (
	StateUnregistered State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// backend is the platform notification facility. Implementations register
// the whole tree synchronously in their constructor, call onEvent for every
// raw notification from a single reader goroutine, and call onError for
// failures after registration. close must not return until the reader
// goroutine has exited.
type backend interface {
	watching(path string) bool
	watchedDirs() int
	close() error
}

type options struct {
	logger     *slog.Logger
	bufferSize int
	observer   func(RawEvent)
}

// Option configures a Watcher.
type Option func(*options)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBufferSize sets the capacity of the Events channel. Values ≤ 0 use
// DefaultBufferSize.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithRawObserver registers fn to be called with every raw notification
// before classification. fn runs on the backend goroutine and must not
// block.
func WithRawObserver(fn func(RawEvent)) Option {
	return func(o *options) { o.observer = fn }
}

// Watcher owns a live recursive watch on one directory tree. Create it with
// New and release it with Close. It is safe for concurrent use.
type Watcher struct {
	root     string
	logger   *slog.Logger
	observer func(RawEvent)

	backend backend
	events  chan Event
	errors  chan error
	done    chan struct{}

	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

// New installs a recursive watch rooted at root and returns once every
// directory beneath it is registered. Directories created under root later
// are registered automatically. root must exist and be a directory.
//
// Any registration failure is returned as a *RegistrationError.
func New(root string, opts ...Option) (*Watcher, error) {
	o := options{
		logger:     slog.Default(),
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if root == "" {
		return nil, &RegistrationError{Path: root, Err: fmt.Errorf("empty path")}
	}
	root = filepath.Clean(root)

	w := &Watcher{
		root:     root,
		logger:   o.logger,
		observer: o.observer,
		events:   make(chan Event, o.bufferSize),
		errors:   make(chan error, errorBufferSize),
		done:     make(chan struct{}),
	}

	b, err := newBackend(root, w.handleRaw, w.handleError, w.logger)
	if err != nil {
		return nil, &RegistrationError{Path: root, Err: err}
	}
	w.backend = b
	w.state.Store(int32(StateActive))

	w.logger.Info("watcher: watching directory tree",
		slog.String("root", root),
		slog.Int("dirs", b.watchedDirs()),
	)
	return w, nil
}

// Root returns the cleaned path the watch was installed on.
func (w *Watcher) Root() string { return w.root }

// State returns the current lifecycle state.
func (w *Watcher) State() State { return State(w.state.Load()) }

// Events returns the channel on which write-close events are delivered. The
// channel is closed when Close returns.
//
// The channel is bounded; when it is full the backend waits for the consumer
// rather than dropping events, so a consumer that stops reading will
// eventually cause kernel queue overflows (reported on Errors).
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors returns the channel on which backend failures are reported as
// *BackendError values. The channel is closed when Close returns.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Watching reports whether the directory at path currently has a watch.
func (w *Watcher) Watching(path string) bool {
	if w.State() != StateActive {
		return false
	}
	return w.backend.watching(filepath.Clean(path))
}

// WatchedDirs returns the number of directories currently watched.
func (w *Watcher) WatchedDirs() int {
	if w.State() != StateActive {
		return 0
	}
	return w.backend.watchedDirs()
}

// Close deregisters the watch. It blocks until the backend goroutine has
// exited; no event is delivered after Close returns. Events and Errors are
// closed. It is safe to call Close multiple times.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.closeErr = w.backend.close()
		w.state.Store(int32(StateClosed))
		close(w.events)
		close(w.errors)
		w.logger.Info("watcher: watch released", slog.String("root", w.root))
	})
	return w.closeErr
}

// handleRaw is the backend callback. It runs on the backend goroutine.
func (w *Watcher) handleRaw(raw RawEvent) {
	if w.observer != nil {
		w.observer(raw)
	}

	ev, ok := Classify(raw)
	if !ok {
		return
	}
	ev.ID = uuid.NewString()

	select {
	case <-w.done:
		return
	default:
	}

	select {
	case w.events <- ev:
		w.logger.Debug("watcher: write-close event dispatched",
			slog.String("id", ev.ID),
			slog.String("path", ev.Path),
		)
	case <-w.done:
	}
}

// handleError is the backend error callback. It runs on the backend
// goroutine.
func (w *Watcher) handleError(err error) {
	w.logger.Warn("watcher: backend error", slog.String("root", w.root), slog.Any("error", err))

	select {
	case <-w.done:
		return
	default:
	}

	select {
	case w.errors <- err:
	default:
		w.logger.Warn("watcher: error channel full, dropping error report", slog.Any("error", err))
	}
}
