package status

import (
	"context"
	"sync"

	"github.com/ncsync/uploadd/internal/watcher"
)

// DefaultRecentSize is the ring size used when NewRecent is given a
// non-positive size.
const DefaultRecentSize = 100

// Recent keeps the last N dispatched events in a ring.
type Recent struct {
	mu   sync.RWMutex
	buf  []watcher.Event
	next int
	full bool
}

// NewRecent returns an empty ring holding up to size events.
func NewRecent(size int) *Recent {
	if size <= 0 {
		size = DefaultRecentSize
	}
	return &Recent{buf: make([]watcher.Event, size)}
}

// Add records ev, evicting the oldest event when the ring is full.
func (r *Recent) Add(ev watcher.Event) {
	r.mu.Lock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Handle records ev. It lets a Recent serve as a daemon sink.
func (r *Recent) Handle(_ context.Context, ev watcher.Event) error {
	r.Add(ev)
	return nil
}

// Name identifies the ring in daemon logs.
func (r *Recent) Name() string { return "recent" }

// Cap returns the ring size.
func (r *Recent) Cap() int { return len(r.buf) }

// Len returns the number of events held.
func (r *Recent) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Last returns up to n of the most recent events, oldest first. n ≤ 0
// returns everything held.
func (r *Recent) Last(n int) []watcher.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	held := r.next
	if r.full {
		held = len(r.buf)
	}
	if n <= 0 || n > held {
		n = held
	}

	out := make([]watcher.Event, 0, n)
	start := r.next - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
