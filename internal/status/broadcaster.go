package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ncsync/uploadd/internal/metrics"
	"github.com/ncsync/uploadd/internal/watcher"
)

// defaultClientBuffer is the per-client frame buffer depth.
const defaultClientBuffer = 64

// EventData is the payload of an EventMessage.
type EventData struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Time string `json:"time"`
}

// EventMessage is the JSON envelope pushed to stream clients. Type is
// "write_close" for dispatched events.
type EventMessage struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// Client is one connected stream client. It is valid until
// Broadcaster.Unregister is called.
type Client struct {
	id      string
	send    chan []byte
	Dropped atomic.Int64 // frames dropped because send was full
}

// ID returns the client's identifier.
func (c *Client) ID() string { return c.id }

// Send returns the channel on which encoded frames are delivered. It is
// closed when the client is unregistered or the broadcaster is closed.
func (c *Client) Send() <-chan []byte { return c.send }

// Broadcaster fans dispatched events out to every connected stream client.
// Sends never block: a client whose buffer is full loses the frame.
//
// mu guards clients and closed. Broadcast holds the read lock across its
// sends, and a client's send channel is only closed under the write lock.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool

	bufSize int
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewBroadcaster creates a Broadcaster. bufSize ≤ 0 uses a default of 64.
// m may be nil.
func NewBroadcaster(logger *slog.Logger, bufSize int, m *metrics.Metrics) *Broadcaster {
	if bufSize <= 0 {
		bufSize = defaultClientBuffer
	}
	if m == nil {
		m = metrics.New()
	}
	return &Broadcaster{
		clients: make(map[string]*Client),
		bufSize: bufSize,
		logger:  logger,
		metrics: m,
	}
}

// Register adds a client with the given id. The caller must Unregister it.
// After Close, Register returns a client whose Send channel is closed.
func (b *Broadcaster) Register(id string) *Client {
	c := &Client{
		id:   id,
		send: make(chan []byte, b.bufSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(c.send)
		return c
	}
	if prev, ok := b.clients[id]; ok {
		close(prev.send)
	}
	b.clients[id] = c
	b.metrics.StreamClients.Store(int64(len(b.clients)))
	return c
}

// Unregister removes the client and closes its Send channel. Unknown ids are
// ignored.
func (b *Broadcaster) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(id)
}

func (b *Broadcaster) removeLocked(id string) {
	c, ok := b.clients[id]
	if !ok {
		return
	}
	delete(b.clients, id)
	close(c.send)
	b.metrics.StreamClients.Store(int64(len(b.clients)))
}

// ClientCount returns the number of registered clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Dropped returns the total number of frames dropped across all clients.
func (b *Broadcaster) Dropped() int64 {
	return b.metrics.DroppedFrames.Load()
}

// Broadcast encodes msg once and offers it to every client.
func (b *Broadcaster) Broadcast(msg EventMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("status: broadcast marshal failed", slog.Any("error", err))
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, c := range b.clients {
		select {
		case c.send <- raw:
		default:
			c.Dropped.Add(1)
			b.metrics.DroppedFrames.Add(1)
			b.logger.Warn("status: stream client buffer full, dropping event",
				slog.String("client_id", c.id),
			)
		}
	}
}

// Handle broadcasts ev as a write_close frame.
func (b *Broadcaster) Handle(_ context.Context, ev watcher.Event) error {
	b.Broadcast(EventMessage{
		Type: "write_close",
		Data: EventData{
			ID:   ev.ID,
			Path: ev.Path,
			Time: ev.Time.UTC().Format(time.RFC3339Nano),
		},
	})
	return nil
}

// Name identifies the broadcaster in daemon logs.
func (b *Broadcaster) Name() string { return "stream" }

// Close unregisters every client. Afterwards Broadcast is a no-op. Close is
// idempotent.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id := range b.clients {
		b.removeLocked(id)
	}
}
