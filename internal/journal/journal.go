// Package journal keeps an append-only, SHA-256 hash-chained record of the
// write-close events the daemon dispatched. Each line records a sequence
// number, a timestamp, the event, the previous entry's hash (prev_hash), and
// the hash of the entry's own content (hash).
//
// # Hash chain
//
// The hash for entry N is computed as:
//
//	SHA-256( JSON({seq, ts, event, prev_hash}) )
//
// The first entry uses a prev_hash of 64 ASCII zero characters.
//
// The journal is a record only. Nothing reads it back to decide what to do.
package journal

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ncsync/uploadd/internal/watcher"
)

// GenesisHash is the prev_hash of the first entry in a journal.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ErrChainBroken is wrapped by Open and Verify when an existing journal fails
// verification.
var ErrChainBroken = errors.New("journal: chain broken")

// maxLine bounds a single journal line.
const maxLine = 1 << 20

// Entry is one journal line.
type Entry struct {
	Seq       int64         `json:"seq"`
	Timestamp time.Time     `json:"ts"`
	Event     watcher.Event `json:"event"`
	PrevHash  string        `json:"prev_hash"`
	Hash      string        `json:"hash"`
}

// content is the hashed subset of Entry.
type content struct {
	Seq       int64         `json:"seq"`
	Timestamp time.Time     `json:"ts"`
	Event     watcher.Event `json:"event"`
	PrevHash  string        `json:"prev_hash"`
}

func (e Entry) content() content {
	return content{Seq: e.Seq, Timestamp: e.Timestamp, Event: e.Event, PrevHash: e.PrevHash}
}

// Journal appends entries to a file. Create one with Open. It is safe for
// concurrent use.
type Journal struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	prevHash string
	seq      int64
	now      func() time.Time
}

// Open opens (or creates) the journal at path. An existing journal is
// verified in full so that new entries continue its chain; a journal that
// fails verification is rejected with an error wrapping ErrChainBroken.
func Open(path string) (*Journal, error) {
	prevHash := GenesisHash
	var seq int64

	f, err := os.Open(path)
	switch {
	case err == nil:
		entries, verr := scan(f)
		f.Close()
		if verr != nil {
			return nil, fmt.Errorf("journal: open %q: %w", path, verr)
		}
		if n := len(entries); n > 0 {
			prevHash = entries[n-1].Hash
			seq = entries[n-1].Seq
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("journal: open for reading %q: %w", path, err)
	}

	out, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("journal: open for appending %q: %w", path, err)
	}
	return &Journal{
		path:     path,
		file:     out,
		prevHash: prevHash,
		seq:      seq,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Append records ev and returns the written entry.
func (j *Journal) Append(ev watcher.Event) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return Entry{}, fmt.Errorf("journal: append to closed journal %q", j.path)
	}

	e := Entry{
		Seq:       j.seq + 1,
		Timestamp: j.now(),
		Event:     ev,
		PrevHash:  j.prevHash,
	}
	e.Hash = hashContent(e.content())

	line, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("journal: marshal entry: %w", err)
	}
	line = append(line, '\n')
	if _, err := j.file.Write(line); err != nil {
		return Entry{}, fmt.Errorf("journal: write entry: %w", err)
	}

	j.seq = e.Seq
	j.prevHash = e.Hash
	return e, nil
}

// Handle records ev. It lets a Journal serve as a daemon sink.
func (j *Journal) Handle(_ context.Context, ev watcher.Event) error {
	_, err := j.Append(ev)
	return err
}

// Name identifies the journal in daemon logs.
func (j *Journal) Name() string { return "journal" }

// Close syncs and closes the file. Calling Close more than once is a no-op.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	f := j.file
	j.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("journal: sync: %w", err)
	}
	return f.Close()
}

// Verify reads the journal at path and checks the full chain. It returns the
// entries in order. An empty file is valid.
func Verify(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: verify open %q: %w", path, err)
	}
	defer f.Close()

	entries, err := scan(f)
	if err != nil {
		return nil, fmt.Errorf("journal: verify %q: %w", path, err)
	}
	return entries, nil
}

func scan(r io.Reader) ([]Entry, error) {
	var entries []Entry
	prevHash := GenesisHash
	var seq int64

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("%w: malformed entry after seq %d: %w", ErrChainBroken, seq, err)
		}
		if e.Seq != seq+1 {
			return nil, fmt.Errorf("%w: expected seq %d, got %d", ErrChainBroken, seq+1, e.Seq)
		}
		if e.PrevHash != prevHash {
			return nil, fmt.Errorf("%w: prev_hash mismatch at seq %d", ErrChainBroken, e.Seq)
		}
		if computed := hashContent(e.content()); computed != e.Hash {
			return nil, fmt.Errorf("%w: hash mismatch at seq %d: stored %q, computed %q",
				ErrChainBroken, e.Seq, e.Hash, computed)
		}
		entries = append(entries, e)
		prevHash = e.Hash
		seq = e.Seq
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func hashContent(c content) string {
	raw, err := json.Marshal(c)
	if err != nil {
		// Every field is JSON-serialisable.
		panic(fmt.Sprintf("journal: marshal content: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
