package watcher

import "time"

// Kind classifies a raw filesystem notification independently of the
// platform facility that produced it.
type Kind uint8

const (
	// KindOther covers notifications with no mapping below, including kinds
	// added by future kernels.
	KindOther Kind = iota
	// KindCreate indicates a file or directory was created.
	KindCreate
	// KindModifyData indicates file content was written.
	KindModifyData
	// KindModifyMetadata indicates permissions, timestamps, ownership or
	// link count changed.
	KindModifyMetadata
	// KindAccessOpen indicates a file or directory was opened.
	KindAccessOpen
	// KindCloseWrite indicates a file opened for writing was closed.
	KindCloseWrite
	// KindCloseNoWrite indicates a file not opened for writing was closed.
	KindCloseNoWrite
	// KindRemove indicates a file or directory was deleted.
	KindRemove
	// KindRenameFrom indicates an entry was moved out of its directory.
	KindRenameFrom
	// KindRenameTo indicates an entry was moved into a directory.
	KindRenameTo
)

var kindNames = [...]string{
	KindOther:          "other",
	KindCreate:         "create",
	KindModifyData:     "modify_data",
	KindModifyMetadata: "modify_metadata",
	KindAccessOpen:     "access_open",
	KindCloseWrite:     "close_write",
	KindCloseNoWrite:   "close_nowrite",
	KindRemove:         "remove",
	KindRenameFrom:     "rename_from",
	KindRenameTo:       "rename_to",
}

// Kinds lists every Kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(kindNames))
	for i := range kindNames {
		out[i] = Kind(i)
	}
	return out
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "other"
}

// RawEvent is a single unfiltered notification as delivered by the backend.
type RawEvent struct {
	Kind Kind
	// Path is the affected entry: the watched directory joined with the
	// entry name, or the directory itself for events about the directory.
	Path string
	// IsDir reports whether the subject of the event is a directory.
	IsDir bool
	// Cookie correlates RenameFrom/RenameTo pairs. Zero otherwise.
	Cookie uint32
	// Time is when the backend read the event.
	Time time.Time
}

// Event is a write-close notification: a file under the watched tree was
// closed after being opened for writing. It is the only event the watcher
// surfaces.
type Event struct {
	// ID uniquely identifies this dispatch.
	ID   string    `json:"id"`
	Path string    `json:"path"`
	Time time.Time `json:"time"`
}

// Classify reduces a raw notification to a write-close Event. It reports
// false for every other kind, and for directories. Classify holds no state
// and is safe to call from any goroutine.
func Classify(raw RawEvent) (Event, bool) {
	if raw.Kind != KindCloseWrite || raw.IsDir {
		return Event{}, false
	}
	return Event{Path: raw.Path, Time: raw.Time}, true
}
