package watcher

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedPlatform is returned by New on platforms without a
	// notification facility that reports close-after-write.
	ErrUnsupportedPlatform = errors.New("close-after-write notifications are not supported on this platform")

	// ErrNotDirectory is returned by New when the watch root is not a
	// directory.
	ErrNotDirectory = errors.New("not a directory")

	// ErrEventOverflow is reported when the kernel dropped notifications
	// because its queue was full.
	ErrEventOverflow = errors.New("kernel event queue overflowed; notifications were lost")

	// ErrRootInvalidated is reported when the watch root was deleted, moved
	// away, or its filesystem unmounted. No further events will arrive for
	// the tree.
	ErrRootInvalidated = errors.New("watch root is no longer valid")
)

// RegistrationError is returned by New when the recursive watch could not be
// installed. No handle is returned alongside it.
type RegistrationError struct {
	Path string
	Err  error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("watcher: cannot watch %q: %v", e.Path, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// BackendError describes a failure inside the notification backend after the
// watch became active. It is reported on Errors and does not stop the watch.
type BackendError struct {
	// Op is the backend operation that failed ("poll", "read", "add_watch").
	Op   string
	Path string
	Err  error
}

func (e *BackendError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("watcher: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("watcher: %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
