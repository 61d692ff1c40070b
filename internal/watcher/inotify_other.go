//go:build !linux

package watcher

import "log/slog"

// newBackend always fails on non-Linux platforms: kqueue, FSEvents and
// ReadDirectoryChangesW report writes but not the close that follows them,
// so write-close events cannot be told apart from partial writes.
func newBackend(_ string, _ func(RawEvent), _ func(error), _ *slog.Logger) (backend, error) {
	return nil, ErrUnsupportedPlatform
}
