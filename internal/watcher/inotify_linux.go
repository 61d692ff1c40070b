//go:build linux

package watcher

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// watchMask is the set of inotify events registered on every directory in
// the tree. IN_ACCESS is left out: reads are frequent and carry no
// information the classifier needs.
const watchMask uint32 = unix.IN_CREATE |
	unix.IN_MODIFY |
	unix.IN_ATTRIB |
	unix.IN_OPEN |
	unix.IN_CLOSE_WRITE |
	unix.IN_CLOSE_NOWRITE |
	unix.IN_DELETE |
	unix.IN_DELETE_SELF |
	unix.IN_MOVED_FROM |
	unix.IN_MOVED_TO |
	unix.IN_MOVE_SELF |
	unix.IN_ONLYDIR

// readBufferSize holds many events per read(2). Each event is
// SizeofInotifyEvent bytes plus up to NAME_MAX+1 bytes of name.
const readBufferSize = 4096 * (unix.SizeofInotifyEvent + unix.NAME_MAX + 1)

// errorPause is how long the reader waits after a failed poll or read before
// trying again, so that a persistent failure is reported at a bounded rate.
const errorPause = 100 * time.Millisecond

// inotifyBackend watches a directory tree with one inotify instance and one
// watch descriptor per directory.
type inotifyBackend struct {
	root    string
	logger  *slog.Logger
	onEvent func(RawEvent)
	onError func(error)

	fd int
	// pipeR/pipeW form a self-pipe: close writes a byte to pipeW, which
	// wakes the poll(2) in run.
	pipeR int
	pipeW int

	mu     sync.RWMutex
	dirs   map[int]string // watch descriptor → directory path
	wds    map[string]int // directory path → watch descriptor
	rootWd int

	rootLost  atomic.Bool
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func newBackend(root string, onEvent func(RawEvent), onError func(error), logger *slog.Logger) (backend, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}

	var pipeFds [2]int
	if err := unix.Pipe2(pipeFds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("pipe2: %w", err)
	}

	b := &inotifyBackend{
		root:    root,
		logger:  logger,
		onEvent: onEvent,
		onError: onError,
		fd:      fd,
		pipeR:   pipeFds[0],
		pipeW:   pipeFds[1],
		dirs:    make(map[int]string),
		wds:     make(map[string]int),
		rootWd:  -1,
	}

	if err := b.registerTree(root); err != nil {
		_ = b.closeFds()
		return nil, err
	}

	b.wg.Add(1)
	go b.run()
	return b, nil
}

// registerTree adds a watch for root and every directory beneath it. Any
// failure is fatal except entries that vanish during the walk.
func (b *inotifyBackend) registerTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path != root && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		wd, err := b.addWatch(path)
		if err != nil {
			if path != root && errors.Is(err, unix.ENOENT) {
				return filepath.SkipDir
			}
			return err
		}
		if path == root {
			b.rootWd = wd
		}
		return nil
	})
}

// extendTree adds watches for a directory that appeared under the tree after
// registration, or rescans the whole tree after an overflow. Directories
// already watched keep their descriptors. Failures are reported and the rest
// of the subtree is still attempted.
func (b *inotifyBackend) extendTree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				b.onError(&BackendError{Op: "walk", Path: path, Err: err})
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		known := b.watching(path)
		if _, err := b.addWatch(path); err != nil {
			if !errors.Is(err, unix.ENOENT) {
				b.onError(&BackendError{Op: "add_watch", Path: path, Err: err})
			}
			return filepath.SkipDir
		}
		if !known {
			b.logger.Debug("watcher: watching new directory", slog.String("path", path))
		}
		return nil
	})
}

func (b *inotifyBackend) addWatch(path string) (int, error) {
	wd, err := unix.InotifyAddWatch(b.fd, path, watchMask)
	if err != nil {
		if errors.Is(err, unix.ENOSPC) {
			return -1, fmt.Errorf("inotify_add_watch %q: %w (fs.inotify.max_user_watches reached)", path, err)
		}
		return -1, fmt.Errorf("inotify_add_watch %q: %w", path, err)
	}

	b.mu.Lock()
	// Re-adding an inode that is already watched returns its existing
	// descriptor; drop the stale path.
	if old, ok := b.dirs[wd]; ok && old != path {
		delete(b.wds, old)
	}
	b.dirs[wd] = path
	b.wds[path] = wd
	b.mu.Unlock()
	return wd, nil
}

// forgetTree removes the watches for dir and every watched directory beneath
// it. Used when a directory is moved away.
func (b *inotifyBackend) forgetTree(dir string) {
	prefix := dir + string(filepath.Separator)

	b.mu.Lock()
	defer b.mu.Unlock()
	for path, wd := range b.wds {
		if path != dir && !strings.HasPrefix(path, prefix) {
			continue
		}
		if wd == b.rootWd {
			continue
		}
		_, _ = unix.InotifyRmWatch(b.fd, uint32(wd))
		delete(b.wds, path)
		delete(b.dirs, wd)
	}
}

func (b *inotifyBackend) forget(wd int) {
	b.mu.Lock()
	if path, ok := b.dirs[wd]; ok {
		delete(b.dirs, wd)
		if b.wds[path] == wd {
			delete(b.wds, path)
		}
	}
	b.mu.Unlock()
}

func (b *inotifyBackend) watching(path string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.wds[path]
	return ok
}

func (b *inotifyBackend) watchedDirs() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.dirs)
}

func (b *inotifyBackend) close() error {
	b.closeOnce.Do(func() {
		_, _ = unix.Write(b.pipeW, []byte{0})
		b.wg.Wait()
		// Closing the inotify descriptor drops every watch at once.
		b.closeErr = b.closeFds()
	})
	return b.closeErr
}

func (b *inotifyBackend) closeFds() error {
	err := unix.Close(b.fd)
	_ = unix.Close(b.pipeR)
	_ = unix.Close(b.pipeW)
	if err != nil {
		return fmt.Errorf("watcher: close inotify: %w", err)
	}
	return nil
}

// run reads inotify events until close is called.
func (b *inotifyBackend) run() {
	defer b.wg.Done()

	buf := make([]byte, readBufferSize)
	pollFds := []unix.PollFd{
		{Fd: int32(b.fd), Events: unix.POLLIN},
		{Fd: int32(b.pipeR), Events: unix.POLLIN},
	}

	for {
		_, err := unix.Poll(pollFds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			b.onError(&BackendError{Op: "poll", Err: err})
			if b.pause() {
				return
			}
			continue
		}

		if pollFds[1].Revents != 0 {
			return
		}

		revents := pollFds[0].Revents
		if revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			b.onError(&BackendError{Op: "poll", Err: fmt.Errorf("inotify descriptor reported revents %#x", revents)})
			if b.pause() {
				return
			}
			continue
		}
		if revents&unix.POLLIN == 0 {
			continue
		}

		n, err := unix.Read(b.fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			b.onError(&BackendError{Op: "read", Err: err})
			if b.pause() {
				return
			}
			continue
		}

		b.parse(buf[:n])
	}
}

// pause waits errorPause or until close is called. It reports whether close
// was called.
func (b *inotifyBackend) pause() bool {
	fds := []unix.PollFd{{Fd: int32(b.pipeR), Events: unix.POLLIN}}
	n, _ := unix.Poll(fds, int(errorPause/time.Millisecond))
	return n > 0
}

// parse decodes a buffer of consecutive inotify_event records:
//
//	struct inotify_event {
//	    int32_t  wd;
//	    uint32_t mask;
//	    uint32_t cookie;
//	    uint32_t len;     // length of name, including NUL padding
//	    char     name[];
//	}
func (b *inotifyBackend) parse(buf []byte) {
	now := time.Now().UTC()
	for offset := 0; offset+unix.SizeofInotifyEvent <= len(buf); {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		offset += unix.SizeofInotifyEvent

		var name string
		if raw.Len > 0 {
			end := offset + int(raw.Len)
			if end > len(buf) {
				b.onError(&BackendError{Op: "read", Err: fmt.Errorf("truncated event record")})
				return
			}
			nameBytes := buf[offset:end]
			if i := bytes.IndexByte(nameBytes, 0); i >= 0 {
				nameBytes = nameBytes[:i]
			}
			name = string(nameBytes)
			offset = end
		}

		b.handle(int(raw.Wd), raw.Mask, raw.Cookie, name, now)
	}
}

// handle keeps the watch set in step with the tree and forwards the event.
func (b *inotifyBackend) handle(wd int, mask, cookie uint32, name string, now time.Time) {
	if mask&unix.IN_Q_OVERFLOW != 0 {
		b.onError(&BackendError{Op: "read", Path: b.root, Err: ErrEventOverflow})
		// Creates may have been among the lost events.
		b.logger.Info("watcher: event queue overflowed, rescanning tree", slog.String("root", b.root))
		b.extendTree(b.root)
		return
	}

	b.mu.RLock()
	dir, ok := b.dirs[wd]
	b.mu.RUnlock()
	if !ok {
		// Queued for a watch that has since been removed.
		return
	}

	if mask&unix.IN_IGNORED != 0 {
		b.forget(wd)
		if wd == b.rootWd {
			b.reportRootLost("watch removed by kernel")
		}
		return
	}

	path := dir
	if name != "" {
		path = filepath.Join(dir, name)
	}
	isDir := mask&unix.IN_ISDIR != 0

	if name == "" && wd == b.rootWd {
		switch {
		case mask&unix.IN_DELETE_SELF != 0:
			b.reportRootLost("deleted")
		case mask&unix.IN_MOVE_SELF != 0:
			b.reportRootLost("moved")
		case mask&unix.IN_UNMOUNT != 0:
			b.reportRootLost("filesystem unmounted")
		}
	}

	if isDir && name != "" {
		switch {
		case mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0:
			b.extendTree(path)
		case mask&unix.IN_MOVED_FROM != 0:
			b.forgetTree(path)
		}
	}

	b.onEvent(RawEvent{
		Kind:   kindOf(mask),
		Path:   path,
		IsDir:  isDir,
		Cookie: cookie,
		Time:   now,
	})
}

func (b *inotifyBackend) reportRootLost(reason string) {
	if b.rootLost.Swap(true) {
		return
	}
	b.onError(&BackendError{Op: "watch", Path: b.root, Err: fmt.Errorf("%w: %s", ErrRootInvalidated, reason)})
}

// kindOf maps an inotify mask to a Kind. The kernel sets exactly one event
// bit per record, alongside flag bits such as IN_ISDIR.
func kindOf(mask uint32) Kind {
	switch {
	case mask&unix.IN_CLOSE_WRITE != 0:
		return KindCloseWrite
	case mask&unix.IN_CLOSE_NOWRITE != 0:
		return KindCloseNoWrite
	case mask&unix.IN_CREATE != 0:
		return KindCreate
	case mask&unix.IN_MODIFY != 0:
		return KindModifyData
	case mask&unix.IN_ATTRIB != 0:
		return KindModifyMetadata
	case mask&unix.IN_OPEN != 0:
		return KindAccessOpen
	case mask&(unix.IN_DELETE|unix.IN_DELETE_SELF) != 0:
		return KindRemove
	case mask&unix.IN_MOVED_FROM != 0:
		return KindRenameFrom
	case mask&unix.IN_MOVED_TO != 0:
		return KindRenameTo
	default:
		return KindOther
	}
}
