package redirect

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Lock is a PID lock file guarding the host-level redirect so two instances
// of this client never fight over the same hosts entry.
type Lock struct {
	Path string
	held bool
}

// NewLock creates a lock handle for the given path without acquiring it
func NewLock(path string) *Lock {
	return &Lock{Path: path}
}

// Acquire takes the lock. A lock held by a live process yields
// ErrAlreadyInUse; a leftover lock from a dead process is reclaimed.
func (l *Lock) Acquire() error {
	if l.held {
		return nil
	}

	for attempt := 0; attempt < 2; attempt++ {
		file, err := os.OpenFile(l.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(file, "%d\n", os.Getpid())
			cerr := file.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(l.Path)
				return fmt.Errorf("failed to write lock file: %v", werr)
			}
			l.held = true
			return nil
		}
		if !os.IsExist(err) {
			if os.IsPermission(err) {
				return fmt.Errorf("%w: lock file %s", ErrPermissionDenied, l.Path)
			}
			return fmt.Errorf("failed to create lock file: %v", err)
		}

		// Lock exists: stale if the owning process is gone. A lock carrying
		// our own PID counts as held too (another engine in this process).
		pid, perr := readLockPID(l.Path)
		if perr == nil && processAlive(pid) {
			return fmt.Errorf("%w: held by pid %d", ErrAlreadyInUse, pid)
		}
		// Unreadable or dead owner: reclaim and retry once
		if rmErr := os.Remove(l.Path); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("%w: stale lock could not be removed", ErrAlreadyInUse)
		}
	}
	return fmt.Errorf("%w: lock contention on %s", ErrAlreadyInUse, l.Path)
}

// Release drops the lock. Safe to call when not held.
func (l *Lock) Release() {
	if !l.held {
		return
	}
	_ = os.Remove(l.Path)
	l.held = false
}

func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
