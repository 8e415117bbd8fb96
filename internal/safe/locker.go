// Package safe provides lock files guarding repository directories while they are moved.
package safe

import (
	"errors"
	"fmt"
	"os"
)

// ErrLocked is returned when a lock file for the path is already present.
var ErrLocked = errors.New("path already locked")

type lockerState int

const (
	lockerStateOpen = lockerState(iota)
	lockerStateLocked
	lockerStateClosed
)

// PathLocker takes an exclusive lock on a path by creating "<path>.lock" next to it. It also
// remembers whether the path existed when the locker was created, so that concurrent creation or
// removal of the path can be detected when the lock is taken.
type PathLocker struct {
	path    string
	existed bool
	state   lockerState
}

// NewPathLocker creates a new PathLocker for the given path. The path itself is not locked yet.
func NewPathLocker(path string) (*PathLocker, error) {
	existed, err := exists(path)
	if err != nil {
		return nil, err
	}

	return &PathLocker{path: path, existed: existed}, nil
}

// Lock creates the lock file. Must be called on an open PathLocker.
func (l *PathLocker) Lock() error {
	if l.state != lockerStateOpen {
		return fmt.Errorf("path locker not lockable")
	}

	if err := l.checkConcurrentModification(); err != nil {
		return err
	}

	lock, err := os.OpenFile(l.lockPath(), os.O_CREATE|os.O_EXCL|os.O_RDONLY, 0o400)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrLocked, l.path)
		}

		return fmt.Errorf("creating lock file: %w", err)
	}
	_ = lock.Close()

	l.state = lockerStateLocked

	return nil
}

// Close removes the lock file if this locker created it. Does nothing if the locker has already
// been closed.
func (l *PathLocker) Close() error {
	switch l.state {
	case lockerStateOpen:
		// No lock has been taken yet, so we don't have to unlock.
	case lockerStateLocked:
		// We only remove the lock in case we have taken it ourselves. Otherwise we risk
		// removing the lock of another, concurrent locker.
		if err := os.Remove(l.lockPath()); err != nil {
			return fmt.Errorf("removing lock file: %w", err)
		}
	case lockerStateClosed:
		return nil
	default:
		return fmt.Errorf("invalid state %d", l.state)
	}

	l.state = lockerStateClosed

	return nil
}

func (l *PathLocker) checkConcurrentModification() error {
	existsNow, err := exists(l.path)
	if err != nil {
		return err
	}

	if !l.existed && existsNow {
		return fmt.Errorf("path concurrently created")
	}
	if l.existed && !existsNow {
		return fmt.Errorf("path concurrently deleted")
	}

	return nil
}

func (l *PathLocker) lockPath() string {
	return l.path + ".lock"
}

func exists(path string) (bool, error) {
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("statting path: %w", err)
	}
	return true, nil
}
