//go:build !windows

package sharc

import (
	"fmt"
	"syscall"
)

// lock acquires an advisory fcntl lock covering the whole file. A shared
// request takes a read lock; reserved/pending/exclusive all escalate to a
// write lock, matching the coarser advisory granularity a single-writer
// engine needs.
func (f *osFile) lock(lockType LockType) error {
	var flockType int16
	switch lockType {
	case LockShared:
		flockType = syscall.F_RDLCK
	case LockReserved, LockPending, LockExclusive:
		flockType = syscall.F_WRLCK
	default:
		return fmt.Errorf("sharc: unsupported lock type %d", lockType)
	}

	flock := &syscall.Flock_t{
		Type:   flockType,
		Whence: 0,
		Start:  0,
		Len:    0,
	}
	if err := syscall.FcntlFlock(f.Fd(), syscall.F_SETLK, flock); err != nil {
		return fmt.Errorf("sharc: acquire unix lock (type %d): %w", lockType, err)
	}
	return nil
}

func (f *osFile) unlock() error {
	flock := &syscall.Flock_t{Type: syscall.F_UNLCK, Whence: 0, Start: 0, Len: 0}
	if err := syscall.FcntlFlock(f.Fd(), syscall.F_SETLK, flock); err != nil {
		return fmt.Errorf("sharc: release unix lock: %w", err)
	}
	return nil
}
