package blockfile

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

var (
	// ErrLockHeld the advisory lock is held by another process
	ErrLockHeld = errors.New("file lock held by another process")
	// ErrLockUnsupported the filesystem does not support advisory locking
	ErrLockUnsupported = errors.New("file locking not supported by filesystem")
)

func flock(fd int, how int) error {
	for {
		err := unix.Flock(fd, how)
		if err != unix.EINTR {
			return err
		}
	}
}

// Lock places a non blocking advisory lock on the file, exclusive for
// writers, shared for readers. A held lock and a filesystem without locking
// are distinguishable through ErrLockHeld and ErrLockUnsupported.
func (f *File) Lock(exclusive bool) error {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if err := flock(int(f.fd.Fd()), how|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			if holders := f.lockHolders(); len(holders) > 0 {
				f.log.Warnf("lock on %s contended, held by pids %v", f.name, holders)
			}
			return fmt.Errorf("%w: %s", ErrLockHeld, f.name)
		}
		if err == unix.ENOSYS || err == unix.EOPNOTSUPP {
			return fmt.Errorf("%w: %s", ErrLockUnsupported, f.name)
		}
		return fmt.Errorf("unable to lock %s: %w", f.name, err)
	}
	return nil
}

// Unlock removes the advisory lock.
func (f *File) Unlock() error {
	if err := flock(int(f.fd.Fd()), unix.LOCK_UN); err != nil {
		if err == unix.ENOSYS || err == unix.EOPNOTSUPP {
			return fmt.Errorf("%w: %s", ErrLockUnsupported, f.name)
		}
		return fmt.Errorf("unable to unlock %s: %w", f.name, err)
	}
	return nil
}

// lockHolders walks all processes and collects pids that have the file open,
// to make lock contention diagnosable.
func (f *File) lockHolders() []int32 {
	abs, err := filepath.Abs(f.name)
	if err != nil {
		return nil
	}
	processes, err := process.Processes()
	if err != nil {
		return nil
	}
	holders := []int32{}
	for _, p := range processes {
		openFiles, err := p.OpenFiles()
		if err != nil {
			continue
		}
		for _, of := range openFiles {
			if of.Path == abs {
				holders = append(holders, p.Pid)
				break
			}
		}
	}
	return holders
}
