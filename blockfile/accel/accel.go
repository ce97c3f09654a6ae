// Package accel abstracts the accelerator direct I/O subsystem: a process
// wide Runtime with an underlying driver context, per file registrations,
// buffer pinning, a memory residency query and positioned transfer calls.
// The Runtime is reference counted across handles: the first handle needing
// it opens the driver context, the last one closes it.
package accel

import (
	"errors"
	"sync"
)

var (
	// ErrNoRuntime no runtime has been installed with SetRuntime
	ErrNoRuntime = errors.New("no accelerator runtime configured")
	// ErrRuntimeBusy the installed runtime still has live references
	ErrRuntimeBusy = errors.New("accelerator runtime has live references")
	// ErrTransfer a transfer primitive failed mid request. The request may
	// have partially completed; the handle's cached state cannot be trusted.
	ErrTransfer = errors.New("accelerator transfer failed")
)

// Runtime is the process wide accelerator I/O subsystem.
type Runtime interface {
	// Open initializes the underlying driver context.
	Open() error
	// Close tears the driver context down.
	Close() error
	// DeviceResident reports whether buf is backed by accelerator memory.
	// It never fails the caller: any doubt means false and the host path.
	DeviceResident(buf []byte) bool
	// RegisterFile registers a descriptor for direct transfers.
	RegisterFile(fd int) (FileHandle, error)
	// PinBuffer pins a device resident buffer for the duration of a transfer.
	PinBuffer(buf []byte) error
	// UnpinBuffer releases a pinned buffer.
	UnpinBuffer(buf []byte) error
}

// FileHandle is one file registered with the runtime. ReadAt moves n bytes
// from file offset fileOff into buf[devOff:devOff+n], WriteAt moves them the
// other way. On success the returned count is positive for any non empty
// request; the primitive never reports a silent partial result.
type FileHandle interface {
	ReadAt(buf []byte, n, fileOff, devOff int64) (int64, error)
	WriteAt(buf []byte, n, fileOff, devOff int64) (int64, error)
	Deregister() error
}

var (
	mu      sync.Mutex
	runtime Runtime
	refs    int
)

// SetRuntime installs the process wide runtime. Passing nil uninstalls it.
// The runtime cannot be swapped while handles still hold references.
func SetRuntime(rt Runtime) error {
	mu.Lock()
	defer mu.Unlock()
	if refs > 0 {
		return ErrRuntimeBusy
	}
	runtime = rt
	return nil
}

// Configured reports whether a runtime is installed.
func Configured() bool {
	mu.Lock()
	defer mu.Unlock()
	return runtime != nil
}

// Acquire takes a reference on the installed runtime, opening the driver
// context on the first one.
func Acquire() (Runtime, error) {
	mu.Lock()
	defer mu.Unlock()
	if runtime == nil {
		return nil, ErrNoRuntime
	}
	if refs == 0 {
		if err := runtime.Open(); err != nil {
			return nil, err
		}
	}
	refs++
	return runtime, nil
}

// Release drops a reference, closing the driver context with the last one.
func Release() error {
	mu.Lock()
	defer mu.Unlock()
	if runtime == nil || refs == 0 {
		return ErrNoRuntime
	}
	refs--
	if refs == 0 {
		return runtime.Close()
	}
	return nil
}
