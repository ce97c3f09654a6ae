package accel

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SimRuntime simulates an accelerator runtime in host memory. Device
// allocations come from Malloc and are tracked by base address, so the
// residency query and pin bookkeeping behave like the real subsystem while
// transfers are served with ordinary positioned I/O. It keeps the device
// path exercisable on machines without accelerator hardware.
type SimRuntime struct {
	mu     sync.Mutex
	open   bool
	opens  int
	closes int
	allocs map[uintptr][]byte
	pinned map[uintptr]int
	pins   int
	unpins int
}

func NewSimRuntime() *SimRuntime {
	return &SimRuntime{
		allocs: map[uintptr][]byte{},
		pinned: map[uintptr]int{},
	}
}

func bufBase(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

func (s *SimRuntime) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return fmt.Errorf("sim runtime already open")
	}
	s.open = true
	s.opens++
	return nil
}

func (s *SimRuntime) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return fmt.Errorf("sim runtime not open")
	}
	s.open = false
	s.closes++
	return nil
}

// Malloc allocates a device buffer of n bytes.
func (s *SimRuntime) Malloc(n int) []byte {
	b := make([]byte, n)
	s.mu.Lock()
	s.allocs[bufBase(b)] = b
	s.mu.Unlock()
	return b
}

// Free releases a device buffer allocated with Malloc.
func (s *SimRuntime) Free(b []byte) {
	s.mu.Lock()
	delete(s.allocs, bufBase(b))
	s.mu.Unlock()
}

func (s *SimRuntime) DeviceResident(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	p := bufBase(buf)
	s.mu.Lock()
	defer s.mu.Unlock()
	for base, alloc := range s.allocs {
		if p >= base && p < base+uintptr(len(alloc)) {
			return true
		}
	}
	return false
}

func (s *SimRuntime) PinBuffer(buf []byte) error {
	if !s.DeviceResident(buf) {
		return fmt.Errorf("pin of non device resident buffer")
	}
	s.mu.Lock()
	s.pinned[bufBase(buf)]++
	s.pins++
	s.mu.Unlock()
	return nil
}

func (s *SimRuntime) UnpinBuffer(buf []byte) error {
	p := bufBase(buf)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pinned[p] == 0 {
		return fmt.Errorf("unpin of buffer that is not pinned")
	}
	s.pinned[p]--
	if s.pinned[p] == 0 {
		delete(s.pinned, p)
	}
	s.unpins++
	return nil
}

// ActivePins returns the number of currently pinned buffers.
func (s *SimRuntime) ActivePins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pinned)
}

// Opens returns how many times the driver context has been opened.
func (s *SimRuntime) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Closes returns how many times the driver context has been closed.
func (s *SimRuntime) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// IsOpen reports whether the driver context is currently open.
func (s *SimRuntime) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// RegisterFile registers a descriptor for transfers. The registration owns a
// duplicate with O_DIRECT cleared, so the sim's unaligned positioned I/O is
// legal regardless of how the caller opened fd.
func (s *SimRuntime) RegisterFile(fd int) (FileHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, fmt.Errorf("sim runtime not open")
	}
	nfd, err := dupForTransfer(fd)
	if err != nil {
		return nil, fmt.Errorf("duplicating descriptor %d failed: %w", fd, err)
	}
	return &simFile{fd: nfd}, nil
}

type simFile struct {
	fd int
}

func (f *simFile) ReadAt(buf []byte, n, fileOff, devOff int64) (int64, error) {
	for {
		got, err := unix.Pread(f.fd, buf[devOff:devOff+n], fileOff)
		if err == unix.EINTR {
			continue
		}
		return int64(got), err
	}
}

func (f *simFile) WriteAt(buf []byte, n, fileOff, devOff int64) (int64, error) {
	for {
		got, err := unix.Pwrite(f.fd, buf[devOff:devOff+n], fileOff)
		if err == unix.EINTR {
			continue
		}
		return int64(got), err
	}
}

func (f *simFile) Deregister() error {
	if f.fd < 0 {
		return nil
	}
	err := unix.Close(f.fd)
	f.fd = -1
	return err
}
