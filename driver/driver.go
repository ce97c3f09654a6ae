// Package driver defines the file driver contract consumed by the storage
// format library: open flags, per-driver feature flags and the File interface
// every backend has to implement. Concrete backends register themselves under
// a name and are opened through the registry.
package driver

// OpenFlags control how a backing file is opened.
type OpenFlags uint32

const (
	// ReadWrite opens the file for reading and writing, otherwise read only.
	ReadWrite OpenFlags = 1 << iota
	// Create creates the file if it does not exist.
	Create
	// Truncate truncates the file on open.
	Truncate
	// Exclusive fails the open if the file already exists.
	Exclusive
)

// Features describe capabilities a driver reports to the owning library.
type Features uint32

const (
	// FeatAggregateMetadata metadata allocations may be aggregated
	FeatAggregateMetadata Features = 1 << iota
	// FeatAccumulateMetadata metadata may be accumulated for larger writes
	FeatAccumulateMetadata
	// FeatAggregateSmallData small raw data allocations may be aggregated
	FeatAggregateSmallData
	// FeatPOSIXCompatHandle NativeHandle returns a POSIX file descriptor
	FeatPOSIXCompatHandle
	// FeatSWMR single writer / multiple readers access is supported
	FeatSWMR
	// FeatDefaultCompatible files are readable by the default driver
	FeatDefaultCompatible
	// FeatIgnoreDriverInfo stored driver info should be ignored on open
	FeatIgnoreDriverInfo
)

const (
	// AddrUndef is the distinguished undefined address and position sentinel.
	AddrUndef = ^uint64(0)
	// MaxAddr is the largest address representable in a signed file offset.
	MaxAddr = uint64(1<<63 - 1)
)

// FileID identifies a physical file for handle comparison.
type FileID struct {
	Dev uint64
	Ino uint64
}

// File is one open file belonging to a driver. Handles are driven by a single
// logical caller; a call may fan out internally but returns only when its I/O
// has fully completed.
type File interface {
	// ReadAt reads len(p) bytes starting at addr into p.
	ReadAt(addr uint64, p []byte) error
	// WriteAt writes len(p) bytes from p starting at addr.
	WriteAt(addr uint64, p []byte) error
	// EOA returns the end of the allocated address range.
	EOA() uint64
	// SetEOA sets the end of the allocated address range.
	SetEOA(addr uint64)
	// EOF returns the physical size of the backing file as last observed.
	EOF() uint64
	// Truncate resizes the backing file to the allocated end.
	Truncate() error
	// Lock takes a non-blocking advisory lock, exclusive or shared.
	Lock(exclusive bool) error
	// Unlock releases the advisory lock.
	Unlock() error
	// Query reports the driver's feature flags for this file.
	Query() Features
	// NativeHandle exposes the buffered POSIX descriptor.
	NativeHandle() (int, error)
	// ID returns the platform identity of the backing file.
	ID() FileID
	Close() error
}

// Compare orders two open files by platform file identity. It returns -1, 0
// or 1 like bytes.Compare; equal means both handles reference the same
// physical file.
func Compare(a, b File) int {
	ai, bi := a.ID(), b.ID()
	if ai.Dev < bi.Dev {
		return -1
	}
	if ai.Dev > bi.Dev {
		return 1
	}
	if ai.Ino < bi.Ino {
		return -1
	}
	if ai.Ino > bi.Ino {
		return 1
	}
	return 0
}
