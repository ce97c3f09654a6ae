// Package blockfile implements a block addressed file driver that can move
// data directly between the backing file and accelerator memory. Every handle
// owns two descriptors to the same file, one buffered and one opened for
// direct I/O; requests on device resident buffers go through the accelerator
// transfer engine against the direct descriptor, everything else takes the
// positioned POSIX path against the buffered one. The handle tracks the
// allocated end (eoa), the physical end (eof) and a cached cursor position
// that is invalidated on any failure.
package blockfile

import (
	"os"

	"github.com/jinzhu/copier"
	"github.com/rarydzu/gblockfile/blockfile/accel"
	"github.com/rarydzu/gblockfile/blockfile/chunker"
	"github.com/rarydzu/gblockfile/blockfile/config"
	"github.com/rarydzu/gblockfile/driver"
	"github.com/rarydzu/gblockfile/stats"
	"github.com/ztrue/tracerr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// DriverName is the name the driver registers under.
const DriverName = "blockfile"

var _ driver.File = (*File)(nil)

type fileOp uint8

const (
	opUnknown fileOp = iota
	opRead
	opWrite
)

type File struct {
	name string
	// fd is the buffered descriptor, dfd the direct one. Both are owned by
	// the handle and closed together.
	fd  *os.File
	dfd *os.File

	accelFile accel.FileHandle
	engine    *accel.Engine
	rt        accel.Runtime
	accelHeld bool

	cfg config.Config
	log *zap.SugaredLogger

	// eoa is the end of the allocated address range, eof the physical file
	// size as last observed. pos caches the cursor after a successful
	// operation and holds driver.AddrUndef otherwise.
	eoa uint64
	eof uint64
	pos uint64
	op  fileOp

	// positioned reports whether positioned read/write primitives are used.
	// When false the fallback path repositions the cursor explicitly, eliding
	// redundant seeks via pos and op.
	positioned bool

	maxAddr uint64
	id      driver.FileID

	stats   stats.Counters
	journal *stats.Journal
}

// RegisterDriver registers the driver under DriverName with the given
// configuration and logger baked in.
func RegisterDriver(cfg *config.Config, log *zap.SugaredLogger) error {
	return driver.Register(DriverName, func(name string, flags driver.OpenFlags, maxAddr uint64) (driver.File, error) {
		return Open(name, flags, cfg, maxAddr, log)
	})
}

// Open opens or creates name under the given flags. maxAddr is the address
// space ceiling the owning library will use and has to be nonzero, defined
// and representable in a signed file offset. When an accelerator runtime is
// installed the handle takes a reference on it, opens the direct descriptor
// and registers it for device transfers; without one every request takes the
// POSIX path.
func Open(name string, flags driver.OpenFlags, cfg *config.Config, maxAddr uint64, log *zap.SugaredLogger) (*File, error) {
	if name == "" {
		return nil, tracerr.New("invalid file name")
	}
	if maxAddr == 0 || maxAddr == driver.AddrUndef {
		return nil, tracerr.Errorf("bogus maxaddr %#x", maxAddr)
	}
	if maxAddr > driver.MaxAddr {
		return nil, tracerr.Errorf("maxaddr overflow: %#x", maxAddr)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	oflags := unix.O_RDONLY
	if flags&driver.ReadWrite != 0 {
		oflags = unix.O_RDWR
	}
	if flags&driver.Truncate != 0 {
		oflags |= unix.O_TRUNC
	}
	if flags&driver.Create != 0 {
		oflags |= unix.O_CREAT
	}
	if flags&driver.Exclusive != 0 {
		oflags |= unix.O_EXCL
	}

	fd, err := os.OpenFile(name, oflags, 0666)
	if err != nil {
		return nil, tracerr.Errorf("unable to open file: name = %q, flags = %#x: %w", name, oflags, err)
	}

	f := &File{
		name:       name,
		fd:         fd,
		pos:        driver.AddrUndef,
		op:         opUnknown,
		positioned: true,
		maxAddr:    maxAddr,
		log:        log,
	}
	if cfg != nil {
		if err := copier.Copy(&f.cfg, cfg); err != nil {
			fd.Close()
			return nil, tracerr.Errorf("copying config failed: %w", err)
		}
	}
	if f.cfg.BlockSize <= 0 {
		f.cfg.BlockSize = config.DefaultBlockSize
	}

	// Release everything acquired so far on any later failure.
	fail := func(err error) (*File, error) {
		if f.accelFile != nil {
			f.accelFile.Deregister()
		}
		if f.accelHeld {
			accel.Release()
		}
		if f.dfd != nil {
			f.dfd.Close()
		}
		fd.Close()
		return nil, err
	}

	var st unix.Stat_t
	if err := unix.Fstat(int(fd.Fd()), &st); err != nil {
		return fail(tracerr.Errorf("unable to fstat file %q: %w", name, err))
	}
	f.eof = uint64(st.Size)
	f.id = driver.FileID{
		Dev: uint64(st.Dev),
		Ino: uint64(st.Ino),
	}

	if accel.Configured() {
		rt, err := accel.Acquire()
		if err != nil {
			return fail(tracerr.Errorf("unable to open accelerator driver: %w", err))
		}
		f.rt = rt
		f.accelHeld = true
		// The buffered open already created or truncated the file; the
		// direct descriptor only needs the access mode.
		doflags := unix.O_RDONLY
		if flags&driver.ReadWrite != 0 {
			doflags = unix.O_RDWR
		}
		dfd, err := openDirect(name, doflags)
		if err != nil {
			return fail(tracerr.Errorf("unable to open direct descriptor: name = %q: %w", name, err))
		}
		f.dfd = dfd
		afh, err := rt.RegisterFile(int(dfd.Fd()))
		if err != nil {
			return fail(tracerr.Errorf("unable to register file with accelerator driver: %w", err))
		}
		f.accelFile = afh
		f.engine = accel.NewEngine(rt, afh, f.cfg.WorkerCount, f.cfg.BlockSize, log)
	}

	if f.cfg.StatsPath != "" {
		j, err := stats.OpenJournal(f.cfg.StatsPath, nil)
		if err != nil {
			return fail(err)
		}
		f.journal = j
	}
	return f, nil
}

// Close tears the handle down best effort: the stats journal, the
// accelerator registration, the runtime reference and the direct descriptor
// each report failures without stopping the remaining steps. Only a close
// failure of the buffered descriptor fails the close itself.
func (f *File) Close() error {
	if f.journal != nil {
		if err := f.journal.Record(f.name, &f.stats); err != nil {
			f.log.Errorf("recording stats for %s failed: %v", f.name, err)
		}
		if err := f.journal.Close(); err != nil {
			f.log.Errorf("closing stats journal failed: %v", err)
		}
		f.journal = nil
	}
	if f.accelFile != nil {
		if err := f.accelFile.Deregister(); err != nil {
			f.log.Errorf("deregistering %s from accelerator driver failed: %v", f.name, err)
		}
		f.accelFile = nil
	}
	if f.accelHeld {
		if err := accel.Release(); err != nil {
			f.log.Errorf("releasing accelerator driver failed: %v", err)
		}
		f.accelHeld = false
	}
	if f.dfd != nil {
		if err := f.dfd.Close(); err != nil {
			f.log.Errorf("unable to close direct descriptor of %s: %v", f.name, err)
		}
		f.dfd = nil
	}
	if err := f.fd.Close(); err != nil {
		return tracerr.Errorf("unable to close file %q: %w", f.name, err)
	}
	return nil
}

// EOA returns the end of the allocated address range.
func (f *File) EOA() uint64 {
	return f.eoa
}

// SetEOA sets the end of the allocated address range.
func (f *File) SetEOA(addr uint64) {
	f.eoa = addr
}

// EOF returns the physical file size as last observed.
func (f *File) EOF() uint64 {
	return f.eof
}

// ID returns the platform identity of the backing file.
func (f *File) ID() driver.FileID {
	return f.id
}

// NativeHandle exposes the buffered POSIX descriptor.
func (f *File) NativeHandle() (int, error) {
	return int(f.fd.Fd()), nil
}

// Query reports the driver's feature flags.
func (f *File) Query() driver.Features {
	flags := driver.FeatAggregateMetadata |
		driver.FeatAccumulateMetadata |
		driver.FeatAggregateSmallData |
		driver.FeatPOSIXCompatHandle |
		driver.FeatSWMR |
		driver.FeatDefaultCompatible
	if f.cfg.FamilyToSingle {
		flags |= driver.FeatIgnoreDriverInfo
	}
	return flags
}

// Stats returns a snapshot of the handle's transfer counters.
func (f *File) Stats() stats.Counters {
	return f.stats
}

// ReadAt reads len(p) bytes starting at addr into p. Device resident buffers
// are filled by the accelerator engine against the direct descriptor,
// everything else by the POSIX path. Reading allocated but never written
// space beyond the physical end yields zeroes.
func (f *File) ReadAt(addr uint64, p []byte) error {
	if err := f.checkRegion(addr, len(p)); err != nil {
		f.invalidate()
		return err
	}
	if len(p) == 0 {
		return nil
	}
	if f.engine != nil && f.rt.DeviceResident(p) {
		if f.cfg.WorkerCount > 0 {
			f.stats.WorkerSpawns += uint64(chunker.Workers(int64(len(p)), f.cfg.WorkerCount))
		}
		if err := f.engine.ReadAt(p, int64(addr)); err != nil {
			f.invalidate()
			return err
		}
		f.stats.Reads++
		f.stats.DeviceBytesRead += uint64(len(p))
		return nil
	}
	return f.posixRead(addr, p)
}

// WriteAt writes len(p) bytes from p starting at addr, dispatching the same
// way as ReadAt. The physical end is raised when the write extends the file.
func (f *File) WriteAt(addr uint64, p []byte) error {
	if err := f.checkRegion(addr, len(p)); err != nil {
		f.invalidate()
		return err
	}
	if len(p) == 0 {
		return nil
	}
	if f.engine != nil && f.rt.DeviceResident(p) {
		if f.cfg.WorkerCount > 0 {
			f.stats.WorkerSpawns += uint64(chunker.Workers(int64(len(p)), f.cfg.WorkerCount))
		}
		if err := f.engine.WriteAt(p, int64(addr)); err != nil {
			f.invalidate()
			return err
		}
		f.stats.Writes++
		f.stats.DeviceBytesWritten += uint64(len(p))
		if end := addr + uint64(len(p)); end > f.eof {
			f.eof = end
		}
		return nil
	}
	return f.posixWrite(addr, p)
}

// Truncate resizes the backing file to the allocated end when it differs
// from the physical end and invalidates the cached position.
func (f *File) Truncate() error {
	if f.eoa != f.eof {
		if err := unix.Ftruncate(int(f.fd.Fd()), int64(f.eoa)); err != nil {
			return tracerr.Errorf("unable to truncate %q to %d bytes: %w", f.name, f.eoa, err)
		}
		f.eof = f.eoa
		f.invalidate()
	}
	return nil
}

// checkRegion validates an address range against the undefined sentinel, the
// signed offset type and the allocated end.
func (f *File) checkRegion(addr uint64, size int) error {
	if addr == driver.AddrUndef {
		return tracerr.Errorf("addr undefined, addr = %#x", addr)
	}
	if addr > f.maxAddr || uint64(size) > f.maxAddr-addr {
		return tracerr.Errorf("addr overflow, addr = %d, size = %d", addr, size)
	}
	if addr+uint64(size) > f.eoa {
		return tracerr.Errorf("addr out of allocated range, addr = %d, size = %d, eoa = %d", addr, size, f.eoa)
	}
	return nil
}

func (f *File) invalidate() {
	f.pos = driver.AddrUndef
	f.op = opUnknown
}
