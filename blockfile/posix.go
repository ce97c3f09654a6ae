package blockfile

import (
	"io"

	"github.com/ztrue/tracerr"
	"golang.org/x/sys/unix"
)

// maxIOBytes bounds a single positioned call; POSIX leaves larger requests
// undefined.
const maxIOBytes = 1 << 30

// reposition moves the buffered descriptor's cursor to addr when positioned
// primitives are unavailable. The seek is elided when the cursor is already
// there from a previous operation of the same kind.
func (f *File) reposition(addr uint64, op fileOp) error {
	if f.positioned {
		return nil
	}
	if addr == f.pos && op == f.op {
		return nil
	}
	if _, err := f.fd.Seek(int64(addr), io.SeekStart); err != nil {
		return tracerr.Errorf("unable to seek %q to %d: %w", f.name, addr, err)
	}
	return nil
}

// posixRead is the byte exact fallback read loop: requests are split into
// sub-reads of at most maxIOBytes, interrupted calls are retried, and a zero
// byte result before the request is satisfied means end of file but not end
// of the allocated address space, so the remainder of p is zero filled.
func (f *File) posixRead(addr uint64, p []byte) error {
	fd := int(f.fd.Fd())
	total := len(p)
	if err := f.reposition(addr, opRead); err != nil {
		f.invalidate()
		return err
	}
	offset := int64(addr)
	for len(p) > 0 {
		step := len(p)
		if step > maxIOBytes {
			step = maxIOBytes
		}
		var n int
		var err error
		for {
			if f.positioned {
				n, err = unix.Pread(fd, p[:step], offset)
			} else {
				n, err = unix.Read(fd, p[:step])
			}
			if err != unix.EINTR {
				break
			}
		}
		if err != nil {
			cur, _ := unix.Seek(fd, 0, io.SeekCurrent)
			f.invalidate()
			return tracerr.Errorf("file read failed: filename = %q, descriptor = %d, total read size = %d, bytes this sub-read = %d, bytes actually read = %d, offset = %d: %w",
				f.name, fd, total, step, n, cur, err)
		}
		if n == 0 {
			// end of file but not end of the allocated address space
			for i := range p {
				p[i] = 0
			}
			f.stats.BytesZeroFilled += uint64(len(p))
			break
		}
		offset += int64(n)
		addr += uint64(n)
		f.stats.HostBytesRead += uint64(n)
		p = p[n:]
	}
	f.pos = addr
	f.op = opRead
	f.stats.Reads++
	return nil
}

// posixWrite is the fallback write loop, split and retried like posixRead. A
// zero byte result from a successful write call never happens; the loop
// treats it as a fatal contract violation.
func (f *File) posixWrite(addr uint64, p []byte) error {
	fd := int(f.fd.Fd())
	total := len(p)
	if err := f.reposition(addr, opWrite); err != nil {
		f.invalidate()
		return err
	}
	offset := int64(addr)
	for len(p) > 0 {
		step := len(p)
		if step > maxIOBytes {
			step = maxIOBytes
		}
		var n int
		var err error
		for {
			if f.positioned {
				n, err = unix.Pwrite(fd, p[:step], offset)
			} else {
				n, err = unix.Write(fd, p[:step])
			}
			if err != unix.EINTR {
				break
			}
		}
		if err != nil {
			cur, _ := unix.Seek(fd, 0, io.SeekCurrent)
			f.invalidate()
			return tracerr.Errorf("file write failed: filename = %q, descriptor = %d, total write size = %d, bytes this sub-write = %d, bytes actually written = %d, offset = %d: %w",
				f.name, fd, total, step, n, cur, err)
		}
		if n <= 0 {
			panic("blockfile: write returned a non-positive count without error")
		}
		offset += int64(n)
		addr += uint64(n)
		f.stats.HostBytesWritten += uint64(n)
		p = p[n:]
	}
	f.pos = addr
	f.op = opWrite
	f.stats.Writes++
	if f.pos > f.eof {
		f.eof = f.pos
	}
	return nil
}
