package accel

import (
	"fmt"

	"github.com/rarydzu/gblockfile/blockfile/chunker"
	"github.com/ztrue/tracerr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine performs transfers between a device resident buffer and one
// registered file. With zero workers it issues a single bulk call; otherwise
// it partitions the request and fans out one worker per chunk, each streaming
// its chunk in blockSize steps. The buffer is pinned for the duration of the
// call and unpinned on every exit path. Calls return only after all workers
// have joined.
type Engine struct {
	rt        Runtime
	fh        FileHandle
	workers   int
	blockSize int64
	log       *zap.SugaredLogger
}

func NewEngine(rt Runtime, fh FileHandle, workers int, blockSize int64, log *zap.SugaredLogger) *Engine {
	return &Engine{
		rt:        rt,
		fh:        fh,
		workers:   workers,
		blockSize: blockSize,
		log:       log,
	}
}

// ReadAt fills buf from the file starting at fileOff.
func (e *Engine) ReadAt(buf []byte, fileOff int64) error {
	return e.transfer(buf, fileOff, e.fh.ReadAt, "read")
}

// WriteAt writes buf to the file starting at fileOff.
func (e *Engine) WriteAt(buf []byte, fileOff int64) error {
	return e.transfer(buf, fileOff, e.fh.WriteAt, "write")
}

type transferFunc func(buf []byte, n, fileOff, devOff int64) (int64, error)

func (e *Engine) transfer(buf []byte, fileOff int64, op transferFunc, what string) (err error) {
	size := int64(len(buf))
	if size == 0 {
		return nil
	}
	if perr := e.rt.PinBuffer(buf); perr != nil {
		return tracerr.Errorf("%s: pinning buffer failed: %w", what, perr)
	}
	defer func() {
		if uerr := e.rt.UnpinBuffer(buf); uerr != nil && err == nil {
			err = tracerr.Errorf("%s: unpinning buffer failed: %w", what, uerr)
		}
	}()
	if e.workers <= 0 {
		n, terr := op(buf, size, fileOff, 0)
		if terr != nil {
			return fmt.Errorf("%w: bulk %s: size = %d, offset = %d: %v", ErrTransfer, what, size, fileOff, terr)
		}
		if n <= 0 {
			panic("accel: transfer primitive returned a non-positive count for a non-empty request")
		}
		return nil
	}
	chunks := chunker.Partition(size, fileOff, e.workers, e.blockSize)
	e.log.Debugf("%s fan-out: size %d, workers %d, block size %d", what, size, len(chunks), e.blockSize)
	g := &errgroup.Group{}
	for _, c := range chunks {
		c := c
		g.Go(func() error {
			return stream(buf, c, op, what)
		})
	}
	return g.Wait()
}

// stream moves one chunk in block size steps, advancing file and device
// offsets together. The final step is sized to the remainder.
func stream(buf []byte, c chunker.Chunk, op transferFunc, what string) error {
	fileOff := c.FileOffset
	devOff := c.DeviceOffset
	left := c.Length
	for left > 0 {
		step := c.BlockSize
		if step <= 0 || step > left {
			step = left
		}
		n, err := op(buf, step, fileOff, devOff)
		if err != nil {
			return fmt.Errorf("%w: worker %s: size = %d, file offset = %d, device offset = %d: %v",
				ErrTransfer, what, step, fileOff, devOff, err)
		}
		if n <= 0 {
			panic("accel: transfer primitive returned a non-positive count for a non-empty request")
		}
		fileOff += step
		devOff += step
		left -= step
	}
	return nil
}
