package accel

import (
	"fmt"
	"os"
	"testing"

	"github.com/rarydzu/gblockfile/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLogger(t *testing.T) *zap.SugaredLogger {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return logger.Sugar()
}

func openRuntime(t *testing.T) *SimRuntime {
	rt := NewSimRuntime()
	require.NoError(t, rt.Open())
	t.Cleanup(func() { rt.Close() })
	return rt
}

func registerTempFile(t *testing.T, rt *SimRuntime) FileHandle {
	f, err := os.CreateTemp(t.TempDir(), "engine")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	fh, err := rt.RegisterFile(int(f.Fd()))
	require.NoError(t, err)
	t.Cleanup(func() { fh.Deregister() })
	return fh
}

func TestRegisterFileOwnsDescriptor(t *testing.T) {
	rt := openRuntime(t)
	f, err := os.CreateTemp(t.TempDir(), "engine")
	require.NoError(t, err)
	fh, err := rt.RegisterFile(int(f.Fd()))
	require.NoError(t, err)

	// the registration duplicates the descriptor, so transfers keep working
	// after the caller's descriptor is gone
	require.NoError(t, f.Close())

	out := rt.Malloc(512)
	copy(out, utils.RandBytes(len(out)))
	n, err := fh.WriteAt(out, int64(len(out)), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(len(out)), n)

	in := rt.Malloc(512)
	n, err = fh.ReadAt(in, int64(len(in)), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(len(in)), n)
	assert.Equal(t, out, in)

	require.NoError(t, fh.Deregister())
	require.NoError(t, fh.Deregister())
}

func TestEngineBulkRoundTrip(t *testing.T) {
	rt := openRuntime(t)
	fh := registerTempFile(t, rt)
	e := NewEngine(rt, fh, 0, 1<<20, testLogger(t))

	out := rt.Malloc(8192)
	copy(out, utils.RandBytes(len(out)))
	require.NoError(t, e.WriteAt(out, 0))

	in := rt.Malloc(8192)
	require.NoError(t, e.ReadAt(in, 0))
	assert.Equal(t, out, in)
	assert.Equal(t, 0, rt.ActivePins())
}

func TestEngineWorkerRoundTrip(t *testing.T) {
	rt := openRuntime(t)
	fh := registerTempFile(t, rt)
	// three workers with a non-exact remainder, streaming in small blocks
	e := NewEngine(rt, fh, 3, 512, testLogger(t))

	size := 3*4096 + 7
	out := rt.Malloc(size)
	copy(out, utils.RandBytes(size))
	require.NoError(t, e.WriteAt(out, 4096))

	in := rt.Malloc(size)
	require.NoError(t, e.ReadAt(in, 4096))
	assert.Equal(t, out, in)
	assert.Equal(t, 0, rt.ActivePins())
}

func TestEngineEmptyRequest(t *testing.T) {
	rt := openRuntime(t)
	fh := registerTempFile(t, rt)
	e := NewEngine(rt, fh, 2, 512, testLogger(t))
	require.NoError(t, e.WriteAt(nil, 0))
	assert.Equal(t, 0, rt.ActivePins())
}

type failingFile struct{}

func (failingFile) ReadAt(buf []byte, n, fileOff, devOff int64) (int64, error) {
	return 0, fmt.Errorf("transfer rejected")
}

func (failingFile) WriteAt(buf []byte, n, fileOff, devOff int64) (int64, error) {
	return 0, fmt.Errorf("transfer rejected")
}

func (failingFile) Deregister() error { return nil }

func TestEngineUnpinsOnFailure(t *testing.T) {
	rt := openRuntime(t)
	e := NewEngine(rt, failingFile{}, 2, 4096, testLogger(t))
	buf := rt.Malloc(3 * 4096)
	err := e.WriteAt(buf, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransfer)
	err = e.ReadAt(buf, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransfer)
	assert.Equal(t, 0, rt.ActivePins())
}

func TestEngineBulkFailureIsClassified(t *testing.T) {
	rt := openRuntime(t)
	e := NewEngine(rt, failingFile{}, 0, 0, testLogger(t))
	buf := rt.Malloc(512)
	assert.ErrorIs(t, e.WriteAt(buf, 0), ErrTransfer)
	assert.Equal(t, 0, rt.ActivePins())
}

type silentFile struct{}

func (silentFile) ReadAt(buf []byte, n, fileOff, devOff int64) (int64, error) {
	return 0, nil
}

func (silentFile) WriteAt(buf []byte, n, fileOff, devOff int64) (int64, error) {
	return 0, nil
}

func (silentFile) Deregister() error { return nil }

func TestEngineFatalOnNonPositiveResult(t *testing.T) {
	rt := openRuntime(t)
	e := NewEngine(rt, silentFile{}, 0, 0, testLogger(t))
	buf := rt.Malloc(16)
	assert.Panics(t, func() { e.WriteAt(buf, 0) })
	assert.Equal(t, 0, rt.ActivePins())
}
