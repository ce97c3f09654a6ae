//go:build !linux

package blockfile

import "os"

// openDirect opens the second descriptor without direct I/O; the platform has
// no O_DIRECT equivalent the driver relies on.
func openDirect(name string, oflags int) (*os.File, error) {
	return os.OpenFile(name, oflags, 0666)
}
