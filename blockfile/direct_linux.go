//go:build linux

package blockfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// openDirect opens a second descriptor to name with O_DIRECT for accelerator
// transfers. Filesystems that reject O_DIRECT (tmpfs among them) get a plain
// descriptor instead; direct I/O is a capability, not a requirement.
func openDirect(name string, oflags int) (*os.File, error) {
	f, err := os.OpenFile(name, oflags|unix.O_DIRECT, 0666)
	if err == nil {
		return f, nil
	}
	if pe, ok := err.(*os.PathError); ok && (pe.Err == unix.EINVAL || pe.Err == unix.EOPNOTSUPP) {
		return os.OpenFile(name, oflags, 0666)
	}
	return nil, err
}
