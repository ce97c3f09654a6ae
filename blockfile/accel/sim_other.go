//go:build !linux

package accel

import "golang.org/x/sys/unix"

// dupForTransfer duplicates fd so the registration owns its descriptor. The
// platform has no O_DIRECT flag to clear.
func dupForTransfer(fd int) (int, error) {
	return unix.Dup(fd)
}
