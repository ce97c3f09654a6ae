//go:build linux

package accel

import "golang.org/x/sys/unix"

// dupForTransfer duplicates fd and clears O_DIRECT on the copy. The sim
// serves transfers with ordinary positioned I/O at arbitrary offsets and
// lengths, which the O_DIRECT alignment rules forbid; the real subsystem
// stages alignment internally, so the sim has to absorb it here.
func dupForTransfer(fd int) (int, error) {
	nfd, err := unix.Dup(fd)
	if err != nil {
		return -1, err
	}
	fl, err := unix.FcntlInt(uintptr(nfd), unix.F_GETFL, 0)
	if err != nil {
		unix.Close(nfd)
		return -1, err
	}
	if _, err := unix.FcntlInt(uintptr(nfd), unix.F_SETFL, fl&^unix.O_DIRECT); err != nil {
		unix.Close(nfd)
		return -1, err
	}
	return nfd, nil
}
