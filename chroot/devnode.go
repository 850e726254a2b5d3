package chroot

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mknodLike creates target as a device node of the same type/major/minor
// as the existing host device at src. Grounded on environment/bsd/bsd.go's
// device-node setup, generalized from a fixed device list to copying
// whatever major/minor the host actually has, via golang.org/x/sys/unix
// (the teacher's privileged-syscall dependency) rather than the stdlib,
// which exposes no mknod.
func mknodLike(target, src string) error {
	var st unix.Stat_t
	if err := unix.Stat(src, &st); err != nil {
		return fmt.Errorf("stat host device %s: %w", src, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR && st.Mode&unix.S_IFMT != unix.S_IFBLK {
		return fmt.Errorf("%s is not a device node", src)
	}
	return unix.Mknod(target, uint32(st.Mode), int(st.Rdev))
}
