package chroot

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// UnixMounter is the production Mounter: it calls unix.Mount/unix.Unmount
// directly rather than exec'ing mount(8), grounded on the teacher's
// mount/mount.go doMount/doUnmount pair (whose doMount note says "on
// Linux this would use unix.Mount()" and whose doUnmount already does),
// generalized from the teacher's fixed mount-type bitmask to this
// package's Mount/MountType value type.
type UnixMounter struct{}

func (UnixMounter) Mount(m Mount, basePath string) error {
	target := filepath.Join(basePath, m.Target)
	if err := os.MkdirAll(target, 0755); err != nil {
		return err
	}

	fstype, source, flags, data := mountArgs(m)
	if err := unix.Mount(source, target, fstype, flags, data); err != nil {
		return fmt.Errorf("mount %s (%s) on %s: %w", source, fstype, target, err)
	}
	return nil
}

func (UnixMounter) Unmount(m Mount, basePath string) error {
	target := filepath.Join(basePath, m.Target)
	err := unix.Unmount(target, 0)
	switch err {
	case nil, unix.EPERM, unix.ENOENT, unix.EINVAL:
		return nil // matches the teacher's doUnmount "expected errors, ignore" set
	default:
		return fmt.Errorf("unmount %s: %w", target, err)
	}
}

// mountArgs translates a Mount into unix.Mount's (fstype, source, flags,
// data) arguments, folding RW/Size into the same mount-option string the
// teacher's doMount builds (e.g. "rw,size=16g").
func mountArgs(m Mount) (fstype, source string, flags uintptr, data string) {
	rwOpt := "ro"
	if m.RW {
		rwOpt = "rw"
	}

	switch m.Type {
	case MountTmpfs:
		size := m.Size
		if size == "" {
			size = "16g"
		}
		return "tmpfs", "tmpfs", 0, fmt.Sprintf("%s,size=%s", rwOpt, size)
	case MountBind:
		flags := uintptr(unix.MS_BIND)
		if !m.RW {
			flags |= unix.MS_RDONLY
		}
		return "", m.Source, flags, ""
	case MountDevfs:
		return "devtmpfs", "devtmpfs", 0, rwOpt
	case MountProcfs:
		return "proc", "proc", 0, rwOpt
	default:
		return "tmpfs", "tmpfs", 0, rwOpt
	}
}
