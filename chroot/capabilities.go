package chroot

import (
	"os"
	"time"
)

// Capabilities parameterizes a single concrete Root builder with what to
// mount, copy, and install, replacing the AbstractChroot -> BaseChroot ->
// ConaryBasedRoot inheritance chain named in original_source/rmake's
// rootfactory.py with the "builder with capability flags" design spec.md
// 9 calls for: subclass overrides become fields here instead of new
// types.
type Capabilities struct {
	// Privileged selects between the setuid chroot-helper path (real
	// chroot + device nodes) and the unprivileged/test-mode path that
	// execs the build server directly with the inherited host environment
	// plus RMAKEDRV_TEST_MODE=1; no module search path is added to that
	// environment (spec.md 4.4 step 6).
	Privileged bool

	// Mounts lists the bind/overlay mounts to set up during Scaffold,
	// in order. Grounded on the teacher's fixed 27-entry BSD mount table
	// (environment/bsd/bsd.go), generalized to a configuration-driven
	// list per SPEC_FULL.md.
	Mounts []Mount

	// HostFilesToCopy are copied from the host into the root verbatim,
	// e.g. /etc/hosts, /etc/resolv.conf, timezone data (spec.md 4.4
	// step 3).
	HostFilesToCopy []string

	// Changesets are the opaque changeset identifiers the install-job
	// applies into the root, in order (spec.md 4.4 step 2). Empty in
	// DefaultCapabilities.
	Changesets []string

	// Users and Groups are spliced into the root's /etc/passwd,
	// /etc/group (and /etc/shadow, if Privileged) preserving unaffected
	// lines (spec.md 4.4 step 4).
	Users  []UserEntry
	Groups []GroupEntry

	// SocketWait, PingTimeout, StopTimeout are the spec.md 4.4/5
	// timeouts; overridable per Capabilities so tests can shrink them.
	SocketWait  time.Duration
	PingTimeout time.Duration
	StopTimeout time.Duration
}

// Mount describes one filesystem to set up under a chroot root.
type Mount struct {
	Type   MountType
	Source string // "" for pseudo-filesystems (tmpfs/devfs/procfs)
	Target string // path relative to the chroot root
	RW     bool
	Size   string // tmpfs size, e.g. "16g"; empty for non-tmpfs mounts

	// Mode is the mode scaffold() applies to Target after mounting, e.g.
	// os.ModeSticky|0777 for /tmp and /var/tmp (spec.md 4.4 step 3). 0
	// means the factory's default (0755).
	Mode os.FileMode
}

// MountType names the filesystem kind for a Mount, grounded on the
// teacher's mount type bitmask (mount/mount.go's MountType* constants),
// generalized to a small enum since this repo no longer needs the
// bitmask's combinability (RW is its own field here).
type MountType int

const (
	MountTmpfs MountType = iota
	MountBind  // nullfs on BSD, bind-mount elsewhere
	MountDevfs
	MountProcfs
)

// UserEntry is one line to splice into /etc/passwd.
type UserEntry struct {
	Name  string
	UID   int
	GID   int
	Home  string
	Shell string
}

// GroupEntry is one line to splice into /etc/group.
type GroupEntry struct {
	Name string
	GID  int
}

// DefaultCapabilities returns the unprivileged/test-mode capability set:
// no device nodes, no setuid helper, a minimal host-file copy list.
// Matches spec.md 4.4 step 5/6's "tests run unprivileged" note.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Privileged:      false,
		HostFilesToCopy: []string{"/etc/hosts", "/etc/resolv.conf", "/etc/passwd", "/etc/group", "/etc/nsswitch.conf"},
		SocketWait:      180 * time.Second,
		PingTimeout:     60 * time.Second,
		StopTimeout:     40 * time.Second,
	}
}

// StandardMounts returns the mount list a privileged root scaffolds
// (spec.md 4.4 step 3): tmpfs at /tmp and /var/tmp with the sticky mode
// world-writable directories require, plus devfs and procfs. Not part of
// DefaultCapabilities since that constructor is explicitly the
// unprivileged/test-mode set, which mounts nothing.
func StandardMounts() []Mount {
	return []Mount{
		{Type: MountTmpfs, Target: "tmp", RW: true, Mode: os.ModeSticky | 0777},
		{Type: MountTmpfs, Target: "var/tmp", RW: true, Mode: os.ModeSticky | 0777},
		{Type: MountDevfs, Target: "dev", RW: true},
		{Type: MountProcfs, Target: "proc", RW: true},
	}
}
