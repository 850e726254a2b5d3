package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/spf13/cobra"
)

// chrootHelperCmd is the setuid chroot-helper binary chroot.ExecLauncher
// invokes in privileged mode (spec.md 4.4 step 6, chroot.Capabilities.
// Privileged): `rmakedrv chroot-helper <rootPath> <serverPath> [args...]`
// chroots into rootPath and execs serverPath with the remaining args.
//
// Grounded on the teacher's worker_helper.go (dragonfly/freebsd build),
// generalized from DragonFly's procctl(PROC_REAP_ACQUIRE/PROC_REAP_KILL)
// reaper to Linux's PR_SET_CHILD_SUBREAPER plus a process-group kill,
// since this repo's chroot package (UnixMounter) already targets Linux
// rather than the teacher's BSD backend.
var chrootHelperCmd = &cobra.Command{
	Use:    "chroot-helper <rootPath> <serverPath> [serverArgs...]",
	Hidden: true,
	Args:   cobra.MinimumNArgs(2),
	RunE:   runChrootHelper,
}

func init() {
	rootCmd.AddCommand(chrootHelperCmd)
}

func runChrootHelper(cmd *cobra.Command, args []string) error {
	rootPath, serverPath, serverArgs := args[0], args[1], args[2:]

	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		fmt.Fprintf(os.Stderr, "chroot-helper: warning: failed to become child subreaper: %v\n", err)
	}

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return fmt.Errorf("chroot-helper: open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	if err := unix.Chroot(rootPath); err != nil {
		return fmt.Errorf("chroot-helper: chroot to %s: %w", rootPath, err)
	}
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("chroot-helper: chdir to /: %w", err)
	}

	child := exec.Command(serverPath, serverArgs...)
	child.Stdin = devNull
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	child.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	runErr := child.Run()
	reapDescendants(child)

	if exitErr, ok := runErr.(*exec.ExitError); ok {
		os.Exit(exitErr.ExitCode())
	}
	return runErr
}

// reapDescendants kills the build server's process group, mirroring the
// teacher's ReapAll "kill all descendants on exit" step so a build server
// that leaves grandchildren behind does not leak them past the chroot's
// Teardown.
func reapDescendants(child *exec.Cmd) {
	if child.Process == nil {
		return
	}
	pgid, err := unix.Getpgid(child.Process.Pid)
	if err != nil {
		return
	}
	_ = unix.Kill(-pgid, syscall.SIGKILL)
}
