package driver

import (
	"os"
	"os/signal"
	"syscall"
)

// terminationSignals are the signals a driver takes exclusive ownership
// of for the duration of a job (spec.md 6: "a build driver assumes
// exclusive ownership of the process's SIGTERM/SIGINT").
func terminationSignals() []os.Signal {
	return []os.Signal{syscall.SIGTERM, syscall.SIGINT}
}

func signalNumber(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return int(s)
	}
	return 0
}

// reraiseDefault restores the signal's default disposition and
// re-delivers it to this process, so the process exits exactly as it
// would have without an installed handler (spec.md 5 Cancellation:
// "re-raises the signal with default disposition").
func reraiseDefault(sig os.Signal) {
	signal.Reset(sig)
	if s, ok := sig.(syscall.Signal); ok {
		_ = syscall.Kill(syscall.Getpid(), s)
	}
}
