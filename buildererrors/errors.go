// Package buildererrors defines the error taxonomy spec.md 7 names:
// sentinel errors checkable with errors.Is, and typed errors that carry
// per-kind detail and unwrap to their sentinel. Grounded on pkg/errors.go's
// sentinel-plus-wrapper-type shape, generalized from port-resolution
// errors to the build driver's seven error kinds.
package buildererrors

import "fmt"

// Sentinel errors, one per spec.md 7 error kind.
var (
	ErrSanityFailure      = fmt.Errorf("recipe or job violates composition rules")
	ErrResolutionFailure  = fmt.Errorf("build-requirements cannot be satisfied")
	ErrDependencyCycle    = fmt.Errorf("circular build-requirement dependency")
	ErrBuildFailure       = fmt.Errorf("in-chroot build step failed")
	ErrChrootFailure      = fmt.Errorf("chroot could not be prepared or torn down")
	ErrSignalTermination  = fmt.Errorf("job terminated by signal")
	ErrUnexpectedException = fmt.Errorf("unexpected error during build")
)

// SanityFailure wraps ErrSanityFailure with the offending reason
// (spec.md 7: "surfaces as job-level jobFailed with a human-readable
// reason").
type SanityFailure struct {
	Reason string
}

func (e *SanityFailure) Error() string { return fmt.Sprintf("sanity check failed: %s", e.Reason) }
func (e *SanityFailure) Unwrap() error { return ErrSanityFailure }

// ResolutionFailure wraps ErrResolutionFailure with the recipe and its
// unresolved requirement set (spec.md 7: "per-recipe UNBUILDABLE with the
// unresolved requirement set").
type ResolutionFailure struct {
	Recipe       string
	Unresolved   []string
}

func (e *ResolutionFailure) Error() string {
	return fmt.Sprintf("%s: unresolved build-requirements %v", e.Recipe, e.Unresolved)
}
func (e *ResolutionFailure) Unwrap() error { return ErrResolutionFailure }

// DependencyCycle wraps ErrDependencyCycle with the member recipes
// (spec.md 7: "every cycle member becomes UNBUILDABLE").
type DependencyCycle struct {
	Members []string
}

func (e *DependencyCycle) Error() string {
	return fmt.Sprintf("circular build-requirement dependency among: %v", e.Members)
}
func (e *DependencyCycle) Unwrap() error { return ErrDependencyCycle }

// BuildFailure wraps ErrBuildFailure with the recipe and exit detail
// (spec.md 7: "the in-chroot build step returned nonzero or produced no
// expected binaries").
type BuildFailure struct {
	Recipe string
	Detail string
}

func (e *BuildFailure) Error() string { return fmt.Sprintf("%s: build failed: %s", e.Recipe, e.Detail) }
func (e *BuildFailure) Unwrap() error { return ErrBuildFailure }

// ChrootFailure wraps ErrChrootFailure with the recipe and diagnostic
// (spec.md 7: "root cannot be cleaned, install job fails, child process
// dies before socket appears").
type ChrootFailure struct {
	Recipe     string
	Diagnostic string
}

func (e *ChrootFailure) Error() string {
	return fmt.Sprintf("%s: chroot failure: %s", e.Recipe, e.Diagnostic)
}
func (e *ChrootFailure) Unwrap() error { return ErrChrootFailure }

// SignalTermination wraps ErrSignalTermination with the signal number
// (spec.md 7: "job marked failed with signal number").
type SignalTermination struct {
	Signal int
}

func (e *SignalTermination) Error() string {
	return fmt.Sprintf("received signal %d", e.Signal)
}
func (e *SignalTermination) Unwrap() error { return ErrSignalTermination }

// UnexpectedException wraps ErrUnexpectedException with the captured
// cause and a stack trace (spec.md 7: "captured with full traceback,
// attached to the job via exceptionOccurred"). Constructed by
// driver.Run's panic recovery.
type UnexpectedException struct {
	Cause error
	Stack string
}

func (e *UnexpectedException) Error() string {
	return fmt.Sprintf("unexpected exception: %v\n%s", e.Cause, e.Stack)
}
func (e *UnexpectedException) Unwrap() error { return ErrUnexpectedException }
