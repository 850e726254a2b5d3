// Package pkgclient defines the interface the build driver uses to reach
// the underlying package-management client: recipe source loading,
// build-requirement resolution, and read-only repository queries. The
// package client itself, its repository protocol, and the on-disk
// changeset cache format are explicitly out of scope (spec.md 1); this
// package specifies only the boundary the core compiles against.
package pkgclient

import (
	"io"

	"rmakedrv/recipe"
)

// Client is the package-client collaborator the Build Driver and
// Dependency Handler depend on. A real implementation talks to a
// repository server; Mock (mock.go) backs the test suite the way
// the teacher's environment.Mock backend backs environment tests without
// requiring root or a live chroot.
type Client interface {
	// LoadRecipes loads source recipes named by portList, yielding one
	// Spec per recipe with its declared (unparsed) build-requirements
	// (spec.md 4.1 step 3).
	LoadRecipes(portList []string) ([]recipe.Spec, error)

	// Resolve computes the concrete build-requirements and
	// cross-requirements for a recipe spec (spec.md 4.2: "a recipe whose
	// build-requirements are ready to be computed").
	Resolve(spec recipe.Spec) (buildReqs, crossReqs []recipe.Triple, err error)

	// RepositoryHasTrove reports whether t is already present in the
	// external repository, i.e. does not need to be built as part of
	// this job (spec.md 4.2: "the current union of {external repository
	// contents} union {binaries built so far in this job}").
	RepositoryHasTrove(t recipe.Triple) bool

	// RecordedBuildRequirements returns the build-requirements recorded
	// against a previously built binary trove (spec.md 4.1 step 4). ok is
	// false if no record exists. job.MatchPrebuilt does not call it: it
	// takes build-requirements from the jobContext records instead.
	RecordedBuildRequirements(t recipe.Triple) (reqs []recipe.Triple, ok bool)

	// FetchChangeset downloads the opaque changeset bundle identified by
	// id (spec.md GLOSSARY "Changeset"). Called by chroot.Factory's
	// install step only on a cscache miss; the cache in front of this
	// call is what spec.md 4.4 step 2 means by "avoid re-downloading".
	FetchChangeset(id string) (io.Reader, error)

	// ApplyChangeset installs a changeset's contents into destPath
	// (spec.md 4.4 step 2). The changeset format is opaque to the core
	// (spec.md 6 "Persisted state"), so interpreting it is entirely the
	// package client's responsibility.
	ApplyChangeset(data io.Reader, destPath string) error
}
