package manager

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/wowpkg/internal/store"
)

var (
	// ErrAlreadyInstalled means the reference is already present in
	// the record.
	ErrAlreadyInstalled = errors.New("addon already installed")
	// ErrNotInstalled means the reference matches no installed
	// package.
	ErrNotInstalled = errors.New("addon not installed")
	// ErrNotDownloadable means the candidate resolved but the source
	// offers no archive for it.
	ErrNotDownloadable = errors.New("addon has no downloadable file")
)

// UpToDateError reports a skipped update, carrying whether the install
// was pinned.
type UpToDateError struct {
	Version string
	Pinned  bool
}

func (e *UpToDateError) Error() string {
	if e.Pinned {
		return fmt.Sprintf("already up to date (pinned at %s)", e.Version)
	}
	return fmt.Sprintf("already up to date (%s)", e.Version)
}

// InstalledConflictError means resolved folders already belong to other
// installed packages. Nothing is mutated when this is raised.
type InstalledConflictError struct {
	Pkgs []store.Key
}

func (e *InstalledConflictError) Error() string {
	names := make([]string, 0, len(e.Pkgs))
	for _, k := range e.Pkgs {
		names = append(names, k.String())
	}
	return "folders conflict with installed packages: " + strings.Join(names, ", ")
}

// UnreconciledConflictError means resolved folders already exist on
// disk without belonging to any package, and replace was not requested.
type UnreconciledConflictError struct {
	Folders []string
}

func (e *UnreconciledConflictError) Error() string {
	return "folders conflict with unreconciled addons: " + strings.Join(e.Folders, ", ")
}

// VersionMismatchError rejects a pin whose target no longer matches the
// installed version.
type VersionMismatchError struct {
	Want string
	Have string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("installed version %s does not match %s", e.Have, e.Want)
}

// InternalError wraps an unexpected failure so one reference's crash
// cannot take down a batch. The cause is logged, not surfaced.
type InternalError struct {
	cause error
}

func (e *InternalError) Error() string { return "internal error" }
func (e *InternalError) Unwrap() error { return e.cause }
