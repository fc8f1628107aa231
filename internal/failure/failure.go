// Package failure defines the error kinds surfaced by a dependent build.
// Every stage returns a *Error so the CLI and the run report can tell
// which kind of failure ended the run and where it happened.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the class of a build failure.
// Kinds are strings so they read well in logs and JSON reports.
type Kind string

const (
	// ConfigUnreadable means the build file could not be read.
	ConfigUnreadable Kind = "CONFIG_UNREADABLE"
	// ConfigMalformed means the build file or host manifest has the wrong shape.
	ConfigMalformed Kind = "CONFIG_MALFORMED"
	// DirectoryCreateFailed means the clone directory could not be created.
	DirectoryCreateFailed Kind = "DIRECTORY_CREATE_FAILED"
	// SpawnError means a process could not be started.
	SpawnError Kind = "SPAWN_ERROR"
	// NonZeroExit means a process ran and exited with a non-zero code.
	NonZeroExit Kind = "NON_ZERO_EXIT"
	// Timeout means a process exceeded its deadline and was killed.
	Timeout Kind = "TIMEOUT"
	// Canceled means the run was interrupted while a process was running.
	Canceled Kind = "CANCELED"
	// CloneFailed means an in-process clone failed.
	CloneFailed Kind = "CLONE_FAILED"
	// LinkFailed means the host package could not be linked.
	LinkFailed Kind = "LINK_FAILED"
	// UnlinkFailed means the host package could not be unlinked.
	UnlinkFailed Kind = "UNLINK_FAILED"
)

// NoScript marks an Error that is not attributed to a script.
const NoScript = -1

// Error is a build failure annotated with where it happened.
type Error struct {
	Kind       Kind
	Op         string // stage or operation, e.g. "clone", "run script"
	Repository string // repository identifier, empty when not repository scoped
	Script     int    // script index, NoScript when not script scoped
	ExitCode   int    // process exit code for NonZeroExit
	Err        error
}

// New returns an Error of the given kind with no repository or script attribution.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Script: NoScript, Err: err}
}

// Wrap annotates err with op. If err is already an *Error its kind,
// exit code and attribution are kept; otherwise kind is used.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return &Error{
			Kind:       fe.Kind,
			Op:         op,
			Repository: fe.Repository,
			Script:     fe.Script,
			ExitCode:   fe.ExitCode,
			Err:        err,
		}
	}
	return New(kind, op, err)
}

// WithRepository returns a copy of e attributed to repo.
func (e *Error) WithRepository(repo string) *Error {
	c := *e
	c.Repository = repo
	return &c
}

// WithScript returns a copy of e attributed to the script at index.
func (e *Error) WithScript(index int) *Error {
	c := *e
	c.Script = index
	return &c
}

func (e *Error) Error() string {
	inner, wrapped := As(e.Err)

	var b strings.Builder
	b.WriteString(e.Op)
	// Attribution is printed once, by the outermost error that adds it.
	if e.Repository != "" && (!wrapped || inner.Repository != e.Repository) {
		fmt.Fprintf(&b, " %s", e.Repository)
	}
	if e.Script != NoScript && (!wrapped || inner.Script != e.Script) {
		fmt.Fprintf(&b, " (script %d)", e.Script)
	}
	if e.Kind == NonZeroExit && !wrapped {
		fmt.Fprintf(&b, ": exit code %d", e.ExitCode)
		return b.String()
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// As returns the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the kind of the outermost *Error in err's chain,
// or the empty Kind when err carries none.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return ""
}

// ExitCode returns the process exit code carried by err, or 0.
func ExitCode(err error) int {
	if fe, ok := As(err); ok && fe.Kind == NonZeroExit {
		return fe.ExitCode
	}
	return 0
}
