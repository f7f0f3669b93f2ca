// internal/daemon/builder/errors.go
package builder

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/altuslabsxyz/binserve/internal/daemon/status"
)

// Sentinel errors for the failure kinds of a build.
var (
	ErrInvalidTarget    = errors.New("invalid target")
	ErrValidateFailed   = errors.New("failed to validate target")
	ErrFetchFailed      = errors.New("failed to fetch source")
	ErrToolchainFailed  = errors.New("toolchain failed")
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrTimeout          = errors.New("timed out")
	ErrClosed           = errors.New("build service closed")
)

// Kinds recorded in build history, one per sentinel.
const (
	KindInvalidTarget    = "invalid_target"
	KindValidate         = "validate"
	KindFetch            = "fetch"
	KindToolchain        = "toolchain"
	KindArtifactNotFound = "artifact_not_found"
	KindClosed           = "closed"
	KindUnknown          = "unknown"
)

// TargetRejection is implemented by validator errors that reject the target
// itself, as opposed to failing to check it. Only those become
// ErrInvalidTarget.
type TargetRejection interface {
	error
	RejectsTarget() bool
}

type badName struct{ target string }

func (e *badName) Error() string       { return fmt.Sprintf("%q is not a target triple", e.target) }
func (e *badName) RejectsTarget() bool { return true }

// BuildError is returned for a failed pipeline stage. It matches the
// sentinel of its stage with errors.Is, and ErrTimeout when the build ran
// out of time.
type BuildError struct {
	Stage    string // one of the status.Stage* names
	Target   string
	ExitCode int // toolchain exit status, 0 if none
	Err      error
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("build of %s failed at %s", e.Target, e.Stage)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit status %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this failure.
func (e *BuildError) Is(target error) bool {
	if target == ErrTimeout {
		return errors.Is(e.Err, context.DeadlineExceeded)
	}
	return target == e.Sentinel()
}

// Sentinel returns the sentinel error of the failed stage.
func (e *BuildError) Sentinel() error {
	switch e.Stage {
	case status.StageValidate:
		var rej TargetRejection
		if errors.As(e.Err, &rej) && rej.RejectsTarget() {
			return ErrInvalidTarget
		}
		return ErrValidateFailed
	case status.StageFetch:
		return ErrFetchFailed
	case status.StageCompile:
		return ErrToolchainFailed
	case status.StageResolve:
		return ErrArtifactNotFound
	default:
		return nil
	}
}

// Kind returns a short name of the failure for history records.
func (e *BuildError) Kind() string {
	switch e.Sentinel() {
	case ErrInvalidTarget:
		return KindInvalidTarget
	case ErrValidateFailed:
		return KindValidate
	case ErrFetchFailed:
		return KindFetch
	case ErrToolchainFailed:
		return KindToolchain
	case ErrArtifactNotFound:
		return KindArtifactNotFound
	default:
		return KindUnknown
	}
}

// exitCoder is satisfied by *exec.ExitError and toolchain.ExitError.
type exitCoder interface {
	ExitCode() int
}

func exitCodeOf(err error) int {
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return 0
}

var targetPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// CheckTarget rejects names that cannot be a target triple. Target names
// become path elements, so anything that could escape the work directory is
// refused before a build is claimed.
func CheckTarget(target string) error {
	if target == "." || target == ".." || !targetPattern.MatchString(target) {
		return &BuildError{
			Stage:  status.StageValidate,
			Target: target,
			Err:    &badName{target: target},
		}
	}
	return nil
}
