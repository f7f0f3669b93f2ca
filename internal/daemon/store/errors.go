// internal/daemon/store/errors.go
package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple checks.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrInvalidRecord = errors.New("invalid build record")
)

// NotFoundError is returned when a build record is not found.
type NotFoundError struct {
	Target string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("build %q of target %q not found", e.ID, e.Target)
}

// Is lets errors.Is(err, ErrNotFound) match a NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// IsNotFound returns true if err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func validateRecord(rec *BuildRecord) error {
	switch {
	case rec == nil:
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	case rec.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	case rec.Target == "":
		return fmt.Errorf("%w: missing target", ErrInvalidRecord)
	case rec.StartedAt.IsZero():
		return fmt.Errorf("%w: missing start time", ErrInvalidRecord)
	}
	return nil
}
