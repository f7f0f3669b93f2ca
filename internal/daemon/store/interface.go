// internal/daemon/store/interface.go
package store

import (
	"context"
	"time"
)

// Outcome is the final result of a build attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// BuildRecord describes one finished build attempt.
type BuildRecord struct {
	ID         string        `json:"id"`
	Target     string        `json:"target"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Outcome    Outcome       `json:"outcome"`
	// Kind is the error category of a failed attempt, e.g. "fetch" or "toolchain".
	Kind     string `json:"kind,omitempty"`
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
	// Path is the artifact location of a successful attempt.
	Path string `json:"path,omitempty"`
}

// Store defines the interface for build history persistence.
type Store interface {
	// RecordBuild persists a finished attempt.
	RecordBuild(ctx context.Context, rec *BuildRecord) error

	// GetBuild returns the attempt with the given ID.
	GetBuild(ctx context.Context, target, id string) (*BuildRecord, error)

	// ListBuilds returns attempts newest first. An empty target lists all
	// targets; limit <= 0 means no limit.
	ListBuilds(ctx context.Context, target string, limit int) ([]*BuildRecord, error)

	// Close closes the store.
	Close() error
}
