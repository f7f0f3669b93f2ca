// internal/daemon/toolchain/rustup.go
package toolchain

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v5"
)

// ErrUnknownTarget is returned for a triple rustup does not know about.
var ErrUnknownTarget = errors.New("unknown target triple")

// UnknownTargetError names the triple rustup rejected. It matches
// ErrUnknownTarget.
type UnknownTargetError struct {
	Target string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnknownTarget, e.Target)
}

func (e *UnknownTargetError) Is(target error) bool {
	return target == ErrUnknownTarget
}

// RejectsTarget marks the failure as the caller's fault rather than the
// toolchain's.
func (e *UnknownTargetError) RejectsTarget() bool { return true }

// Rustup validates target triples against rustup and installs missing ones.
type Rustup struct {
	// Program is the rustup executable; empty means DefaultRustup.
	Program string
	// Attempts bounds tries of transient failures (list or install errors).
	Attempts uint
	// Delay is the fixed pause between attempts.
	Delay  time.Duration
	Logger *slog.Logger
}

// ValidateTarget reports whether target is a triple rustup supports, adding
// it to the active toolchain when it is not installed yet. Unknown triples
// fail immediately; other failures are retried.
func (r *Rustup) ValidateTarget(ctx context.Context, target string) error {
	attempts := r.Attempts
	if attempts == 0 {
		attempts = 1
	}

	return retry.New(
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(r.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			r.logger().Warn("target validation failed, retrying",
				"target", target,
				"attempt", n+1,
				"error", err)
		}),
	).Do(func() error {
		return r.validateOnce(ctx, target)
	})
}

func (r *Rustup) validateOnce(ctx context.Context, target string) error {
	out, err := output(ctx, "", r.program(), "target", "list")
	if err != nil {
		return fmt.Errorf("failed to list targets: %w", err)
	}

	known, installed := parseTargetList(out, target)
	if !known {
		return retry.Unrecoverable(&UnknownTargetError{Target: target})
	}
	if installed {
		return nil
	}

	r.logger().Info("installing rust target", "target", target)
	if _, err := output(ctx, "", r.program(), "target", "add", target); err != nil {
		return fmt.Errorf("failed to add target %s: %w", target, err)
	}
	return nil
}

func (r *Rustup) program() string {
	if r.Program == "" {
		return DefaultRustup
	}
	return r.Program
}

func (r *Rustup) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// parseTargetList scans `rustup target list` output, whose lines look like
// "x86_64-unknown-linux-gnu (installed)".
func parseTargetList(out, target string) (known, installed bool) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[0] != target {
			continue
		}
		return true, len(fields) > 1 && fields[1] == "(installed)"
	}
	return false, false
}
