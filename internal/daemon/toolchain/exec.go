// Package toolchain wraps the external programs binserved drives to turn a
// repository into a binary: rustup, git and cross.
package toolchain

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Default program names looked up on PATH.
const (
	DefaultRustup = "rustup"
	DefaultGit    = "git"
	DefaultCross  = "cross"
)

// ExitError reports a program that ran but exited non-zero.
type ExitError struct {
	Program string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s exited with status %d: %s", e.Program, e.Code, e.Stderr)
	}
	return fmt.Sprintf("%s exited with status %d", e.Program, e.Code)
}

// ExitCode returns the process exit status.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// CheckInstalled verifies that every program is on PATH.
func CheckInstalled(programs ...string) error {
	var missing []string
	for _, p := range programs {
		if _, err := exec.LookPath(p); err != nil {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required programs not found in PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}

// output runs a program and returns its stdout.
func output(ctx context.Context, dir, program string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", wrapRunError(ctx, program, err, stderr.String())
	}
	return stdout.String(), nil
}

// stream runs a program and hands every line of stdout and stderr to onLine
// as it is produced. The tail of stderr is kept for the error message.
func stream(ctx context.Context, dir, program string, args []string, onLine func(stream, line string)) error {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to attach stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to attach stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", program, err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		lastErrs []string
	)
	emit := func(name string, line string) {
		mu.Lock()
		defer mu.Unlock()
		if name == "stderr" {
			lastErrs = append(lastErrs, line)
			if len(lastErrs) > 5 {
				lastErrs = lastErrs[1:]
			}
		}
		if onLine != nil {
			onLine(name, line)
		}
	}

	wg.Add(2)
	go scanLines(&wg, stdout, "stdout", emit)
	go scanLines(&wg, stderr, "stderr", emit)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return wrapRunError(ctx, program, err, strings.Join(lastErrs, "\n"))
	}
	return nil
}

func scanLines(wg *sync.WaitGroup, r io.Reader, name string, emit func(string, string)) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		emit(name, scanner.Text())
	}
	// Drain whatever is left so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

func wrapRunError(ctx context.Context, program string, err error, stderr string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s interrupted: %w", program, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{
			Program: program,
			Code:    exitErr.ExitCode(),
			Stderr:  strings.TrimSpace(stderr),
		}
	}
	return fmt.Errorf("failed to run %s: %w", program, err)
}
