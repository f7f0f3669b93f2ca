// Package logs parses and buffers toolchain output produced while a target
// is being built. It understands the cargo/cross output format.
package logs

import (
	"fmt"
	"regexp"
	"strings"
)

// Stream names for LogEntry.Stream.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Levels for LogEntry.Level.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// LogEntry is one parsed line of toolchain output.
type LogEntry struct {
	Stream string
	Level  string
	// Action is the cargo status verb, e.g. "Compiling" or "Finished".
	Action  string
	Message string
	Raw     string
}

// IsCompileStep reports whether the line announces a crate being compiled.
func (e *LogEntry) IsCompileStep() bool {
	return e.Action == "Compiling"
}

// LogParser parses cargo output lines into structured LogEntry objects.
type LogParser struct {
	// statusRegex matches cargo status lines
	// Examples: "   Compiling serde v1.0.197", "    Finished release [optimized] target(s) in 1m 02s"
	statusRegex *regexp.Regexp
	// diagRegex matches rustc/cargo diagnostics
	// Examples: "error[E0425]: cannot find value `x`", "warning: unused import"
	diagRegex *regexp.Regexp
}

// NewLogParser creates a new log parser.
func NewLogParser() *LogParser {
	return &LogParser{
		statusRegex: regexp.MustCompile(`^(Compiling|Checking|Downloading|Downloaded|Updating|Locking|Adding|Blocking|Building|Finished|Fresh|Running|Installing|Installed)\s+(.+)$`),
		diagRegex:   regexp.MustCompile(`^(error|warning)(\[[A-Z]\d+\])?:\s*(.*)$`),
	}
}

// Parse parses a line of output read from stream.
func (p *LogParser) Parse(stream, line string) (*LogEntry, error) {
	raw := strings.TrimRight(line, "\r\n")
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty line")
	}

	entry := &LogEntry{
		Stream:  stream,
		Level:   LevelInfo,
		Message: trimmed,
		Raw:     raw,
	}

	if m := p.statusRegex.FindStringSubmatch(trimmed); m != nil {
		entry.Action = m[1]
		entry.Message = m[2]
		return entry, nil
	}

	if m := p.diagRegex.FindStringSubmatch(trimmed); m != nil {
		entry.Level = p.diagLevel(m[1])
		entry.Message = m[3]
		return entry, nil
	}

	return entry, nil
}

func (p *LogParser) diagLevel(word string) string {
	switch word {
	case "error":
		return LevelError
	case "warning":
		return LevelWarn
	default:
		return LevelInfo
	}
}
