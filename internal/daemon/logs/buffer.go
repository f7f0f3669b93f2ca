// internal/daemon/logs/buffer.go
package logs

import "sync"

// RingBuffer holds the most recent toolchain output of one build. Once full,
// each Add overwrites the oldest entry. Safe for concurrent use.
type RingBuffer struct {
	mu      sync.Mutex
	entries []*LogEntry
	next    int // slot written by the next Add
	full    bool
}

// NewRingBuffer creates a buffer keeping the last capacity entries.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 50
	}
	return &RingBuffer{entries: make([]*LogEntry, capacity)}
}

// Add appends entry, dropping the oldest one when the buffer is full.
func (r *RingBuffer) Add(entry *LogEntry) {
	if entry == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = entry
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.full = true
	}
}

// Tail returns the raw text of the last n entries, oldest first.
func (r *RingBuffer) Tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return raw(r.lastLocked(n), nil)
}

// Errors returns the raw text of the error diagnostics still held, oldest
// first.
func (r *RingBuffer) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return raw(r.lastLocked(len(r.entries)), func(e *LogEntry) bool {
		return e.Level == LevelError
	})
}

func (r *RingBuffer) lastLocked(n int) []*LogEntry {
	size := r.next
	if r.full {
		size = len(r.entries)
	}
	if n > size {
		n = size
	}
	if n <= 0 {
		return nil
	}

	out := make([]*LogEntry, n)
	start := r.next - n
	if start < 0 {
		start += len(r.entries)
	}
	for i := range out {
		out[i] = r.entries[(start+i)%len(r.entries)]
	}
	return out
}

func raw(entries []*LogEntry, keep func(*LogEntry) bool) []string {
	var lines []string
	for _, e := range entries {
		if keep == nil || keep(e) {
			lines = append(lines, e.Raw)
		}
	}
	return lines
}
