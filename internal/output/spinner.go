// Package output renders terminal progress for the binserve CLI.
package output

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner displays an animated spinner next to a status message on a
// single terminal line. Safe for concurrent updates.
type Spinner struct {
	out      io.Writer
	interval time.Duration

	mu       sync.Mutex
	frameIdx int
	message  string
	width    int // length of the last rendered line
	running  bool
	stop     chan struct{}
	done     chan struct{}
}

// NewSpinner creates a spinner writing to out.
func NewSpinner(out io.Writer) *Spinner {
	return &Spinner{out: out, interval: 100 * time.Millisecond}
}

// Start begins the animation with the given message. Starting a running
// spinner only replaces its message.
func (s *Spinner) Start(message string) {
	s.mu.Lock()
	s.message = message
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		defer close(s.done)

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.render()
			}
		}
	}()
}

// Update changes the message shown next to the spinner.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	s.message = message
	running := s.running
	s.mu.Unlock()
	if running {
		s.render()
	}
}

// Stop stops the spinner and clears its line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "\r%*s\r", s.width, "")
}

func (s *Spinner) render() {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := fmt.Sprintf("%s %s", spinnerFrames[s.frameIdx], s.message)
	s.frameIdx = (s.frameIdx + 1) % len(spinnerFrames)

	pad := s.width - len(line)
	if pad < 0 {
		pad = 0
	}
	fmt.Fprintf(s.out, "\r%s%*s", line, pad, "")
	s.width = len(line)
}
