// internal/daemon/status/status.go
package status

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/altuslabsxyz/binserve/internal/daemon/logs"
)

// Defaults used when the tracker is created with zero values.
const (
	DefaultCapacity  = 256
	DefaultTailLines = 50
)

// State is the coarse lifecycle state of a target.
type State string

const (
	StateIdle      State = "idle"
	StateBuilding  State = "building"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Stage names reported while a build runs, with the progress they start at.
const (
	StageValidate = "validate"
	StageFetch    = "fetch"
	StageCompile  = "compile"
	StageResolve  = "resolve"
	StageDone     = "done"
)

var stageProgress = map[string]int{
	StageValidate: 5,
	StageFetch:    15,
	StageCompile:  30,
	StageResolve:  95,
	StageDone:     100,
}

// compileCeiling caps progress inferred from compile output; cargo does not
// announce the total number of crates.
const compileCeiling = 90

// Snapshot is the advisory view of a target's last or current build.
type Snapshot struct {
	Target     string    `json:"target"`
	State      State     `json:"state"`
	BuildID    string    `json:"build_id,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	Message    string    `json:"message"`
	Progress   int       `json:"progress"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`
	Tail       []string  `json:"tail,omitempty"`
	// Errors lists the compiler errors among the retained output.
	Errors []string `json:"errors,omitempty"`
}

// Text returns the "message;progress" form served to plain-text pollers.
func (s Snapshot) Text() string {
	return fmt.Sprintf("%s;%d", s.Message, s.Progress)
}

type slot struct {
	snap   Snapshot
	output *logs.RingBuffer
}

// Tracker keeps one status slot per target, bounded by an LRU so that
// requests for many distinct targets cannot grow it without limit.
type Tracker struct {
	mu        sync.Mutex
	slots     *lru.Cache[string, *slot]
	parser    *logs.LogParser
	tailLines int
	now       func() time.Time
}

// NewTracker creates a tracker holding at most capacity targets and keeping
// tailLines lines of output per target.
func NewTracker(capacity, tailLines int) (*Tracker, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if tailLines <= 0 {
		tailLines = DefaultTailLines
	}
	slots, err := lru.New[string, *slot](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create status cache: %w", err)
	}
	return &Tracker{
		slots:     slots,
		parser:    logs.NewLogParser(),
		tailLines: tailLines,
		now:       time.Now,
	}, nil
}

// Start resets the slot of target for a new build.
func (t *Tracker) Start(target, buildID string) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.slots.Add(target, &slot{
		snap: Snapshot{
			Target:    target,
			State:     StateBuilding,
			BuildID:   buildID,
			Message:   "queued",
			StartedAt: now,
			UpdatedAt: now,
		},
		output: logs.NewRingBuffer(t.tailLines),
	})
}

// SetStage records that the build of target entered stage.
func (t *Tracker) SetStage(target, stage string) {
	t.update(target, func(s *slot, now time.Time) {
		s.snap.Stage = stage
		s.snap.Message = stage
		if p, ok := stageProgress[stage]; ok && p > s.snap.Progress {
			s.snap.Progress = p
		}
	})
}

// Observe records one line of toolchain output and returns the parsed entry
// (nil for blank lines).
func (t *Tracker) Observe(target, stream, line string) *logs.LogEntry {
	entry, err := t.parser.Parse(stream, line)
	if err != nil {
		return nil
	}
	t.update(target, func(s *slot, now time.Time) {
		s.output.Add(entry)
		s.snap.Message = entry.Message
		if entry.IsCompileStep() && s.snap.Progress < compileCeiling {
			s.snap.Progress++
		}
	})
	return entry
}

// Finish closes the build of target; err == nil marks success. Progress
// ends at 100 either way so pollers know the attempt is over.
func (t *Tracker) Finish(target string, err error) {
	t.update(target, func(s *slot, now time.Time) {
		s.snap.FinishedAt = now
		s.snap.Progress = stageProgress[StageDone]
		if err != nil {
			s.snap.State = StateFailed
			s.snap.Error = err.Error()
			s.snap.Message = "build failed"
			return
		}
		s.snap.State = StateSucceeded
		s.snap.Stage = StageDone
		s.snap.Message = "build finished"
	})
}

// Get returns a copy of the snapshot of target. Unknown targets are idle.
func (t *Tracker) Get(target string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots.Get(target)
	if !ok {
		return Snapshot{Target: target, State: StateIdle}
	}
	snap := s.snap
	snap.Tail = s.output.Tail(t.tailLines)
	snap.Errors = s.output.Errors()
	return snap
}

// Len returns the number of tracked targets.
func (t *Tracker) Len() int {
	return t.slots.Len()
}

func (t *Tracker) update(target string, fn func(s *slot, now time.Time)) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots.Peek(target)
	if !ok {
		return
	}
	fn(s, now)
	s.snap.UpdatedAt = now
}
