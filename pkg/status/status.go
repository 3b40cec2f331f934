// Package status tracks the lifecycle of long-running catalog jobs.
//
// A Tracker admits one run at a time. Each run gets a fresh ID and its own
// cancellable context; its counters and terminal state stay readable after
// it ends, until the next run begins.
package status

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrBusy is returned by Begin while a run is in progress.
	ErrBusy = errors.New("a run is already in progress")
	// ErrNotRunning is returned by Cancel when nothing is running.
	ErrNotRunning = errors.New("no run in progress")
)

// State is the lifecycle state of a tracked job.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Counters are the progress numbers of a run.
type Counters struct {
	Processed   int `json:"processed"`
	Indexed     int `json:"indexed_files"`
	Updated     int `json:"updated,omitempty"`
	Reextracted int `json:"reextracted,omitempty"`
	Relocated   int `json:"relocated,omitempty"`
	Removed     int `json:"removed,omitempty"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}

// Snapshot is a point-in-time copy of a tracker.
type Snapshot struct {
	ID    string `json:"id,omitempty"`
	Kind  string `json:"kind"`
	State State  `json:"state"`
	Counters
	Message    string     `json:"message,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Tracker is the single-flight status holder of one job kind.
type Tracker struct {
	mu       sync.Mutex
	snap     Snapshot
	cancel   context.CancelFunc
	finished bool
	now      func() time.Time
}

// NewTracker returns an idle tracker for the given job kind.
func NewTracker(kind string) *Tracker {
	return &Tracker{
		snap: Snapshot{Kind: kind, State: StateIdle},
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Begin admits a new run. The returned context is cancelled by Cancel and
// when the run finishes. Terminal states are treated like idle.
func (t *Tracker) Begin(ctx context.Context) (context.Context, Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.snap.State == StateRunning {
		return nil, t.snap, ErrBusy
	}

	runCtx, cancel := context.WithCancel(ctx)
	started := t.now()
	t.snap = Snapshot{
		ID:        uuid.New().String(),
		Kind:      t.snap.Kind,
		State:     StateRunning,
		StartedAt: &started,
	}
	t.cancel = cancel
	t.finished = false
	return runCtx, t.snap, nil
}

// Progress applies fn to the counters of the current run.
func (t *Tracker) Progress(fn func(c *Counters)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.State == StateRunning {
		fn(&t.snap.Counters)
	}
}

// SetMessage replaces the human-readable message of the current run.
func (t *Tracker) SetMessage(msg string) {
	t.mu.Lock()
	t.snap.Message = msg
	t.mu.Unlock()
}

// Finish moves the current run to a terminal state. Only the first call per
// run has an effect.
func (t *Tracker) Finish(state State, msg string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished || t.snap.State != StateRunning || !state.Terminal() {
		return t.snap
	}
	finished := t.now()
	t.snap.State = state
	t.snap.Message = msg
	t.snap.FinishedAt = &finished
	t.finished = true
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	return t.snap
}

// Cancel signals the current run to stop at its next checkpoint.
func (t *Tracker) Cancel() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.snap.State != StateRunning || t.cancel == nil {
		return ErrNotRunning
	}
	t.cancel()
	t.snap.Message = "cancellation requested"
	return nil
}

// Running reports whether a run is in progress.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.State == StateRunning
}

// Snapshot returns a copy of the tracker state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}
