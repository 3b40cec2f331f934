package status

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginIsSingleFlight(t *testing.T) {
	tr := NewTracker("scan")
	assert.Equal(t, StateIdle, tr.Snapshot().State)

	ctx, snap, err := tr.Begin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateRunning, snap.State)
	assert.NotEmpty(t, snap.ID)
	assert.NoError(t, ctx.Err())

	_, busy, err := tr.Begin(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, snap.ID, busy.ID)
}

func TestConcurrentBeginAdmitsOne(t *testing.T) {
	tr := NewTracker("scan")
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := tr.Begin(context.Background()); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, admitted)
}

func TestTerminalStateRestsUntilNextBegin(t *testing.T) {
	tr := NewTracker("scan")
	ctx, first, err := tr.Begin(context.Background())
	require.NoError(t, err)

	tr.Progress(func(c *Counters) { c.Indexed += 3 })
	done := tr.Finish(StateCompleted, "Completed successfully. Indexed 3 files.")
	assert.Equal(t, StateCompleted, done.State)
	assert.Equal(t, 3, done.Indexed)
	assert.NotNil(t, done.FinishedAt)
	assert.Error(t, ctx.Err(), "run context released on finish")

	// Later finishes of the same run are ignored.
	again := tr.Finish(StateFailed, "late")
	assert.Equal(t, StateCompleted, again.State)
	assert.Equal(t, "Completed successfully. Indexed 3 files.", tr.Snapshot().Message)

	_, second, err := tr.Begin(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Zero(t, second.Indexed)
	assert.Empty(t, second.Message)
	assert.Nil(t, second.FinishedAt)
}

func TestFailedStateAdmitsNextRun(t *testing.T) {
	tr := NewTracker("backfill")
	_, _, err := tr.Begin(context.Background())
	require.NoError(t, err)
	tr.Finish(StateFailed, "store down")

	_, _, err = tr.Begin(context.Background())
	assert.NoError(t, err)
}

func TestCancel(t *testing.T) {
	tr := NewTracker("scan")
	assert.ErrorIs(t, tr.Cancel(), ErrNotRunning)

	ctx, _, err := tr.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tr.Cancel())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.True(t, tr.Running(), "cancel only signals; the run decides when to stop")

	tr.Finish(StateCancelled, "Scan cancelled by user")
	assert.False(t, tr.Running())
	assert.ErrorIs(t, tr.Cancel(), ErrNotRunning)
}

func TestProgressIgnoredWhenNotRunning(t *testing.T) {
	tr := NewTracker("scan")
	tr.Progress(func(c *Counters) { c.Failed++ })
	assert.Zero(t, tr.Snapshot().Failed)
}

func TestFinishRejectsNonTerminalState(t *testing.T) {
	tr := NewTracker("scan")
	_, _, err := tr.Begin(context.Background())
	require.NoError(t, err)
	snap := tr.Finish(StateIdle, "")
	assert.Equal(t, StateRunning, snap.State)
}
