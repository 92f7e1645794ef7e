package jobstate

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardLifecycle(t *testing.T) {
	g := &Guard{}

	assert.False(t, g.Running())
	assert.False(t, g.CancelRequested())

	require.True(t, g.TryStart())
	assert.True(t, g.Running())

	// Second start of the same job type is refused.
	assert.False(t, g.TryStart())

	g.Finish()
	assert.False(t, g.Running())

	// Restartable after Finish.
	assert.True(t, g.TryStart())
	g.Finish()
}

func TestGuardTryStartClearsStaleState(t *testing.T) {
	g := &Guard{}
	g.RequestCancel()
	g.SetError("previous run failed")

	require.True(t, g.TryStart())
	defer g.Finish()

	assert.False(t, g.CancelRequested())
	assert.Empty(t, g.LastError())
}

func TestGuardCancelFlag(t *testing.T) {
	g := &Guard{}
	require.True(t, g.TryStart())

	g.RequestCancel()
	assert.True(t, g.CancelRequested())

	// Finish clears the flag unconditionally.
	g.Finish()
	assert.False(t, g.CancelRequested())
}

func TestGuardCancelWhileIdleIsHarmless(t *testing.T) {
	g := &Guard{}
	g.RequestCancel()
	assert.True(t, g.CancelRequested())

	require.True(t, g.TryStart())
	assert.False(t, g.CancelRequested())
	g.Finish()
}

func TestGuardErrorTracking(t *testing.T) {
	g := &Guard{}
	g.SetError("fetch failed")
	assert.Equal(t, "fetch failed", g.LastError())

	g.ClearError()
	assert.Empty(t, g.LastError())
}

func TestGuardSnapshot(t *testing.T) {
	g := &Guard{}
	require.True(t, g.TryStart())
	g.RequestCancel()
	g.SetError("slow remote")

	st := g.Snapshot()
	assert.True(t, st.Running)
	assert.True(t, st.CancelRequested)
	assert.Equal(t, "slow remote", st.LastError)

	g.Finish()
	st = g.Snapshot()
	assert.False(t, st.Running)
	assert.False(t, st.CancelRequested)
	// Finish keeps the last error for status reporting.
	assert.Equal(t, "slow remote", st.LastError)
}

func TestGuardConcurrentTryStart(t *testing.T) {
	g := &Guard{}

	const attempts = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	started := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryStart() {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, started, "exactly one concurrent start must win")
	assert.True(t, g.Running())
}
