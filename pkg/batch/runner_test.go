package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hina0118/mailbatch/pkg/progress"
)

// recordingEmitter captures every emitted event in order.
type recordingEmitter struct {
	mu        sync.Mutex
	progress  []*progress.ProgressRecord
	complete  []*progress.CompleteRecord
	errors    []*progress.ErrorRecord
	cancelled []*progress.CancelledRecord
	order     []string
}

func (re *recordingEmitter) EmitProgress(_ context.Context, p *progress.ProgressRecord) error {
	re.mu.Lock()
	defer re.mu.Unlock()
	re.progress = append(re.progress, p)
	re.order = append(re.order, "progress")
	return nil
}

func (re *recordingEmitter) EmitComplete(_ context.Context, c *progress.CompleteRecord) error {
	re.mu.Lock()
	defer re.mu.Unlock()
	re.complete = append(re.complete, c)
	re.order = append(re.order, "complete")
	return nil
}

func (re *recordingEmitter) EmitError(_ context.Context, e *progress.ErrorRecord) error {
	re.mu.Lock()
	defer re.mu.Unlock()
	re.errors = append(re.errors, e)
	re.order = append(re.order, "error")
	return nil
}

func (re *recordingEmitter) EmitCancelled(_ context.Context, c *progress.CancelledRecord) error {
	re.mu.Lock()
	defer re.mu.Unlock()
	re.cancelled = append(re.cancelled, c)
	re.order = append(re.order, "cancelled")
	return nil
}

func (re *recordingEmitter) Close() error { return nil }

func (re *recordingEmitter) terminal(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, re.order)
	last := re.order[len(re.order)-1]
	// Exactly one terminal event, and it is the last one emitted.
	terminalCount := len(re.complete) + len(re.errors) + len(re.cancelled)
	require.Equal(t, 1, terminalCount, "expected exactly one terminal event, got order %v", re.order)
	return last
}

// doubleTask doubles each int input; inputs listed in failOn fail.
type doubleTask struct {
	failOn map[int]bool
}

func (dt *doubleTask) Name() string         { return "double" }
func (dt *doubleTask) EventChannel() string { return "test.jobs.double" }

func (dt *doubleTask) Process(_ context.Context, input int, _ struct{}) (int, error) {
	if dt.failOn[input] {
		return 0, fmt.Errorf("refused input %d", input)
	}
	return input * 2, nil
}

// hookedTask layers optional hooks over doubleTask so each capability can
// be exercised independently.
type hookedTask struct {
	doubleTask
	beforeErr    error
	afterErr     error
	beforeCalls  [][]int
	batchNumbers []int
}

func (ht *hookedTask) BeforeBatch(_ context.Context, inputs []int, _ struct{}) error {
	ht.beforeCalls = append(ht.beforeCalls, inputs)
	return ht.beforeErr
}

func (ht *hookedTask) AfterBatch(_ context.Context, batchNumber int, _ []ItemResult[int], _ struct{}) error {
	ht.batchNumbers = append(ht.batchNumbers, batchNumber)
	return ht.afterErr
}

// shortBatchTask violates the one-result-per-input contract on purpose.
type shortBatchTask struct {
	doubleTask
	keep int
}

func (st *shortBatchTask) ProcessBatch(_ context.Context, inputs []int, _ struct{}) []ItemResult[int] {
	results := make([]ItemResult[int], 0, st.keep)
	for _, in := range inputs {
		if len(results) == st.keep {
			break
		}
		results = append(results, Ok(in*2))
	}
	return results
}

func intsUpTo(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func TestRunnerEmptyInputs(t *testing.T) {
	emitter := &recordingEmitter{}
	runner := NewRunner[int, int, struct{}](&doubleTask{}, 3, 0)

	res, err := runner.Run(context.Background(), emitter, nil, struct{}{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed())
	assert.Empty(t, res.Outputs)

	require.Equal(t, "complete", emitter.terminal(t))
	assert.Empty(t, emitter.progress)
	assert.Equal(t, "no items to process", emitter.complete[0].StatusMessage)
}

func TestRunnerChunkSequence(t *testing.T) {
	emitter := &recordingEmitter{}
	runner := NewRunner[int, int, struct{}](&doubleTask{}, 3, 0)

	res, err := runner.Run(context.Background(), emitter, intsUpTo(7), struct{}{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, res.SuccessCount)
	assert.Equal(t, 0, res.FailedCount)
	assert.Equal(t, []int{2, 4, 6, 8, 10, 12, 14}, res.Outputs)

	require.Len(t, emitter.progress, 3)
	require.Equal(t, "complete", emitter.terminal(t))

	wantBatches := []struct {
		number, size, processed, percent int
	}{
		{1, 3, 3, 42},
		{2, 3, 6, 85},
		{3, 1, 7, 100},
	}
	for i, want := range wantBatches {
		got := emitter.progress[i]
		assert.Equal(t, want.number, got.BatchNumber, "batch %d", i)
		assert.Equal(t, want.size, got.BatchSize, "batch %d", i)
		assert.Equal(t, 7, got.TotalItems, "batch %d", i)
		assert.Equal(t, want.processed, got.ProcessedCount, "batch %d", i)
		assert.Equal(t, want.percent, got.ProgressPercent, "batch %d", i)
	}

	comp := emitter.complete[0]
	assert.Equal(t, 7, comp.TotalItems)
	assert.Equal(t, 7, comp.SuccessCount)
	assert.Equal(t, "processed 7/7 items", comp.StatusMessage)
}

func TestRunnerPerItemFailuresDoNotAbort(t *testing.T) {
	task := &doubleTask{failOn: map[int]bool{2: true, 5: true}}
	emitter := &recordingEmitter{}
	runner := NewRunner[int, int, struct{}](task, 2, 0)

	res, err := runner.Run(context.Background(), emitter, intsUpTo(6), struct{}{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, res.SuccessCount)
	assert.Equal(t, 2, res.FailedCount)
	assert.Equal(t, 6, res.Processed())
	// Outputs keep input order among the successes only.
	assert.Equal(t, []int{2, 6, 8, 12}, res.Outputs)

	require.Equal(t, "complete", emitter.terminal(t))
	comp := emitter.complete[0]
	assert.Equal(t, 2, comp.FailedCount)
	assert.Contains(t, comp.StatusMessage, "(2 failed)")
}

func TestRunnerCancelAfterFirstChunk(t *testing.T) {
	emitter := &recordingEmitter{}
	runner := NewRunner[int, int, struct{}](&doubleTask{}, 3, 0)

	var chunksSeen int
	shouldCancel := func() bool {
		chunksSeen++
		return chunksSeen > 1
	}

	res, err := runner.Run(context.Background(), emitter, intsUpTo(9), struct{}{}, shouldCancel)
	require.NoError(t, err, "cooperative cancellation is a normal outcome")
	assert.Equal(t, 3, res.Processed())
	assert.Equal(t, []int{2, 4, 6}, res.Outputs)

	require.Equal(t, "cancelled", emitter.terminal(t))
	require.Len(t, emitter.progress, 1)
	canc := emitter.cancelled[0]
	assert.Equal(t, 9, canc.TotalItems)
	assert.Equal(t, 3, canc.ProcessedCount)
	assert.Equal(t, 3, canc.SuccessCount)
	assert.Equal(t, 0, canc.FailedCount)
}

func TestRunnerCancelBeforeFirstChunk(t *testing.T) {
	emitter := &recordingEmitter{}
	runner := NewRunner[int, int, struct{}](&doubleTask{}, 3, 0)

	res, err := runner.Run(context.Background(), emitter, intsUpTo(5), struct{}{}, func() bool { return true })
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed())

	require.Equal(t, "cancelled", emitter.terminal(t))
	assert.Empty(t, emitter.progress)
}

func TestRunnerContextCancelledAborts(t *testing.T) {
	emitter := &recordingEmitter{}
	runner := NewRunner[int, int, struct{}](&doubleTask{}, 3, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := runner.Run(ctx, emitter, intsUpTo(5), struct{}{}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, res.Processed())

	require.Equal(t, "error", emitter.terminal(t))
	assert.Contains(t, emitter.errors[0].Message, "context canceled")
}

func TestRunnerBeforeBatchFailureIsFatal(t *testing.T) {
	hookErr := errors.New("cache warm failed")
	task := &hookedTask{beforeErr: hookErr}
	emitter := &recordingEmitter{}
	runner := NewRunner[int, int, struct{}](task, 3, 0)

	res, err := runner.Run(context.Background(), emitter, intsUpTo(5), struct{}{}, nil)
	require.ErrorIs(t, err, hookErr)
	assert.Contains(t, err.Error(), "before batch 1")
	assert.Equal(t, 0, res.Processed())

	require.Equal(t, "error", emitter.terminal(t))
	require.Len(t, task.beforeCalls, 1)
	assert.Equal(t, []int{1, 2, 3}, task.beforeCalls[0])
}

func TestRunnerAfterBatchFailureIsFatal(t *testing.T) {
	hookErr := errors.New("persist failed")
	task := &hookedTask{afterErr: hookErr}
	emitter := &recordingEmitter{}
	runner := NewRunner[int, int, struct{}](task, 2, 0)

	res, err := runner.Run(context.Background(), emitter, intsUpTo(5), struct{}{}, nil)
	require.ErrorIs(t, err, hookErr)
	assert.Contains(t, err.Error(), "after batch 1")
	// The chunk was processed before the finalizer failed.
	assert.Equal(t, 2, res.Processed())
	// The failed chunk's outputs were not committed.
	assert.Empty(t, res.Outputs)

	require.Equal(t, "error", emitter.terminal(t))
	errRec := emitter.errors[0]
	assert.Equal(t, 5, errRec.TotalItems)
	assert.Equal(t, 2, errRec.ProcessedCount)
	assert.True(t, strings.Contains(errRec.Message, "persist failed"))
}

func TestRunnerHooksRunPerChunk(t *testing.T) {
	task := &hookedTask{}
	emitter := &recordingEmitter{}
	runner := NewRunner[int, int, struct{}](task, 2, 0)

	_, err := runner.Run(context.Background(), emitter, intsUpTo(5), struct{}{}, nil)
	require.NoError(t, err)
	require.Len(t, task.beforeCalls, 3)
	assert.Equal(t, []int{1, 2, 3}, task.batchNumbers)
	require.Equal(t, "complete", emitter.terminal(t))
}

func TestRunnerShortBatchResultsPaddedAsFailures(t *testing.T) {
	task := &shortBatchTask{keep: 2}
	emitter := &recordingEmitter{}
	runner := NewRunner[int, int, struct{}](task, 4, 0)

	res, err := runner.Run(context.Background(), emitter, intsUpTo(4), struct{}{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 2, res.FailedCount)
	assert.Equal(t, []int{2, 4}, res.Outputs)

	require.Equal(t, "complete", emitter.terminal(t))
}

func TestRunnerNilEmitterIsSafe(t *testing.T) {
	runner := NewRunner[int, int, struct{}](&doubleTask{}, 3, 0)

	res, err := runner.Run(context.Background(), nil, intsUpTo(4), struct{}{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, res.SuccessCount)
}

func TestRunnerBatchSizeClamped(t *testing.T) {
	emitter := &recordingEmitter{}
	runner := NewRunner[int, int, struct{}](&doubleTask{}, 0, 0)

	res, err := runner.Run(context.Background(), emitter, intsUpTo(3), struct{}{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.SuccessCount)
	// Clamped to one item per chunk.
	require.Len(t, emitter.progress, 3)
}

func TestRunnerDelayHonorsContext(t *testing.T) {
	emitter := &recordingEmitter{}
	runner := NewRunner[int, int, struct{}](&doubleTask{}, 1, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var res *Result[int]
	var runErr error
	go func() {
		defer close(done)
		res, runErr = runner.Run(ctx, emitter, intsUpTo(3), struct{}{}, nil)
	}()

	// Let the first chunk finish, then cancel during the inter-chunk pause.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not observe context cancellation during delay")
	}

	require.ErrorIs(t, runErr, context.Canceled)
	assert.Equal(t, 1, res.Processed())
	assert.Equal(t, "error", emitter.terminal(t))
}
