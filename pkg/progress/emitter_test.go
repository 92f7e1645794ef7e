package progress

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLEmitterWritesEnvelopes(t *testing.T) {
	var buf bytes.Buffer
	em := NewJSONLEmitter(&buf, "run-123", "mailbatch.jobs.sync")
	ctx := context.Background()

	require.NoError(t, em.EmitProgress(ctx, &ProgressRecord{
		BatchNumber:     1,
		BatchSize:       3,
		TotalItems:      7,
		ProcessedCount:  3,
		SuccessCount:    3,
		ProgressPercent: 42,
		StatusMessage:   "processed 3/7 items",
	}))
	require.NoError(t, em.EmitComplete(ctx, &CompleteRecord{
		TotalItems:    7,
		SuccessCount:  7,
		StatusMessage: "processed 7/7 items",
	}))
	require.NoError(t, em.Close())

	scanner := bufio.NewScanner(&buf)

	require.True(t, scanner.Scan())
	var rec Record
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
	assert.Equal(t, TypeProgress, rec.Type)
	assert.Equal(t, "run-123", rec.JobID)
	assert.Equal(t, "mailbatch.jobs.sync", rec.Channel)
	assert.False(t, rec.TS.IsZero())

	var prog ProgressRecord
	require.NoError(t, json.Unmarshal(rec.Data, &prog))
	assert.Equal(t, 1, prog.BatchNumber)
	assert.Equal(t, 42, prog.ProgressPercent)

	require.True(t, scanner.Scan())
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
	assert.Equal(t, TypeComplete, rec.Type)

	var comp CompleteRecord
	require.NoError(t, json.Unmarshal(rec.Data, &comp))
	assert.Equal(t, 7, comp.SuccessCount)

	assert.False(t, scanner.Scan(), "exactly two lines expected")
}

func TestJSONLEmitterClosed(t *testing.T) {
	em := NewJSONLEmitter(&bytes.Buffer{}, "run-123", "ch")
	require.NoError(t, em.Close())

	err := em.EmitProgress(context.Background(), &ProgressRecord{})
	assert.ErrorIs(t, err, ErrEmitterClosed)
}

func TestJSONLEmitterContextCancelled(t *testing.T) {
	em := NewJSONLEmitter(&bytes.Buffer{}, "run-123", "ch")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := em.EmitComplete(ctx, &CompleteRecord{})
	assert.ErrorIs(t, err, context.Canceled)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestJSONLEmitterWriteFailure(t *testing.T) {
	em := NewJSONLEmitter(failingWriter{}, "run-123", "ch")

	err := em.EmitError(context.Background(), &ErrorRecord{Message: "boom"})
	require.Error(t, err)

	var emitErr *EmitError
	require.ErrorAs(t, err, &emitErr)
	assert.Equal(t, "write", emitErr.Op)
	assert.Contains(t, emitErr.Error(), "disk full")
}

func TestChanEmitterDelivers(t *testing.T) {
	em := NewChanEmitter(4)
	ctx := context.Background()

	require.NoError(t, em.EmitProgress(ctx, &ProgressRecord{BatchNumber: 1}))
	require.NoError(t, em.EmitComplete(ctx, &CompleteRecord{TotalItems: 3}))
	require.NoError(t, em.Close())

	var got []Event
	for ev := range em.Events() {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, TypeProgress, got[0].Type)
	assert.Equal(t, 1, got[0].Progress.BatchNumber)
	assert.Equal(t, TypeComplete, got[1].Type)
	assert.Equal(t, 3, got[1].Complete.TotalItems)
}

func TestChanEmitterDropsInterimWhenFull(t *testing.T) {
	em := NewChanEmitter(1)
	ctx := context.Background()

	require.NoError(t, em.EmitProgress(ctx, &ProgressRecord{BatchNumber: 1}))
	// Buffer is full; this interim event is dropped, not blocked on.
	require.NoError(t, em.EmitProgress(ctx, &ProgressRecord{BatchNumber: 2}))
	require.NoError(t, em.Close())

	var got []Event
	for ev := range em.Events() {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Progress.BatchNumber)
}

func TestChanEmitterTerminalEvictsOldest(t *testing.T) {
	em := NewChanEmitter(1)
	ctx := context.Background()

	require.NoError(t, em.EmitProgress(ctx, &ProgressRecord{BatchNumber: 1}))
	// Terminal event must survive even with a full buffer.
	require.NoError(t, em.EmitCancelled(ctx, &CancelledRecord{ProcessedCount: 3}))
	require.NoError(t, em.Close())

	var got []Event
	for ev := range em.Events() {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	assert.Equal(t, TypeCancelled, got[0].Type)
	assert.Equal(t, 3, got[0].Cancelled.ProcessedCount)
}

func TestChanEmitterClosed(t *testing.T) {
	em := NewChanEmitter(1)
	require.NoError(t, em.Close())
	assert.ErrorIs(t, em.EmitProgress(context.Background(), &ProgressRecord{}), ErrEmitterClosed)
	// Double close is safe.
	require.NoError(t, em.Close())
}

func TestMultiEmitterFansOut(t *testing.T) {
	var a, b bytes.Buffer
	multi := NewMultiEmitter(
		NewJSONLEmitter(&a, "run-1", "ch"),
		nil,
		NewJSONLEmitter(&b, "run-1", "ch"),
	)

	require.NoError(t, multi.EmitComplete(context.Background(), &CompleteRecord{TotalItems: 1}))
	require.NoError(t, multi.Close())

	// Each sink stamps its own timestamp, so compare the envelopes
	// field by field rather than the raw lines.
	var recA, recB Record
	require.NoError(t, json.Unmarshal(a.Bytes(), &recA))
	require.NoError(t, json.Unmarshal(b.Bytes(), &recB))
	assert.Equal(t, TypeComplete, recA.Type)
	assert.Equal(t, recA.Type, recB.Type)
	assert.Equal(t, recA.JobID, recB.JobID)
	assert.Equal(t, recA.Channel, recB.Channel)
	assert.JSONEq(t, string(recA.Data), string(recB.Data))
}

func TestMultiEmitterReturnsFirstError(t *testing.T) {
	var ok bytes.Buffer
	multi := NewMultiEmitter(
		NewJSONLEmitter(failingWriter{}, "run-1", "ch"),
		NewJSONLEmitter(&ok, "run-1", "ch"),
	)

	err := multi.EmitComplete(context.Background(), &CompleteRecord{})
	require.Error(t, err)
	// The healthy emitter still received the record.
	assert.NotEmpty(t, ok.String())
}

func TestPercent(t *testing.T) {
	tests := []struct {
		processed, total, want int
	}{
		{0, 0, 0},
		{0, 10, 0},
		{3, 7, 42},
		{6, 7, 85},
		{7, 7, 100},
		{5, 10, 50},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Percent(tt.processed, tt.total), "%d/%d", tt.processed, tt.total)
	}
}
