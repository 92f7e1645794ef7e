package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hina0118/mailbatch/pkg/progress"
)

// errShortResults reports a ProcessBatch implementation that violated
// the one-result-per-input contract.
var errShortResults = errors.New("batch processor returned fewer results than inputs")

// Runner drives a Task over a list of inputs, chunk by chunk.
//
// Chunks are processed strictly sequentially; concurrency exists only
// across job types, each serialized by its own jobstate guard. A Runner
// holds no per-run state and is safe to reuse across runs.
type Runner[I, O, C any] struct {
	task      Task[I, O, C]
	batchSize int
	delay     time.Duration
	logger    *zap.Logger
}

// NewRunner creates a runner for the given task.
//
// batchSize is the chunk size (values below 1 are clamped to 1); delay
// is the fixed pause inserted between consecutive chunks. The delay is
// intentionally non-adaptive: backpressure is a flat pause, never a
// shrinking chunk size.
func NewRunner[I, O, C any](task Task[I, O, C], batchSize int, delay time.Duration) *Runner[I, O, C] {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Runner[I, O, C]{
		task:      task,
		batchSize: batchSize,
		delay:     delay,
		logger:    zap.NewNop(),
	}
}

// WithLogger sets the logger used for run diagnostics.
// Returns the runner for method chaining.
func (r *Runner[I, O, C]) WithLogger(logger *zap.Logger) *Runner[I, O, C] {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Run executes the task over inputs and returns the aggregate result.
//
// shouldCancel is evaluated at chunk boundaries only; an in-flight chunk
// always finishes its current work. Cancellation is a normal terminal
// outcome: Run emits a Cancelled event and returns the partial result
// with a nil error. Hook failures (BeforeBatch/AfterBatch) are fatal:
// Run emits an Error event with the counts accumulated so far and
// returns the hook's error. Per-item failures are counted and logged but
// never abort the run.
//
// Exactly one terminal event (Complete, Error, or Cancelled) is emitted
// per call, plus one Progress event per successfully processed chunk.
// Event emission is best-effort; a failing emitter never fails the run.
func (r *Runner[I, O, C]) Run(ctx context.Context, emitter progress.Emitter, inputs []I, jc C, shouldCancel func() bool) (*Result[O], error) {
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}

	total := len(inputs)
	res := &Result[O]{}

	if total == 0 {
		// Nothing to do is success, not an error.
		r.logger.Debug("run has no inputs", zap.String("task", r.task.Name()))
		_ = emitter.EmitComplete(ctx, &progress.CompleteRecord{
			StatusMessage: statusMessage(0, 0, 0),
		})
		return res, nil
	}

	chunks := Chunks(inputs, r.batchSize)
	r.logger.Info("starting run",
		zap.String("task", r.task.Name()),
		zap.Int("total_items", total),
		zap.Int("batch_size", r.batchSize),
		zap.Int("chunks", len(chunks)))

	for i, chunk := range chunks {
		batchNumber := i + 1

		// Cancellation is observed only here, at the chunk boundary,
		// before the inter-chunk pause.
		if shouldCancel != nil && shouldCancel() {
			r.logger.Info("run cancelled",
				zap.String("task", r.task.Name()),
				zap.Int("processed", res.Processed()),
				zap.Int("total_items", total))
			_ = emitter.EmitCancelled(ctx, &progress.CancelledRecord{
				TotalItems:     total,
				ProcessedCount: res.Processed(),
				SuccessCount:   res.SuccessCount,
				FailedCount:    res.FailedCount,
			})
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			// The optional run-level timeout bounds the whole run by
			// wrapping the context; surface it as a fatal abort.
			return res, r.abort(ctx, emitter, res, total, err)
		}

		if i > 0 && r.delay > 0 {
			if err := r.pause(ctx); err != nil {
				return res, r.abort(ctx, emitter, res, total, err)
			}
		}

		if prep, ok := r.task.(BatchPreparer[I, C]); ok {
			if err := prep.BeforeBatch(ctx, chunk, jc); err != nil {
				err = fmt.Errorf("before batch %d: %w", batchNumber, err)
				return res, r.abort(ctx, emitter, res, total, err)
			}
		}

		results := r.processChunk(ctx, chunk, jc)
		for _, ir := range results {
			if ir.Err != nil {
				res.FailedCount++
				r.logger.Warn("item failed",
					zap.String("task", r.task.Name()),
					zap.Int("batch", batchNumber),
					zap.Error(ir.Err))
			} else {
				res.SuccessCount++
			}
		}

		if fin, ok := r.task.(BatchFinalizer[O, C]); ok {
			if err := fin.AfterBatch(ctx, batchNumber, results, jc); err != nil {
				err = fmt.Errorf("after batch %d: %w", batchNumber, err)
				return res, r.abort(ctx, emitter, res, total, err)
			}
		}

		for _, ir := range results {
			if ir.Err == nil {
				res.Outputs = append(res.Outputs, ir.Output)
			}
		}

		_ = emitter.EmitProgress(ctx, &progress.ProgressRecord{
			BatchNumber:     batchNumber,
			BatchSize:       len(chunk),
			TotalItems:      total,
			ProcessedCount:  res.Processed(),
			SuccessCount:    res.SuccessCount,
			FailedCount:     res.FailedCount,
			ProgressPercent: progress.Percent(res.Processed(), total),
			StatusMessage:   statusMessage(res.Processed(), total, res.FailedCount),
		})
	}

	r.logger.Info("run complete",
		zap.String("task", r.task.Name()),
		zap.Int("success", res.SuccessCount),
		zap.Int("failed", res.FailedCount))
	_ = emitter.EmitComplete(ctx, &progress.CompleteRecord{
		TotalItems:    total,
		SuccessCount:  res.SuccessCount,
		FailedCount:   res.FailedCount,
		StatusMessage: statusMessage(res.Processed(), total, res.FailedCount),
	})
	return res, nil
}

// processChunk obtains one result per input, via the task's ProcessBatch
// override when present, otherwise by mapping Process over the chunk.
func (r *Runner[I, O, C]) processChunk(ctx context.Context, chunk []I, jc C) []ItemResult[O] {
	var results []ItemResult[O]
	if proc, ok := r.task.(BatchProcessor[I, O, C]); ok {
		results = proc.ProcessBatch(ctx, chunk, jc)
	} else {
		results = make([]ItemResult[O], 0, len(chunk))
		for _, input := range chunk {
			out, err := r.task.Process(ctx, input, jc)
			if err != nil {
				results = append(results, Fail[O](err))
				continue
			}
			results = append(results, Ok(out))
		}
	}

	// Hold the one-result-per-input invariant even against a misbehaving
	// override: pad missing results as failures, drop extras.
	if len(results) != len(chunk) {
		r.logger.Warn("batch processor result count mismatch",
			zap.String("task", r.task.Name()),
			zap.Int("inputs", len(chunk)),
			zap.Int("results", len(results)))
		for len(results) < len(chunk) {
			results = append(results, Fail[O](errShortResults))
		}
		results = results[:len(chunk)]
	}
	return results
}

// pause sleeps for the inter-chunk delay, honoring context cancellation.
func (r *Runner[I, O, C]) pause(ctx context.Context) error {
	timer := time.NewTimer(r.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// abort logs a fatal run failure, emits the terminal Error event with
// the counts accumulated so far, and returns the error for propagation.
func (r *Runner[I, O, C]) abort(ctx context.Context, emitter progress.Emitter, res *Result[O], total int, err error) error {
	r.logger.Error("run aborted",
		zap.String("task", r.task.Name()),
		zap.Int("processed", res.Processed()),
		zap.Int("total_items", total),
		zap.Error(err))
	_ = emitter.EmitError(ctx, &progress.ErrorRecord{
		TotalItems:     total,
		ProcessedCount: res.Processed(),
		SuccessCount:   res.SuccessCount,
		FailedCount:    res.FailedCount,
		Message:        err.Error(),
	})
	return err
}

// statusMessage renders the running totals as a human-readable summary.
func statusMessage(processed, total, failed int) string {
	if total == 0 {
		return "no items to process"
	}
	if failed == 0 {
		return fmt.Sprintf("processed %d/%d items", processed, total)
	}
	return fmt.Sprintf("processed %d/%d items (%d failed)", processed, total, failed)
}
