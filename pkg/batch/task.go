// Package batch implements a generic chunked execution engine for
// heterogeneous long-running jobs.
//
// A job implements Task (and optionally the per-chunk hook capabilities)
// and hands a list of inputs to Runner, which drives the hooks chunk by
// chunk, aggregates success/failure statistics, paces chunks with a fixed
// delay, observes cooperative cancellation at chunk boundaries, and emits
// progress events to a fire-and-forget emitter.
package batch

import "context"

// Task is the unit of work a job implements against the runner.
//
// I, O, and C are the job's input, output, and run-context types. The
// runner never inspects them; they flow opaquely between the caller and
// the task's hooks.
type Task[I, O, C any] interface {
	// Name identifies the job type for logging.
	Name() string

	// EventChannel is the routing identifier for this job's progress
	// event stream (e.g., "mailbatch.jobs.sync").
	EventChannel() string

	// Process performs the default per-item unit of work. An error marks
	// that single item failed; it never aborts the run.
	Process(ctx context.Context, input I, jc C) (O, error)
}

// BatchPreparer is an optional capability for bulk preparation before a
// chunk is processed, such as warming a chunk-scoped lookup cache with a
// single bulk query. A returned error is fatal for the whole run.
type BatchPreparer[I, C any] interface {
	BeforeBatch(ctx context.Context, inputs []I, jc C) error
}

// BatchProcessor is an optional capability that replaces the default
// item-by-item processing of a chunk, typically to issue one remote call
// per chunk instead of one per item.
//
// An implementation must return exactly one result per input, in input
// order. When a remote call's result count does not match the request
// count, the implementation must fail the whole sub-group rather than
// guess an alignment.
type BatchProcessor[I, O, C any] interface {
	ProcessBatch(ctx context.Context, inputs []I, jc C) []ItemResult[O]
}

// BatchFinalizer is an optional capability for bulk persistence after a
// chunk is processed. A returned error is fatal for the whole run.
type BatchFinalizer[O, C any] interface {
	AfterBatch(ctx context.Context, batchNumber int, results []ItemResult[O], jc C) error
}

// ItemResult is the outcome of processing one input. Err == nil means
// success and Output is valid.
type ItemResult[O any] struct {
	Output O
	Err    error
}

// Ok wraps a successful output.
func Ok[O any](output O) ItemResult[O] {
	return ItemResult[O]{Output: output}
}

// Fail wraps a per-item failure.
func Fail[O any](err error) ItemResult[O] {
	return ItemResult[O]{Err: err}
}

// Result is the aggregate outcome of a run.
//
// Outputs preserves the original input order among only the successful
// items, so len(Outputs) == SuccessCount.
type Result[O any] struct {
	Outputs      []O
	SuccessCount int
	FailedCount  int
}

// Processed is the total number of items processed,
// SuccessCount + FailedCount.
func (r *Result[O]) Processed() int {
	return r.SuccessCount + r.FailedCount
}
