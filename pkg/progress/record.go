// Package progress defines the event protocol emitted by batch runs.
//
// Events are structured as typed record envelopes. A run emits zero or
// more Progress records followed by exactly one terminal record
// (Complete, Error, or Cancelled). Each record is self-contained and can
// be consumed independently, which keeps the JSONL form line-oriented.
package progress

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for emitted events.
// These follow the pattern: mailbatch.<type>.v<version>
const (
	// TypeProgress identifies interim per-chunk progress records.
	TypeProgress = "mailbatch.progress.v1"

	// TypeComplete identifies the terminal record of a fully processed run.
	TypeComplete = "mailbatch.complete.v1"

	// TypeError identifies the terminal record of a run aborted by a
	// hook failure or a refused start.
	TypeError = "mailbatch.error.v1"

	// TypeCancelled identifies the terminal record of a cancelled run.
	TypeCancelled = "mailbatch.cancelled.v1"
)

// Record is the envelope for all emitted events.
//
// The type field determines how to interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "mailbatch.progress.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the correlation ID for this run.
	JobID string `json:"job_id"`

	// Channel is the event channel of the task that produced the record
	// (e.g., "mailbatch.jobs.sync").
	Channel string `json:"channel"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// ProgressRecord is the data payload emitted after each successfully
// processed chunk.
type ProgressRecord struct {
	// BatchNumber is the 1-based number of the chunk just processed.
	BatchNumber int `json:"batch_number"`

	// BatchSize is the number of items in that chunk.
	BatchSize int `json:"batch_size"`

	// TotalItems is the total input count for the run.
	TotalItems int `json:"total_items"`

	// ProcessedCount is the number of items processed so far.
	ProcessedCount int `json:"processed_count"`

	// SuccessCount is the number of items processed successfully so far.
	SuccessCount int `json:"success_count"`

	// FailedCount is the number of items that failed so far.
	FailedCount int `json:"failed_count"`

	// ProgressPercent is 100 * ProcessedCount / TotalItems, or 0 when
	// TotalItems is 0.
	ProgressPercent int `json:"progress_percent"`

	// StatusMessage is a human-readable summary of the run so far.
	StatusMessage string `json:"status_message"`
}

// CompleteRecord is the terminal payload of a run that processed every
// chunk. Per-item failures do not prevent completion; they are reported
// in FailedCount. A Complete record always represents 100 percent.
type CompleteRecord struct {
	TotalItems    int    `json:"total_items"`
	SuccessCount  int    `json:"success_count"`
	FailedCount   int    `json:"failed_count"`
	StatusMessage string `json:"status_message"`
}

// ErrorRecord is the terminal payload of a run aborted by a hook failure,
// or of a run refused because the job type was already running. Counts
// reflect what had been processed before the abort.
type ErrorRecord struct {
	TotalItems     int    `json:"total_items"`
	ProcessedCount int    `json:"processed_count"`
	SuccessCount   int    `json:"success_count"`
	FailedCount    int    `json:"failed_count"`
	Message        string `json:"message"`
}

// CancelledRecord is the terminal payload of a cooperatively cancelled
// run. Cancellation is a normal outcome, not an error; counts reflect
// the chunks that completed before the cancellation was observed.
type CancelledRecord struct {
	TotalItems     int `json:"total_items"`
	ProcessedCount int `json:"processed_count"`
	SuccessCount   int `json:"success_count"`
	FailedCount    int `json:"failed_count"`
}

// Percent computes the integer progress percentage. A run over zero
// items reports 0.
func Percent(processed, total int) int {
	if total == 0 {
		return 0
	}
	return 100 * processed / total
}

// Emitter errors.
var (
	// ErrEmitterClosed is returned when emitting through a closed emitter.
	ErrEmitterClosed = errors.New("emitter is closed")
)

// EmitError wraps errors that occur while emitting a record.
type EmitError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *EmitError) Error() string {
	return "progress: " + e.Op + ": " + e.Err.Error()
}

func (e *EmitError) Unwrap() error {
	return e.Err
}
