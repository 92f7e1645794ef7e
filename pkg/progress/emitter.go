package progress

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Emitter receives run events at the points defined by the batch runner.
//
// Emission is fire-and-forget from the runner's point of view: the runner
// ignores returned errors and implementations must never block waiting on
// a slow or absent consumer. Implementations must be safe for concurrent
// use from multiple job types.
type Emitter interface {
	// EmitProgress emits an interim per-chunk progress record.
	EmitProgress(ctx context.Context, prog *ProgressRecord) error

	// EmitComplete emits the terminal record of a completed run.
	EmitComplete(ctx context.Context, comp *CompleteRecord) error

	// EmitError emits the terminal record of an aborted run.
	EmitError(ctx context.Context, errRec *ErrorRecord) error

	// EmitCancelled emits the terminal record of a cancelled run.
	EmitCancelled(ctx context.Context, canc *CancelledRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// JSONLEmitter writes records as newline-delimited JSON to an io.Writer.
//
// JSONLEmitter is safe for concurrent use. Writes are serialized using a
// mutex to ensure atomic line writes (no interleaved output).
type JSONLEmitter struct {
	w       io.Writer
	jobID   string
	channel string
	mu      sync.Mutex

	closed bool
}

// NewJSONLEmitter creates a new JSONL emitter.
//
// Parameters:
//   - w: The underlying writer (stdout, file, etc.)
//   - jobID: Correlation ID for this run
//   - channel: Event channel of the task being run
func NewJSONLEmitter(w io.Writer, jobID, channel string) *JSONLEmitter {
	return &JSONLEmitter{
		w:       w,
		jobID:   jobID,
		channel: channel,
	}
}

// EmitProgress emits an interim progress record.
func (je *JSONLEmitter) EmitProgress(ctx context.Context, prog *ProgressRecord) error {
	return je.writeRecord(ctx, TypeProgress, prog)
}

// EmitComplete emits a completion record.
func (je *JSONLEmitter) EmitComplete(ctx context.Context, comp *CompleteRecord) error {
	return je.writeRecord(ctx, TypeComplete, comp)
}

// EmitError emits an error record.
func (je *JSONLEmitter) EmitError(ctx context.Context, errRec *ErrorRecord) error {
	return je.writeRecord(ctx, TypeError, errRec)
}

// EmitCancelled emits a cancellation record.
func (je *JSONLEmitter) EmitCancelled(ctx context.Context, canc *CancelledRecord) error {
	return je.writeRecord(ctx, TypeCancelled, canc)
}

// Close marks the emitter as closed.
//
// If the underlying writer implements io.Closer, it is NOT closed.
// The caller is responsible for closing the underlying writer.
func (je *JSONLEmitter) Close() error {
	je.mu.Lock()
	defer je.mu.Unlock()

	je.closed = true
	return nil
}

// writeRecord marshals data and writes a complete record line.
//
// This method holds the mutex for the entire write so each record lands
// as a single atomic line of JSON followed by a newline character.
func (je *JSONLEmitter) writeRecord(ctx context.Context, recordType string, data any) error {
	// Check context cancellation before acquiring lock
	if err := ctx.Err(); err != nil {
		return err
	}

	// Marshal the data payload first (outside the lock for better concurrency)
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &EmitError{Op: "marshal_data", Err: err}
	}

	je.mu.Lock()
	defer je.mu.Unlock()

	if je.closed {
		return ErrEmitterClosed
	}

	record := Record{
		Type:    recordType,
		TS:      time.Now().UTC(),
		JobID:   je.jobID,
		Channel: je.channel,
		Data:    dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &EmitError{Op: "marshal_record", Err: err}
	}

	// Write the record followed by newline.
	// io.Writer is allowed to return n < len(p) with nil error, which
	// would silently truncate JSONL lines and corrupt output.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(je.w, recordBytes); err != nil {
		return &EmitError{Op: "write", Err: err}
	}

	return nil
}

// writeAll writes all bytes to w, handling short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			// No progress made - avoid infinite loop
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// NopEmitter discards all records. Useful when progress output is
// suppressed (e.g., --quiet runs).
type NopEmitter struct{}

func (NopEmitter) EmitProgress(context.Context, *ProgressRecord) error   { return nil }
func (NopEmitter) EmitComplete(context.Context, *CompleteRecord) error   { return nil }
func (NopEmitter) EmitError(context.Context, *ErrorRecord) error         { return nil }
func (NopEmitter) EmitCancelled(context.Context, *CancelledRecord) error { return nil }
func (NopEmitter) Close() error                                          { return nil }

// MultiEmitter fans a record out to several emitters. Each emitter is
// attempted even if an earlier one fails; the first error is returned.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that duplicates records to all of
// the given emitters. Nil entries are skipped.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	out := make([]Emitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return &MultiEmitter{emitters: out}
}

func (m *MultiEmitter) EmitProgress(ctx context.Context, prog *ProgressRecord) error {
	return m.each(func(e Emitter) error { return e.EmitProgress(ctx, prog) })
}

func (m *MultiEmitter) EmitComplete(ctx context.Context, comp *CompleteRecord) error {
	return m.each(func(e Emitter) error { return e.EmitComplete(ctx, comp) })
}

func (m *MultiEmitter) EmitError(ctx context.Context, errRec *ErrorRecord) error {
	return m.each(func(e Emitter) error { return e.EmitError(ctx, errRec) })
}

func (m *MultiEmitter) EmitCancelled(ctx context.Context, canc *CancelledRecord) error {
	return m.each(func(e Emitter) error { return e.EmitCancelled(ctx, canc) })
}

func (m *MultiEmitter) Close() error {
	return m.each(func(e Emitter) error { return e.Close() })
}

func (m *MultiEmitter) each(fn func(Emitter) error) error {
	var firstErr error
	for _, e := range m.emitters {
		if err := fn(e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Event pairs an envelope type with its payload for channel delivery.
// Exactly one of the payload fields is non-nil, matching Type.
type Event struct {
	Type      string
	Progress  *ProgressRecord
	Complete  *CompleteRecord
	Error     *ErrorRecord
	Cancelled *CancelledRecord
}

// ChanEmitter delivers events to a buffered channel without ever
// blocking the producer. When the consumer falls behind and the buffer
// is full, interim Progress events are dropped; terminal events replace
// the oldest buffered event instead so a run's outcome is never lost.
type ChanEmitter struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// NewChanEmitter creates a channel-backed emitter with the given buffer
// size. Buffer must be at least 1.
func NewChanEmitter(buffer int) *ChanEmitter {
	if buffer < 1 {
		buffer = 1
	}
	return &ChanEmitter{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the emitter. The channel is closed
// by Close once the producer is done.
func (ce *ChanEmitter) Events() <-chan Event { return ce.ch }

func (ce *ChanEmitter) EmitProgress(_ context.Context, prog *ProgressRecord) error {
	return ce.send(Event{Type: TypeProgress, Progress: prog}, false)
}

func (ce *ChanEmitter) EmitComplete(_ context.Context, comp *CompleteRecord) error {
	return ce.send(Event{Type: TypeComplete, Complete: comp}, true)
}

func (ce *ChanEmitter) EmitError(_ context.Context, errRec *ErrorRecord) error {
	return ce.send(Event{Type: TypeError, Error: errRec}, true)
}

func (ce *ChanEmitter) EmitCancelled(_ context.Context, canc *CancelledRecord) error {
	return ce.send(Event{Type: TypeCancelled, Cancelled: canc}, true)
}

// Close closes the event channel. Emitting after Close returns
// ErrEmitterClosed.
func (ce *ChanEmitter) Close() error {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	if !ce.closed {
		ce.closed = true
		close(ce.ch)
	}
	return nil
}

func (ce *ChanEmitter) send(ev Event, terminal bool) error {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	if ce.closed {
		return ErrEmitterClosed
	}

	select {
	case ce.ch <- ev:
		return nil
	default:
	}

	if !terminal {
		// Interim event, consumer is behind: drop it.
		return nil
	}

	// Make room for the terminal event by evicting the oldest entry.
	select {
	case <-ce.ch:
	default:
	}
	select {
	case ce.ch <- ev:
	default:
	}
	return nil
}

// Compile-time checks that all emitters implement Emitter.
var (
	_ Emitter = (*JSONLEmitter)(nil)
	_ Emitter = NopEmitter{}
	_ Emitter = (*MultiEmitter)(nil)
	_ Emitter = (*ChanEmitter)(nil)
)
