// Package docparse implements the document-parsing job.
//
// The job is CPU-bound: inputs are already-synced messages, and the unit
// of work applies a vendor-specific regex grammar to the message body.
// BeforeBatch bulk-loads the doc keys already parsed from the chunk's
// messages so re-runs skip finished work; AfterBatch upserts the chunk's
// parsed documents in one transaction.
package docparse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hina0118/mailbatch/pkg/batch"
	"github.com/hina0118/mailbatch/pkg/mailstore"
)

// EventChannelName is the progress event stream for this job type.
const EventChannelName = "mailbatch.jobs.parse"

// ParseContext carries the run-scoped collaborators and the chunk-scoped
// cache of already-parsed messages.
type ParseContext struct {
	DB       *sql.DB
	Grammars *GrammarSet

	// parsed maps message uid to its existing doc keys for the current
	// chunk only. BeforeBatch replaces it at each chunk boundary.
	parsed map[string][]string
}

// Parsed is the per-item output.
type Parsed struct {
	Row       mailstore.DocumentRow
	FromCache bool
}

// Task implements the batch task capability for document parsing.
type Task struct {
	logger *zap.Logger
}

// New creates the document-parsing task.
func New(logger *zap.Logger) *Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Task{logger: logger}
}

func (t *Task) Name() string { return "docparse" }

func (t *Task) EventChannel() string { return EventChannelName }

// BeforeBatch warms the chunk cache with the doc keys already parsed
// from this chunk's messages, in one bulk query.
func (t *Task) BeforeBatch(ctx context.Context, msgs []mailstore.MessageRow, jc *ParseContext) error {
	uids := make([]string, len(msgs))
	for i, msg := range msgs {
		uids[i] = msg.UID
	}

	parsed, err := mailstore.DocumentsByMessageUIDs(ctx, jc.DB, uids)
	if err != nil {
		return fmt.Errorf("warm parse cache: %w", err)
	}
	jc.parsed = parsed
	return nil
}

// Process parses one message body with the vendor grammar selected by
// the sender address. A sender no vendor claims, or a body the grammar
// cannot extract a document number from, is an item error.
func (t *Task) Process(_ context.Context, msg mailstore.MessageRow, jc *ParseContext) (Parsed, error) {
	if keys, ok := jc.parsed[msg.UID]; ok && len(keys) > 0 {
		t.logger.Debug("message already parsed",
			zap.String("uid", msg.UID),
			zap.String("doc_key", keys[0]))
		return Parsed{Row: mailstore.DocumentRow{DocKey: keys[0], MessageUID: msg.UID}, FromCache: true}, nil
	}

	grammar := jc.Grammars.ForSender(msg.Sender)
	if grammar == nil {
		return Parsed{}, fmt.Errorf("no grammar for sender %q", msg.Sender)
	}

	fields, err := grammar.Extract(msg.Subject + "\n" + msg.Body)
	if err != nil {
		return Parsed{}, err
	}

	return Parsed{Row: mailstore.DocumentRow{
		DocKey:      grammar.Vendor + "/" + fields.DocNumber,
		MessageUID:  msg.UID,
		Vendor:      grammar.Vendor,
		DocNumber:   fields.DocNumber,
		AmountCents: fields.AmountCents,
		Currency:    fields.Currency,
		IssuedAt:    fields.IssuedAt,
		ParsedAt:    time.Now().UTC(),
	}}, nil
}

// AfterBatch persists the chunk's newly parsed documents in a single
// transaction. Cache hits are skipped.
func (t *Task) AfterBatch(ctx context.Context, batchNumber int, results []batch.ItemResult[Parsed], jc *ParseContext) error {
	rows := make([]mailstore.DocumentRow, 0, len(results))
	for _, res := range results {
		if res.Err != nil || res.Output.FromCache {
			continue
		}
		rows = append(rows, res.Output.Row)
	}
	if len(rows) == 0 {
		return nil
	}

	if err := mailstore.BatchUpsertDocuments(ctx, jc.DB, rows); err != nil {
		return fmt.Errorf("persist batch %d: %w", batchNumber, err)
	}
	t.logger.Debug("persisted documents",
		zap.Int("batch", batchNumber),
		zap.Int("rows", len(rows)))
	return nil
}

// Compile-time checks for the hook capabilities.
var (
	_ batch.Task[mailstore.MessageRow, Parsed, *ParseContext]  = (*Task)(nil)
	_ batch.BatchPreparer[mailstore.MessageRow, *ParseContext] = (*Task)(nil)
	_ batch.BatchFinalizer[Parsed, *ParseContext]              = (*Task)(nil)
)
