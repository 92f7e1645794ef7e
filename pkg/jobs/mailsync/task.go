// Package mailsync implements the mailbox-synchronization job.
//
// The job is network-bound: inputs are message references from a paged
// provider listing, and the unit of work fetches one full message. The
// per-chunk hooks follow the cache-then-remote-then-persist pattern:
// BeforeBatch bulk-loads already-synced rows into a chunk-scoped cache,
// Process short-circuits unchanged messages without a fetch, and
// AfterBatch upserts the chunk's newly fetched rows in one transaction.
package mailsync

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hina0118/mailbatch/pkg/batch"
	"github.com/hina0118/mailbatch/pkg/mailbox"
	"github.com/hina0118/mailbatch/pkg/mailstore"
)

// EventChannelName is the progress event stream for this job type.
const EventChannelName = "mailbatch.jobs.sync"

// SyncContext carries the run-scoped collaborators and the chunk-scoped
// cache. One SyncContext belongs to exactly one run; the cache is never
// shared across runs or job types.
type SyncContext struct {
	DB       *sql.DB
	Provider mailbox.Provider
	RunID    string

	// cache holds already-synced rows for the current chunk only.
	// BeforeBatch replaces it wholesale at each chunk boundary.
	cache map[string]mailstore.MessageRow
}

// Synced is the per-item output: the stored (or to-be-stored) row, plus
// whether it was resolved from the chunk cache and therefore needs no
// persistence.
type Synced struct {
	Row       mailstore.MessageRow
	FromCache bool
}

// Task implements the batch task capability for mailbox sync.
type Task struct {
	logger *zap.Logger
}

// New creates the mailbox-sync task.
func New(logger *zap.Logger) *Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Task{logger: logger}
}

func (t *Task) Name() string { return "mailsync" }

func (t *Task) EventChannel() string { return EventChannelName }

// BeforeBatch warms the chunk cache with one bulk query keyed by the
// chunk's uids, avoiding a lookup round trip per message.
func (t *Task) BeforeBatch(ctx context.Context, refs []mailbox.MessageRef, jc *SyncContext) error {
	uids := make([]string, len(refs))
	for i, ref := range refs {
		uids[i] = ref.UID
	}

	rows, err := mailstore.MessagesByUIDs(ctx, jc.DB, uids)
	if err != nil {
		return fmt.Errorf("warm sync cache: %w", err)
	}
	jc.cache = rows
	return nil
}

// Process fetches one message, unless the chunk cache shows it is
// already synced and unchanged.
func (t *Task) Process(ctx context.Context, ref mailbox.MessageRef, jc *SyncContext) (Synced, error) {
	if row, ok := jc.cache[ref.UID]; ok && row.RawSize == ref.Size {
		t.logger.Debug("message already synced", zap.String("uid", ref.UID))
		return Synced{Row: row, FromCache: true}, nil
	}

	msg, err := jc.Provider.Fetch(ctx, ref.UID)
	if err != nil {
		return Synced{}, fmt.Errorf("fetch %s: %w", ref.UID, err)
	}

	return Synced{Row: mailstore.MessageRow{
		UID:        msg.UID,
		Folder:     msg.Folder,
		Subject:    msg.Subject,
		Sender:     strings.ToLower(msg.Sender),
		ReceivedAt: timePtr(msg.ReceivedAt),
		Body:       msg.Body,
		RawSize:    msg.Size,
		SyncedAt:   time.Now().UTC(),
		SyncRunID:  jc.RunID,
	}}, nil
}

// AfterBatch persists the chunk's newly fetched rows in a single
// transaction. Cache hits are already committed and are skipped.
func (t *Task) AfterBatch(ctx context.Context, batchNumber int, results []batch.ItemResult[Synced], jc *SyncContext) error {
	rows := make([]mailstore.MessageRow, 0, len(results))
	for _, res := range results {
		if res.Err != nil || res.Output.FromCache {
			continue
		}
		rows = append(rows, res.Output.Row)
	}
	if len(rows) == 0 {
		return nil
	}

	if err := mailstore.BatchUpsertMessages(ctx, jc.DB, rows); err != nil {
		return fmt.Errorf("persist batch %d: %w", batchNumber, err)
	}
	t.logger.Debug("persisted messages",
		zap.Int("batch", batchNumber),
		zap.Int("rows", len(rows)))
	return nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Compile-time checks for the hook capabilities.
var (
	_ batch.Task[mailbox.MessageRef, Synced, *SyncContext]  = (*Task)(nil)
	_ batch.BatchPreparer[mailbox.MessageRef, *SyncContext] = (*Task)(nil)
	_ batch.BatchFinalizer[Synced, *SyncContext]            = (*Task)(nil)
)
