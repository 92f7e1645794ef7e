// Package enrich implements the third-party enrichment job.
//
// The job is external-API-bound and is the fullest use of the
// cache-then-remote-then-persist pattern: BeforeBatch bulk-loads stored
// annotations keyed by doc key, ProcessBatch groups the chunk's cache
// misses and sends them as one remote call per sub-chunk (the remote's
// MaxBatch is stricter than the engine's own chunk size), and AfterBatch
// persists only the newly resolved annotations.
package enrich

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hina0118/mailbatch/pkg/batch"
	"github.com/hina0118/mailbatch/pkg/mailstore"
)

// EventChannelName is the progress event stream for this job type.
const EventChannelName = "mailbatch.jobs.enrich"

// EnrichContext carries the run-scoped collaborators and the
// chunk-scoped annotation cache.
type EnrichContext struct {
	DB     *sql.DB
	Client Client

	// cache holds stored annotations for the current chunk only.
	// BeforeBatch replaces it at each chunk boundary.
	cache map[string]mailstore.EnrichmentRow
}

// Enriched is the per-item output.
type Enriched struct {
	Row       mailstore.EnrichmentRow
	FromCache bool
}

// Task implements the batch task capability for enrichment.
type Task struct {
	logger  *zap.Logger
	limiter *rate.Limiter
}

// New creates the enrichment task. requestsPerSecond paces the remote
// calls independently of the engine's inter-chunk delay; zero disables
// pacing.
func New(logger *zap.Logger, requestsPerSecond float64) *Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Task{logger: logger}
	if requestsPerSecond > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return t
}

func (t *Task) Name() string { return "enrich" }

func (t *Task) EventChannel() string { return EventChannelName }

// BeforeBatch warms the chunk cache with one bulk lookup keyed by the
// chunk's doc keys.
func (t *Task) BeforeBatch(ctx context.Context, docs []mailstore.DocumentRow, jc *EnrichContext) error {
	keys := make([]string, len(docs))
	for i, doc := range docs {
		keys[i] = doc.DocKey
	}

	cached, err := mailstore.EnrichmentsByDocKeys(ctx, jc.DB, keys)
	if err != nil {
		return fmt.Errorf("warm enrichment cache: %w", err)
	}
	jc.cache = cached
	return nil
}

// Process is the single-item fallback: one remote call for one document.
// The runner only uses it when ProcessBatch is absent; it exists to
// satisfy the task interface and for callers that enrich ad hoc.
func (t *Task) Process(ctx context.Context, doc mailstore.DocumentRow, jc *EnrichContext) (Enriched, error) {
	results := t.ProcessBatch(ctx, []mailstore.DocumentRow{doc}, jc)
	if results[0].Err != nil {
		return Enriched{}, results[0].Err
	}
	return results[0].Output, nil
}

// ProcessBatch resolves a chunk: cache hits short-circuit, and the
// misses are sent to the remote in sub-chunks no larger than the
// client's MaxBatch. Request/response correspondence is positional; any
// count mismatch fails the whole sub-chunk rather than risking
// misaligned annotations. Exactly one result per input is returned, in
// input order.
func (t *Task) ProcessBatch(ctx context.Context, docs []mailstore.DocumentRow, jc *EnrichContext) []batch.ItemResult[Enriched] {
	results := make([]batch.ItemResult[Enriched], len(docs))

	var missed []int
	for i, doc := range docs {
		if row, ok := jc.cache[doc.DocKey]; ok {
			results[i] = batch.Ok(Enriched{Row: row, FromCache: true})
			continue
		}
		missed = append(missed, i)
	}
	if len(missed) == 0 {
		return results
	}

	maxBatch := jc.Client.MaxBatch()
	if maxBatch < 1 {
		maxBatch = len(missed)
	}

	for _, group := range batch.Chunks(missed, maxBatch) {
		t.enrichGroup(ctx, docs, group, results, jc)
	}
	return results
}

// enrichGroup performs one remote call for a group of input indexes and
// writes each outcome back to its original position.
func (t *Task) enrichGroup(ctx context.Context, docs []mailstore.DocumentRow, group []int, results []batch.ItemResult[Enriched], jc *EnrichContext) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			for _, i := range group {
				results[i] = batch.Fail[Enriched](err)
			}
			return
		}
	}

	reqs := make([]Request, len(group))
	for gi, i := range group {
		doc := docs[i]
		reqs[gi] = Request{
			DocKey:      doc.DocKey,
			Vendor:      doc.Vendor,
			DocNumber:   doc.DocNumber,
			AmountCents: doc.AmountCents,
			Currency:    doc.Currency,
		}
	}

	annotations, err := jc.Client.Enrich(ctx, reqs)
	if err != nil {
		err = fmt.Errorf("enrich call: %w", err)
		for _, i := range group {
			results[i] = batch.Fail[Enriched](err)
		}
		return
	}
	if len(annotations) != len(reqs) {
		t.logger.Warn("annotation count mismatch",
			zap.Int("requests", len(reqs)),
			zap.Int("annotations", len(annotations)))
		err := fmt.Errorf("%w: sent %d, got %d", ErrCountMismatch, len(reqs), len(annotations))
		for _, i := range group {
			results[i] = batch.Fail[Enriched](err)
		}
		return
	}

	now := time.Now().UTC()
	for gi, i := range group {
		a := annotations[gi]
		results[i] = batch.Ok(Enriched{Row: mailstore.EnrichmentRow{
			DocKey:     docs[i].DocKey,
			Category:   a.Category,
			Summary:    a.Summary,
			Confidence: a.Confidence,
			Model:      a.Model,
			EnrichedAt: now,
		}})
	}
}

// AfterBatch persists the chunk's newly resolved annotations in a
// single transaction. Cache hits and failed items are skipped.
func (t *Task) AfterBatch(ctx context.Context, batchNumber int, results []batch.ItemResult[Enriched], jc *EnrichContext) error {
	rows := make([]mailstore.EnrichmentRow, 0, len(results))
	for _, res := range results {
		if res.Err != nil || res.Output.FromCache {
			continue
		}
		rows = append(rows, res.Output.Row)
	}
	if len(rows) == 0 {
		return nil
	}

	if err := mailstore.BatchUpsertEnrichments(ctx, jc.DB, rows); err != nil {
		return fmt.Errorf("persist batch %d: %w", batchNumber, err)
	}
	t.logger.Debug("persisted enrichments",
		zap.Int("batch", batchNumber),
		zap.Int("rows", len(rows)))
	return nil
}

// Compile-time checks for the hook capabilities.
var (
	_ batch.Task[mailstore.DocumentRow, Enriched, *EnrichContext]           = (*Task)(nil)
	_ batch.BatchPreparer[mailstore.DocumentRow, *EnrichContext]            = (*Task)(nil)
	_ batch.BatchProcessor[mailstore.DocumentRow, Enriched, *EnrichContext] = (*Task)(nil)
	_ batch.BatchFinalizer[Enriched, *EnrichContext]                        = (*Task)(nil)
)
