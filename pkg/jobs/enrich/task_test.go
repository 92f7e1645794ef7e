package enrich

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hina0118/mailbatch/pkg/batch"
	"github.com/hina0118/mailbatch/pkg/mailstore"
)

func testDoc(docKey string) mailstore.DocumentRow {
	return mailstore.DocumentRow{
		DocKey:      docKey,
		MessageUID:  "INBOX/001",
		Vendor:      "acme",
		DocNumber:   "INV-1",
		AmountCents: 1234,
		Currency:    "USD",
		ParsedAt:    time.Now().UTC(),
	}
}

func testDocs(n int) []mailstore.DocumentRow {
	out := make([]mailstore.DocumentRow, n)
	for i := range out {
		out[i] = testDoc(fmt.Sprintf("acme/INV-%03d", i+1))
	}
	return out
}

func TestTaskIdentity(t *testing.T) {
	task := New(nil, 0)
	assert.Equal(t, "enrich", task.Name())
	assert.Equal(t, EventChannelName, task.EventChannel())
}

func TestProcessBatchSubChunksByClientLimit(t *testing.T) {
	client := NewMemoryClient(3)
	task := New(nil, 0)
	jc := &EnrichContext{Client: client}

	results := task.ProcessBatch(context.Background(), testDocs(7), jc)
	require.Len(t, results, 7)
	for i, res := range results {
		require.NoError(t, res.Err, "item %d", i)
	}

	// The engine chunk of 7 is split into remote calls of at most 3.
	assert.Equal(t, []int{3, 3, 1}, client.Calls)
}

func TestProcessBatchCacheHitsSkipRemote(t *testing.T) {
	client := NewMemoryClient(10)
	task := New(nil, 0)
	cached := mailstore.EnrichmentRow{DocKey: "acme/INV-001", Category: "utilities"}
	jc := &EnrichContext{
		Client: client,
		cache:  map[string]mailstore.EnrichmentRow{"acme/INV-001": cached},
	}

	docs := testDocs(3)
	results := task.ProcessBatch(context.Background(), docs, jc)
	require.Len(t, results, 3)

	assert.True(t, results[0].Output.FromCache)
	assert.Equal(t, cached, results[0].Output.Row)
	assert.False(t, results[1].Output.FromCache)

	// Only the two misses reach the remote, in one call.
	assert.Equal(t, []int{2}, client.Calls)
}

func TestProcessBatchAllCachedMakesNoCall(t *testing.T) {
	client := NewMemoryClient(10)
	task := New(nil, 0)
	jc := &EnrichContext{
		Client: client,
		cache: map[string]mailstore.EnrichmentRow{
			"acme/INV-001": {DocKey: "acme/INV-001"},
			"acme/INV-002": {DocKey: "acme/INV-002"},
		},
	}

	results := task.ProcessBatch(context.Background(), testDocs(2), jc)
	require.Len(t, results, 2)
	assert.Empty(t, client.Calls)
}

func TestProcessBatchCountMismatchFailsSubGroup(t *testing.T) {
	client := NewMemoryClient(2)
	client.ShortResponse = true
	task := New(nil, 0)
	jc := &EnrichContext{Client: client}

	results := task.ProcessBatch(context.Background(), testDocs(2), jc)
	require.Len(t, results, 2)
	// No positional guessing: both items of the sub-group fail.
	for i, res := range results {
		require.Error(t, res.Err, "item %d", i)
		assert.ErrorIs(t, res.Err, ErrCountMismatch)
	}
}

func TestProcessBatchRemoteErrorFailsSubGroupOnly(t *testing.T) {
	client := NewMemoryClient(2)
	client.Err = ErrUnavailable
	task := New(nil, 0)
	jc := &EnrichContext{Client: client}

	results := task.ProcessBatch(context.Background(), testDocs(3), jc)
	require.Len(t, results, 3)
	for _, res := range results {
		assert.ErrorIs(t, res.Err, ErrUnavailable)
	}
}

func TestProcessSingleItem(t *testing.T) {
	client := NewMemoryClient(10)
	client.Answer("acme/INV-001", Annotation{Category: "utilities", Confidence: 0.9, Model: "m1"})
	task := New(nil, 0)
	jc := &EnrichContext{Client: client}

	out, err := task.Process(context.Background(), testDoc("acme/INV-001"), jc)
	require.NoError(t, err)
	assert.Equal(t, "utilities", out.Row.Category)
	assert.Equal(t, "m1", out.Row.Model)
	assert.False(t, out.Row.EnrichedAt.IsZero())
}

func TestRateLimiterHonorsContext(t *testing.T) {
	client := NewMemoryClient(10)
	// Slow enough that the second wait would block for minutes.
	task := New(nil, 0.001)
	jc := &EnrichContext{Client: client}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := task.ProcessBatch(ctx, testDocs(1), jc)
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.Empty(t, client.Calls, "a cancelled wait must not reach the remote")
}

func TestFullRunPersistsNewAnnotationsOnly(t *testing.T) {
	ctx := context.Background()
	db, err := mailstore.Open(ctx, mailstore.Config{Path: filepath.Join(t.TempDir(), "mail.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, mailstore.Migrate(ctx, db))

	now := time.Now().UTC().Truncate(time.Second)
	msg := mailstore.MessageRow{UID: "INBOX/001", Folder: "INBOX", SyncedAt: now}
	require.NoError(t, mailstore.BatchUpsertMessages(ctx, db, []mailstore.MessageRow{msg}))

	docs := testDocs(3)
	require.NoError(t, mailstore.BatchUpsertDocuments(ctx, db, docs))

	// One document is already annotated.
	require.NoError(t, mailstore.BatchUpsertEnrichments(ctx, db, []mailstore.EnrichmentRow{{
		DocKey: "acme/INV-002", Category: "stored", EnrichedAt: now,
	}}))

	client := NewMemoryClient(2)
	client.Answer("acme/INV-001", Annotation{Category: "utilities", Confidence: 0.9})
	client.Answer("acme/INV-003", Annotation{Category: "travel", Confidence: 0.7})

	task := New(nil, 0)
	runner := batch.NewRunner[mailstore.DocumentRow, Enriched, *EnrichContext](task, 10, 0)
	jc := &EnrichContext{DB: db, Client: client}

	res, err := runner.Run(ctx, nil, docs, jc, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.SuccessCount)

	// The cached document never reached the remote.
	assert.Equal(t, []int{2}, client.Calls)

	got, err := mailstore.EnrichmentsByDocKeys(ctx, db,
		[]string{"acme/INV-001", "acme/INV-002", "acme/INV-003"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "utilities", got["acme/INV-001"].Category)
	assert.Equal(t, "stored", got["acme/INV-002"].Category, "cache hit is not rewritten")
	assert.Equal(t, "travel", got["acme/INV-003"].Category)
}
