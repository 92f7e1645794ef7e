package mailstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchUpsertEnrichmentsRoundtrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedMessages(t, db, "INBOX/1")
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, BatchUpsertDocuments(ctx, db, []DocumentRow{
		testDocument("acme/INV-100", "INBOX/1", now),
	}))

	require.NoError(t, BatchUpsertEnrichments(ctx, db, []EnrichmentRow{{
		DocKey:     "acme/INV-100",
		Category:   "utilities",
		Summary:    "Monthly electricity bill",
		Confidence: 0.92,
		Model:      "classifier-v2",
		EnrichedAt: now,
	}}))

	got, err := EnrichmentsByDocKeys(ctx, db, []string{"acme/INV-100", "acme/INV-404"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	e := got["acme/INV-100"]
	assert.Equal(t, "utilities", e.Category)
	assert.Equal(t, "Monthly electricity bill", e.Summary)
	assert.InDelta(t, 0.92, e.Confidence, 1e-9)
	assert.Equal(t, "classifier-v2", e.Model)
	assert.True(t, e.EnrichedAt.Equal(now))
}

func TestBatchUpsertEnrichmentsUpdatesByDocKey(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedMessages(t, db, "INBOX/1")
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, BatchUpsertDocuments(ctx, db, []DocumentRow{
		testDocument("acme/INV-100", "INBOX/1", now),
	}))

	row := EnrichmentRow{DocKey: "acme/INV-100", Category: "unknown", EnrichedAt: now}
	require.NoError(t, BatchUpsertEnrichments(ctx, db, []EnrichmentRow{row}))

	row.Category = "utilities"
	row.Confidence = 0.8
	require.NoError(t, BatchUpsertEnrichments(ctx, db, []EnrichmentRow{row}))

	got, err := EnrichmentsByDocKeys(ctx, db, []string{"acme/INV-100"})
	require.NoError(t, err)
	assert.Equal(t, "utilities", got["acme/INV-100"].Category)
	assert.InDelta(t, 0.8, got["acme/INV-100"].Confidence, 1e-9)
}

func TestEnrichmentsByDocKeysEmpty(t *testing.T) {
	db := openTestDB(t)

	got, err := EnrichmentsByDocKeys(context.Background(), db, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBatchUpsertEnrichmentsEmpty(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, BatchUpsertEnrichments(context.Background(), db, nil))
}
