package mailstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EnrichmentRow represents a row in the enrichments table.
type EnrichmentRow struct {
	DocKey     string
	Category   string
	Summary    string
	Confidence float64
	Model      string
	EnrichedAt time.Time
}

// BatchUpsertEnrichments inserts or updates multiple enrichment
// annotations in a single transaction. The enrichment job persists only
// newly resolved items through this path; cache hits never reach it.
func BatchUpsertEnrichments(ctx context.Context, db *sql.DB, rows []EnrichmentRow) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO enrichments
		 (doc_key, category, summary, confidence, model, enriched_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(doc_key) DO UPDATE SET
		   category = excluded.category,
		   summary = excluded.summary,
		   confidence = excluded.confidence,
		   model = excluded.model,
		   enriched_at = excluded.enriched_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx,
			row.DocKey, row.Category, row.Summary, row.Confidence,
			row.Model, row.EnrichedAt); err != nil {
			return fmt.Errorf("upsert enrichment %s: %w", row.DocKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrichments: %w", err)
	}
	return nil
}

// EnrichmentsByDocKeys returns stored annotations for the given doc
// keys, keyed by doc key. Missing keys are absent from the result. This
// is the one bulk lookup per chunk that warms the enrichment job's
// chunk-scoped cache.
func EnrichmentsByDocKeys(ctx context.Context, db *sql.DB, docKeys []string) (map[string]EnrichmentRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	out := make(map[string]EnrichmentRow, len(docKeys))
	if len(docKeys) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(
		`SELECT doc_key, category, summary, confidence, model, enriched_at
		 FROM enrichments WHERE doc_key IN (%s)`, placeholders(len(docKeys)))

	rows, err := db.QueryContext(ctx, query, stringArgs(docKeys)...)
	if err != nil {
		return nil, fmt.Errorf("query enrichments by doc key: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var row EnrichmentRow
		var summary, model sql.NullString
		var enrichedAtRaw any
		if err := rows.Scan(&row.DocKey, &row.Category, &summary,
			&row.Confidence, &model, &enrichedAtRaw); err != nil {
			return nil, fmt.Errorf("scan enrichment: %w", err)
		}
		row.Summary = summary.String
		row.Model = model.String
		enrichedAt, err := parseDBTimeValue(enrichedAtRaw)
		if err != nil {
			return nil, fmt.Errorf("parse enriched_at: %w", err)
		}
		row.EnrichedAt = enrichedAt
		out[row.DocKey] = row
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrichments: %w", err)
	}
	return out, nil
}
