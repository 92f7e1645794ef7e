package mailstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DocumentRow represents a row in the documents table.
//
// DocKey is the document's natural key, "<vendor>/<doc_number>"; it is
// what the enrichments table references.
type DocumentRow struct {
	DocKey      string
	MessageUID  string
	Vendor      string
	DocNumber   string
	AmountCents int64
	Currency    string
	IssuedAt    *time.Time
	ParsedAt    time.Time
}

// BatchUpsertDocuments inserts or updates multiple parsed documents in a
// single transaction. Re-parsing a message is idempotent: the doc key
// wins, so amounts and dates are refreshed in place.
func BatchUpsertDocuments(ctx context.Context, db *sql.DB, rows []DocumentRow) error {
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
		`INSERT INTO documents
		 (doc_key, message_uid, vendor, doc_number, amount_cents, currency, issued_at, parsed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(doc_key) DO UPDATE SET
		   message_uid = excluded.message_uid,
		   amount_cents = excluded.amount_cents,
		   currency = excluded.currency,
		   issued_at = excluded.issued_at,
		   parsed_at = excluded.parsed_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx,
			row.DocKey, row.MessageUID, row.Vendor, row.DocNumber,
			row.AmountCents, row.Currency, row.IssuedAt, row.ParsedAt); err != nil {
			return fmt.Errorf("upsert document %s: %w", row.DocKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit documents: %w", err)
	}
	return nil
}

// DocumentsByMessageUIDs returns the doc keys already parsed out of the
// given messages, keyed by message uid. Used to warm the parse job's
// chunk cache so already-parsed messages short-circuit without rework.
func DocumentsByMessageUIDs(ctx context.Context, db *sql.DB, uids []string) (map[string][]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	out := make(map[string][]string, len(uids))
	if len(uids) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(
		`SELECT message_uid, doc_key FROM documents WHERE message_uid IN (%s)`,
		placeholders(len(uids)))

	rows, err := db.QueryContext(ctx, query, stringArgs(uids)...)
	if err != nil {
		return nil, fmt.Errorf("query documents by message: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var uid, docKey string
		if err := rows.Scan(&uid, &docKey); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out[uid] = append(out[uid], docKey)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// DocumentsMissingEnrichment selects documents that have no enrichment
// row yet, oldest first. This is the natural retry path: items a prior
// run left unresolved are simply selected again by the next run.
func DocumentsMissingEnrichment(ctx context.Context, db *sql.DB, limit int) ([]DocumentRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 500
	}

	rows, err := db.QueryContext(ctx,
		`SELECT d.doc_key, d.message_uid, d.vendor, d.doc_number,
		        d.amount_cents, d.currency, d.issued_at, d.parsed_at
		 FROM documents d
		 LEFT JOIN enrichments e ON e.doc_key = d.doc_key
		 WHERE e.doc_key IS NULL
		 ORDER BY d.parsed_at ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query documents missing enrichment: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DocumentRow
	for rows.Next() {
		var row DocumentRow
		var currency sql.NullString
		var issuedAtRaw, parsedAtRaw any
		if err := rows.Scan(&row.DocKey, &row.MessageUID, &row.Vendor, &row.DocNumber,
			&row.AmountCents, &currency, &issuedAtRaw, &parsedAtRaw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		row.Currency = currency.String
		issuedAt, err := parseOptionalDBTime(issuedAtRaw)
		if err != nil {
			return nil, fmt.Errorf("parse issued_at: %w", err)
		}
		row.IssuedAt = issuedAt
		parsedAt, err := parseDBTimeValue(parsedAtRaw)
		if err != nil {
			return nil, fmt.Errorf("parse parsed_at: %w", err)
		}
		row.ParsedAt = parsedAt
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}
