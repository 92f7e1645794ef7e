package mailstore

import (
	"context"
	"database/sql"
	"fmt"
)

const SchemaVersion = 1

// Migrate creates (or upgrades) the mail schema in-place.
//
// The schema supports:
// - synced mailbox messages (upserted by uid)
// - documents parsed out of message bodies
// - per-document enrichment annotations (upserted by doc key)
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS messages (
			uid TEXT PRIMARY KEY,
			folder TEXT NOT NULL,
			subject TEXT,
			sender TEXT,
			received_at TEXT,
			body TEXT,
			raw_size INTEGER NOT NULL DEFAULT 0,
			synced_at TEXT NOT NULL,
			sync_run_id TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_folder ON messages(folder);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender);`,

		`CREATE TABLE IF NOT EXISTS documents (
			doc_key TEXT PRIMARY KEY,
			message_uid TEXT NOT NULL,
			vendor TEXT NOT NULL,
			doc_number TEXT NOT NULL,
			amount_cents INTEGER NOT NULL DEFAULT 0,
			currency TEXT,
			issued_at TEXT,
			parsed_at TEXT NOT NULL,
			FOREIGN KEY(message_uid) REFERENCES messages(uid)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_message ON documents(message_uid);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_vendor ON documents(vendor);`,

		`CREATE TABLE IF NOT EXISTS enrichments (
			doc_key TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			summary TEXT,
			confidence REAL NOT NULL DEFAULT 0,
			model TEXT,
			enriched_at TEXT NOT NULL,
			FOREIGN KEY(doc_key) REFERENCES documents(doc_key)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE schema_meta SET schema_version = ? WHERE id = 1 AND schema_version < ?`,
		SchemaVersion, SchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}
