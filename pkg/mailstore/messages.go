package mailstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// MessageRow represents a row in the messages table.
type MessageRow struct {
	UID        string
	Folder     string
	Subject    string
	Sender     string
	ReceivedAt *time.Time
	Body       string
	RawSize    int64
	SyncedAt   time.Time
	SyncRunID  string
}

// BatchUpsertMessages inserts or updates multiple messages in a single
// transaction. This is the per-chunk persistence path for mailbox sync;
// it is all-or-nothing for the chunk.
func BatchUpsertMessages(ctx context.Context, db *sql.DB, rows []MessageRow) error {
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
		`INSERT INTO messages
		 (uid, folder, subject, sender, received_at, body, raw_size, synced_at, sync_run_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(uid) DO UPDATE SET
		   folder = excluded.folder,
		   subject = excluded.subject,
		   sender = excluded.sender,
		   received_at = excluded.received_at,
		   body = excluded.body,
		   raw_size = excluded.raw_size,
		   synced_at = excluded.synced_at,
		   sync_run_id = excluded.sync_run_id`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx,
			row.UID, row.Folder, row.Subject, row.Sender, row.ReceivedAt,
			row.Body, row.RawSize, row.SyncedAt, row.SyncRunID); err != nil {
			return fmt.Errorf("upsert message %s: %w", row.UID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit messages: %w", err)
	}
	return nil
}

// MessagesByUIDs returns the stored messages for the given uids, keyed
// by uid. Missing uids are simply absent from the result. This is the
// bulk lookup used to warm a chunk-scoped cache without an N+1 query.
func MessagesByUIDs(ctx context.Context, db *sql.DB, uids []string) (map[string]MessageRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	out := make(map[string]MessageRow, len(uids))
	if len(uids) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(
		`SELECT uid, folder, subject, sender, received_at, body, raw_size, synced_at, sync_run_id
		 FROM messages WHERE uid IN (%s)`, placeholders(len(uids)))

	rows, err := db.QueryContext(ctx, query, stringArgs(uids)...)
	if err != nil {
		return nil, fmt.Errorf("query messages by uid: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		row, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out[row.UID] = row
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// MessagesMissingDocuments selects messages that have no parsed
// document yet, oldest first. Like the enrichment selection, this is
// the natural retry path: messages a prior parse run failed on are
// selected again by the next run.
func MessagesMissingDocuments(ctx context.Context, db *sql.DB, limit int) ([]MessageRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 500
	}

	rows, err := db.QueryContext(ctx,
		`SELECT m.uid, m.folder, m.subject, m.sender, m.received_at,
		        m.body, m.raw_size, m.synced_at, m.sync_run_id
		 FROM messages m
		 LEFT JOIN documents d ON d.message_uid = m.uid
		 WHERE d.message_uid IS NULL
		 ORDER BY m.synced_at ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages missing documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []MessageRow
	for rows.Next() {
		row, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func scanMessage(rows *sql.Rows) (MessageRow, error) {
	var row MessageRow
	var subject, sender, body, runID sql.NullString
	var receivedAtRaw, syncedAtRaw any
	if err := rows.Scan(&row.UID, &row.Folder, &subject, &sender,
		&receivedAtRaw, &body, &row.RawSize, &syncedAtRaw, &runID); err != nil {
		return row, fmt.Errorf("scan message: %w", err)
	}
	row.Subject = subject.String
	row.Sender = sender.String
	row.Body = body.String
	row.SyncRunID = runID.String
	receivedAt, err := parseOptionalDBTime(receivedAtRaw)
	if err != nil {
		return row, fmt.Errorf("parse received_at: %w", err)
	}
	row.ReceivedAt = receivedAt
	syncedAt, err := parseDBTimeValue(syncedAtRaw)
	if err != nil {
		return row, fmt.Errorf("parse synced_at: %w", err)
	}
	row.SyncedAt = syncedAt
	return row, nil
}

// CountMessages returns the number of stored messages in the folder.
// An empty folder counts all messages.
func CountMessages(ctx context.Context, db *sql.DB, folder string) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var n int64
	var err error
	if strings.TrimSpace(folder) == "" {
		err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	} else {
		err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE folder = ?`, folder).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// placeholders renders n comma-separated SQL placeholders.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
