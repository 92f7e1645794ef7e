// Package mailstore is the SQLite-backed persistence layer shared by the
// mail pipeline jobs.
//
// The connection pool returned by Open is safe to share across
// concurrently running job types. Bulk operations are provided for the
// per-chunk hooks: one transaction per chunk for persistence, one keyed
// bulk lookup per chunk for cache warming.
package mailstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// defaultBusyTimeout is used when Config.BusyTimeout is zero. Sync,
// parse, and enrich may hit the same database from separate processes,
// so waiting out a writer beats failing the chunk.
const defaultBusyTimeout = 5 * time.Second

type Config struct {
	// Path is a local filesystem path to the mail database.
	// If set, it is converted into a libsql-compatible DSN (file:<path>).
	Path string

	// URL is a libsql/Turso URL, e.g. libsql://your-db.turso.io.
	URL string

	// AuthToken is appended to URL-based DSNs as authToken=... when not already present.
	AuthToken string

	// BusyTimeout is how long a statement waits on a locked database
	// before failing. Zero means defaultBusyTimeout.
	BusyTimeout time.Duration
}

func buildDSN(cfg Config) (string, error) {
	if u := strings.TrimSpace(cfg.URL); u != "" {
		return addAuthToken(u, cfg.AuthToken)
	}
	return localDSN(strings.TrimSpace(cfg.Path))
}

// localDSN maps a manifest store path to a DSN, creating parent
// directories for plain file paths. ":memory:" and already-formed
// file:/libsql: DSNs pass through.
func localDSN(path string) (string, error) {
	switch {
	case path == "":
		return "", errors.New("mail store path or url is required")
	case path == ":memory:":
		return path, nil
	case strings.HasPrefix(path, "libsql:"):
		return path, nil
	case strings.HasPrefix(path, "file:"):
		localPath, err := extractFilePath(path)
		if err != nil {
			return "", err
		}
		if err := ensureStoreDir(localPath); err != nil {
			return "", err
		}
		return path, nil
	default:
		if err := ensureStoreDir(path); err != nil {
			return "", err
		}
		return "file:" + filepath.Clean(path), nil
	}
}

func addAuthToken(dsn string, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}

	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}

	return parsed.String(), nil
}

func extractFilePath(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store path: %w", err)
	}

	if parsed.Path != "" {
		return strings.TrimPrefix(parsed.Path, "//"), nil
	}

	return strings.TrimPrefix(parsed.Opaque, "//"), nil
}

// finishOpen verifies the fresh connection and applies local tuning.
// Shared by both driver builds.
func finishOpen(ctx context.Context, db *sql.DB, dsn string, cfg Config) (*sql.DB, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mail store: %w", err)
	}
	if err := tuneLocal(ctx, db, dsn, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// tuneLocal configures a locally backed database. Remote libsql URLs
// are left to the server's own settings.
func tuneLocal(ctx context.Context, db *sql.DB, dsn string, cfg Config) error {
	if db == nil {
		return errors.New("store connection is nil")
	}
	isFile := strings.HasPrefix(dsn, "file:")
	if !isFile && dsn != ":memory:" {
		return nil
	}

	// Cap the pool before any pragma so every statement, pragmas
	// included, runs on the same connection. A single connection
	// serializes this process's writers; WAL below lets the other job
	// processes read while a chunk commits.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// The schema chains messages -> documents -> enrichments; SQLite
	// leaves enforcement off unless asked.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	if !isFile {
		// In-memory databases have no writer contention to tune for.
		return nil
	}

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("set synchronous mode: %w", err)
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	var busyMillis int
	if err := db.QueryRowContext(ctx,
		fmt.Sprintf("PRAGMA busy_timeout=%d", busy.Milliseconds())).Scan(&busyMillis); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}

	return nil
}

func ensureStoreDir(path string) error {
	if strings.TrimSpace(path) == "" || path == ":memory:" {
		return nil
	}

	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
