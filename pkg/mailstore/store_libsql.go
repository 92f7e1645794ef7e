//go:build cgo

package mailstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/tursodatabase/go-libsql"
)

const driverLibsql = "libsql"

// Open opens (and creates if needed) the mail database through the
// libsql driver, which also accepts remote libsql://... URLs for a
// Turso-hosted store. Local tuning is skipped for remote databases.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open mail store: %w", err)
	}
	return finishOpen(ctx, db, dsn, cfg)
}
