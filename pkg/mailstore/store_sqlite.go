//go:build !cgo

package mailstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlite "modernc.org/sqlite"
)

const driverLibsql = "libsql"

func init() {
	sql.Register(driverLibsql, &sqlite.Driver{})
}

// Open opens (and creates if needed) the mail database using the pure
// Go SQLite driver. Remote libsql URLs need the cgo build; everything
// else, including plain paths whose parent directories are created on
// the fly, works here.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(dsn, "libsql://") || strings.HasPrefix(dsn, "https://") {
		return nil, errors.New("libsql URL requires cgo-enabled build")
	}

	// The pure Go driver writes time.Time as Go's String() form unless
	// told otherwise; _time_format=sqlite selects the layout the cgo
	// libsql driver writes and parseDBTimeString already accepts.
	openDSN := dsn
	if strings.Contains(openDSN, "?") {
		openDSN += "&_time_format=sqlite"
	} else {
		openDSN += "?_time_format=sqlite"
	}

	db, err := sql.Open(driverLibsql, openDSN)
	if err != nil {
		return nil, fmt.Errorf("open mail store: %w", err)
	}
	return finishOpen(ctx, db, dsn, cfg)
}
