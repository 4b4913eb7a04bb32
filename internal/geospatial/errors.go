package geospatial

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// IsUnavailable reports whether err means the store could not serve the
// request in time: a deadline, an exhausted or unreachable pool, or a busy
// SQLite file. These are worth retrying later, unlike query errors.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if eris.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

// IsNoRows reports whether err means an empty single-row result.
func IsNoRows(err error) bool {
	return eris.Is(err, pgx.ErrNoRows) || eris.Is(err, sql.ErrNoRows)
}
