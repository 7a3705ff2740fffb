package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"telemetry-backbone/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

type sqliteDialect struct {
	path string
}

func (d sqliteDialect) name() string { return "sqlite" }

// open uses a single connection: SQLite has one writer anyway and this keeps
// concurrent flushes from failing with SQLITE_BUSY.
func (d sqliteDialect) open(ctx context.Context, cfg models.MStorageConfig) (*sql.DB, error) {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	dsn := fmt.Sprintf("file:%s?%s", d.path, q.Encode())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (d sqliteDialect) prepare(ctx context.Context, db *sql.DB) error { return nil }

func (d sqliteDialect) table(t models.Category) string {
	return quoteIdent(string(t))
}

func (d sqliteDialect) placeholder(int) string { return "?" }

func (d sqliteDialect) columnType(t columnType) string {
	switch t {
	case typeInteger:
		return "INTEGER"
	case typeText:
		return "TEXT"
	default:
		return "REAL"
	}
}

