package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"telemetry-backbone/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

// postgresDialect keeps every table inside one schema.
type postgresDialect struct {
	dsn    string
	schema string
}

func (d postgresDialect) name() string { return "postgres" }

func (d postgresDialect) open(ctx context.Context, cfg models.MStorageConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", d.dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (d postgresDialect) prepare(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, quoteIdent(d.schema))); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.schema, err)
	}
	return nil
}

func (d postgresDialect) table(t models.Category) string {
	return quoteIdent(d.schema) + "." + quoteIdent(string(t))
}

func (d postgresDialect) placeholder(i int) string { return "$" + strconv.Itoa(i) }

func (d postgresDialect) columnType(t columnType) string {
	switch t {
	case typeInteger:
		return "BIGINT"
	case typeText:
		return "TEXT"
	default:
		return "DOUBLE PRECISION"
	}
}

