package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"telemetry-backbone/src/helpers"
	"telemetry-backbone/src/interfaces"
	"telemetry-backbone/src/logger"
	"telemetry-backbone/src/models"
)

type dialect interface {
	name() string
	open(ctx context.Context, cfg models.MStorageConfig) (*sql.DB, error)
	prepare(ctx context.Context, db *sql.DB) error
	table(t models.Category) string
	placeholder(i int) string
	columnType(t columnType) string
}

var _ interfaces.IStore = (*SQLStore)(nil)

// -----------------------------------------------------------------------------

// SQLStore persists records in one table per category keyed by
// (timestamp, discriminator). Timestamps are unix milliseconds.
type SQLStore struct {
	Config  models.MStorageConfig
	DB      *sql.DB
	Logger  *logger.Logger
	dialect dialect
}

// -----------------------------------------------------------------------------

func NewSQLStore(cfg models.MStorageConfig, log *logger.Logger) (*SQLStore, error) {
	var d dialect
	switch cfg.DBType {
	case "sqlite":
		d = sqliteDialect{path: cfg.DBPath}
	case "postgres":
		schema := cfg.Schema
		if schema == "" {
			schema = "telemetry"
		}
		d = postgresDialect{dsn: cfg.DBConnectionString, schema: schema}
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DBType)
	}
	return &SQLStore{Config: cfg, Logger: log, dialect: d}, nil
}

// -----------------------------------------------------------------------------

// Initialize opens the database and creates any missing table and index.
// Existing data is kept.
func (s *SQLStore) Initialize(ctx context.Context) error {
	db, err := s.dialect.open(ctx, s.Config)
	if err != nil {
		return helpers.NewPersistenceError("open", s.dialect.name(), 0, err)
	}
	s.DB = db

	if err := s.dialect.prepare(ctx, db); err != nil {
		return helpers.NewPersistenceError("initialize", s.dialect.name(), 0, err)
	}

	for _, category := range models.AllCategories {
		schema := schemas[category]
		if _, err := db.ExecContext(ctx, s.createTableSQL(schema)); err != nil {
			return helpers.NewPersistenceError("create table", string(category), 0, err)
		}
		index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s DESC)`,
			quoteIdent("idx_"+string(category)+"_timestamp"), s.dialect.table(category), quoteIdent("timestamp"))
		if _, err := db.ExecContext(ctx, index); err != nil {
			return helpers.NewPersistenceError("create index", string(category), 0, err)
		}
	}

	s.Logger.Info("%s store initialized (%d tables)", s.dialect.name(), len(models.AllCategories))
	return nil
}

func (s *SQLStore) createTableSQL(schema tableSchema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", s.dialect.table(schema.table))
	fmt.Fprintf(&b, "\t%s %s NOT NULL,\n", quoteIdent("timestamp"), s.dialect.columnType(typeInteger))
	fmt.Fprintf(&b, "\t%s %s NOT NULL,\n", quoteIdent(schema.discriminator), s.dialect.columnType(typeText))
	for _, c := range schema.columns {
		fmt.Fprintf(&b, "\t%s %s,\n", quoteIdent(c.name), s.dialect.columnType(c.typ))
	}
	fmt.Fprintf(&b, "\tPRIMARY KEY (%s, %s)\n)", quoteIdent("timestamp"), quoteIdent(schema.discriminator))
	return b.String()
}

// -----------------------------------------------------------------------------

// upsertSQL builds INSERT ... ON CONFLICT (timestamp, disc) DO UPDATE, valid
// in both SQLite (3.24+) and Postgres.
func (s *SQLStore) upsertSQL(schema tableSchema) string {
	names := []string{quoteIdent("timestamp"), quoteIdent(schema.discriminator)}
	updates := make([]string, 0, len(schema.columns))
	for _, c := range schema.columns {
		col := quoteIdent(c.name)
		names = append(names, col)
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	marks := make([]string, len(names))
	for i := range marks {
		marks[i] = s.dialect.placeholder(i + 1)
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s, %s) DO UPDATE SET %s",
		s.dialect.table(schema.table),
		strings.Join(names, ", "),
		strings.Join(marks, ", "),
		quoteIdent("timestamp"), quoteIdent(schema.discriminator),
		strings.Join(updates, ", "))
}

// SaveBatch upserts records in one transaction. Either the whole batch is
// committed or nothing is; errors come back as *helpers.PersistenceError.
func (s *SQLStore) SaveBatch(ctx context.Context, category models.Category, records []models.PersistenceRecord) error {
	if len(records) == 0 {
		return nil
	}
	table := string(category)
	schema, err := schemaFor(category)
	if err != nil {
		return helpers.NewPersistenceError("save", table, len(records), err)
	}
	if s.DB == nil {
		return helpers.NewPersistenceError("save", table, len(records), errors.New("store not initialized"))
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return helpers.NewPersistenceError("save", table, len(records), err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.upsertSQL(schema))
	if err != nil {
		return helpers.NewPersistenceError("save", table, len(records), err)
	}
	defer stmt.Close()

	args := make([]interface{}, 0, len(schema.columns)+2)
	for i, r := range records {
		if r.Category() != category {
			return helpers.NewPersistenceError("save", table, len(records),
				fmt.Errorf("record %d belongs to %s", i, r.Category()))
		}
		values := r.Values()
		if len(values) != len(schema.columns) {
			return helpers.NewPersistenceError("save", table, len(records),
				fmt.Errorf("record %d has %d values, want %d", i, len(values), len(schema.columns)))
		}
		args = append(args[:0], r.RecordTime().UnixMilli(), r.Discriminator())
		args = append(args, values...)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return helpers.NewPersistenceError("save", table, len(records), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return helpers.NewPersistenceError("save", table, len(records), err)
	}
	return nil
}

// Save is a batch of one.
func (s *SQLStore) Save(ctx context.Context, record models.PersistenceRecord) error {
	return s.SaveBatch(ctx, record.Category(), []models.PersistenceRecord{record})
}

// -----------------------------------------------------------------------------

// Query returns one row per non-empty bucket in [Start, End), oldest first.
func (s *SQLStore) Query(ctx context.Context, req models.MQueryRequest) ([]models.MBucketRow, error) {
	table := string(req.Category)
	schema, err := schemaFor(req.Category)
	if err != nil {
		return nil, helpers.NewPersistenceError("query", table, 0, err)
	}
	width, err := req.Bucket.Duration()
	if err != nil {
		return nil, helpers.NewPersistenceError("query", table, 0, err)
	}
	if !req.End.After(req.Start) {
		return nil, helpers.NewPersistenceError("query", table, 0, errors.New("end must be after start"))
	}
	if s.DB == nil {
		return nil, helpers.NewPersistenceError("query", table, 0, errors.New("store not initialized"))
	}

	widthMs := width.Milliseconds()
	ts := quoteIdent("timestamp")
	selects := []string{fmt.Sprintf("(%s / %d) * %d AS bucket_start", ts, widthMs, widthMs), "COUNT(*)"}
	var keys []string
	for _, c := range schema.columns {
		for _, agg := range c.aggs {
			selects = append(selects, fmt.Sprintf("%s(%s)", strings.ToUpper(agg), quoteIdent(c.name)))
			keys = append(keys, c.name+"_"+agg)
		}
	}

	args := []interface{}{req.Start.UnixMilli(), req.End.UnixMilli()}
	where := fmt.Sprintf("%s >= %s AND %s < %s", ts, s.dialect.placeholder(1), ts, s.dialect.placeholder(2))
	if req.Discriminator != "" {
		where += fmt.Sprintf(" AND %s = %s", quoteIdent(schema.discriminator), s.dialect.placeholder(3))
		args = append(args, req.Discriminator)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s GROUP BY bucket_start ORDER BY bucket_start",
		strings.Join(selects, ", "), s.dialect.table(schema.table), where)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, helpers.NewPersistenceError("query", table, 0, err)
	}
	defer rows.Close()

	var out []models.MBucketRow
	for rows.Next() {
		var bucket, count int64
		values := make([]sql.NullFloat64, len(keys))
		dest := []interface{}{&bucket, &count}
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, helpers.NewPersistenceError("query", table, len(out), err)
		}

		row := models.MBucketRow{
			BucketStart: time.UnixMilli(bucket).UTC(),
			Count:       count,
			Fields:      make(map[string]float64, len(keys)),
		}
		for i, k := range keys {
			if values[i].Valid {
				row.Fields[k] = values[i].Float64
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, helpers.NewPersistenceError("query", table, len(out), err)
	}
	return out, nil
}

// -----------------------------------------------------------------------------

// CleanupOldData deletes rows older than retention from every table. A failing
// table does not stop the others.
func (s *SQLStore) CleanupOldData(ctx context.Context, retention time.Duration) error {
	if s.DB == nil {
		return helpers.NewPersistenceError("cleanup", s.dialect.name(), 0, errors.New("store not initialized"))
	}
	cutoff := time.Now().Add(-retention).UnixMilli()

	var errs []error
	var total int64
	for _, category := range models.AllCategories {
		query := fmt.Sprintf("DELETE FROM %s WHERE %s < %s", s.dialect.table(category), quoteIdent("timestamp"), s.dialect.placeholder(1))
		res, err := s.DB.ExecContext(ctx, query, cutoff)
		if err != nil {
			s.Logger.Error("Cleanup %s error: %v", category, err)
			errs = append(errs, helpers.NewPersistenceError("cleanup", string(category), 0, err))
			continue
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}

	s.Logger.Info("Cleanup removed %d rows older than %s", total, retention)
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------

func (s *SQLStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
