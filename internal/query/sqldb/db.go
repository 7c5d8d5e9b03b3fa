// Package sqldb implements query.Engine on top of database/sql.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/duckmesh/askdb/internal/query"
)

const (
	DialectSQLite     = "SQLite"
	DialectDuckDB     = "DuckDB"
	DialectPostgreSQL = "PostgreSQL"
)

type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

type Options struct {
	// ReadOnlyTx begins every transaction with sql.TxOptions{ReadOnly: true}.
	ReadOnlyTx   bool
	QueryTimeout time.Duration
}

type DB struct {
	db      *sql.DB
	dialect string
	opts    Options
}

var _ query.Engine = (*DB)(nil)

// Open connects to a sqlite or pgx database in read-only mode.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	var (
		dsn     string
		dialect string
		opts    = Options{QueryTimeout: cfg.QueryTimeout}
	)
	switch cfg.Driver {
	case "sqlite":
		dsn = SQLiteReadOnlyDSN(cfg.DSN)
		dialect = DialectSQLite
	case "pgx":
		dsn = cfg.DSN
		dialect = DialectPostgreSQL
		opts.ReadOnlyTx = true
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", cfg.Driver, err)
	}
	Configure(db, cfg)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", cfg.Driver, err)
	}

	return New(db, dialect, opts), nil
}

// Configure applies the pool settings from cfg.
func Configure(db *sql.DB, cfg Config) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

func New(db *sql.DB, dialect string, opts Options) *DB {
	return &DB{db: db, dialect: dialect, opts: opts}
}

// SQLiteReadOnlyDSN turns a path or file: URI into a URI that opens the
// database read-only with query_only enabled.
func SQLiteReadOnlyDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	params := []string{}
	if !strings.Contains(dsn, "mode=") {
		params = append(params, "mode=ro")
	}
	if !strings.Contains(dsn, "query_only") {
		params = append(params, "_pragma=query_only(1)")
	}
	if len(params) == 0 {
		return dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + strings.Join(params, "&")
}

func (d *DB) Dialect() string {
	return d.dialect
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Execute runs request.SQL in its own transaction, which is always rolled
// back. Rows past request.RowLimit are not scanned.
func (d *DB) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if strings.TrimSpace(request.SQL) == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: d.opts.ReadOnlyTx})
	if err != nil {
		return query.Result{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, request.SQL)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}
	columnTypes := make([]string, len(columns))
	if types, err := rows.ColumnTypes(); err == nil {
		for i, columnType := range types {
			columnTypes[i] = strings.ToUpper(columnType.DatabaseTypeName())
		}
	}

	resultRows := make([][]any, 0)
	truncated := false
	for rows.Next() {
		if request.RowLimit > 0 && len(resultRows) >= request.RowLimit {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return query.Result{
		Columns:     columns,
		ColumnTypes: columnTypes,
		Rows:        resultRows,
		Truncated:   truncated,
		Duration:    time.Since(start),
	}, nil
}

func (d *DB) Validate(ctx context.Context, sqlText string) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	stmt, err := d.db.PrepareContext(ctx, sqlText)
	if err != nil {
		return err
	}
	return stmt.Close()
}

func (d *DB) ListTables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, listTablesSQL(d.dialect))
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

func listTablesSQL(dialect string) string {
	switch dialect {
	case DialectSQLite:
		return `SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`
	case DialectPostgreSQL:
		return `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() ORDER BY table_name`
	default:
		return `SELECT table_name FROM information_schema.tables WHERE table_schema NOT IN ('information_schema', 'pg_catalog') ORDER BY table_name`
	}
}

func (d *DB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.opts.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.opts.QueryTimeout)
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
