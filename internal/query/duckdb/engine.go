// Package duckdb serves queries from a DuckDB database file or from parquet
// exports held in the object store.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strings"

	duckdb "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckmesh/askdb/internal/query/sqldb"
	"github.com/duckmesh/askdb/internal/storage"
)

var viewNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)

// View exposes the parquet object(s) at Source as a table named Name. A
// Source ending in "/" is a prefix covering every parquet file below it.
type View struct {
	Name   string
	Source string
}

type Config struct {
	// Path opens an existing DuckDB file read-only. Leave empty to serve Views
	// from an in-memory database.
	Path  string
	Views []View
	Store storage.ObjectStore
	Pool  sqldb.Config
}

type Engine struct {
	*sqldb.DB
	workDir string
}

// ParseViews reads "name=source" pairs separated by commas.
func ParseViews(raw string) ([]View, error) {
	var views []View
	seen := map[string]struct{}{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, source, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		source = strings.TrimSpace(source)
		if !ok || source == "" {
			return nil, fmt.Errorf("invalid parquet view %q, want name=object-key", part)
		}
		if !viewNamePattern.MatchString(name) {
			return nil, fmt.Errorf("invalid parquet view name %q", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate parquet view %q", name)
		}
		seen[name] = struct{}{}
		views = append(views, View{Name: name, Source: source})
	}
	return views, nil
}

func Open(ctx context.Context, cfg Config) (*Engine, error) {
	if len(cfg.Views) == 0 {
		return openFile(ctx, cfg)
	}
	return openViews(ctx, cfg)
}

func openFile(ctx context.Context, cfg Config) (*Engine, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("duckdb path or parquet views are required")
	}
	connector, err := duckdb.NewConnector(cfg.Path+"?access_mode=read_only", nil)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %q: %w", cfg.Path, err)
	}
	db := sql.OpenDB(connector)
	sqldb.Configure(db, cfg.Pool)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return &Engine{DB: sqldb.New(db, sqldb.DialectDuckDB, sqldb.Options{QueryTimeout: cfg.Pool.QueryTimeout})}, nil
}

// openViews downloads every view's parquet files once and registers them in
// an in-memory database shared by all pooled connections.
func openViews(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("object store is required for parquet views")
	}
	workDir, err := os.MkdirTemp("", "askdb-parquet-")
	if err != nil {
		return nil, fmt.Errorf("create parquet temp dir: %w", err)
	}
	engine := &Engine{workDir: workDir}

	groupedPaths := map[string][]string{}
	for _, view := range cfg.Views {
		keys, err := storage.ResolveKeys(ctx, cfg.Store, view.Source, ".parquet")
		if err != nil {
			engine.cleanup()
			return nil, fmt.Errorf("resolve view %q: %w", view.Name, err)
		}
		for index, key := range keys {
			localPath, err := storage.Download(ctx, cfg.Store, key, workDir, fmt.Sprintf("%s_%d.parquet", view.Name, index))
			if err != nil {
				engine.cleanup()
				return nil, fmt.Errorf("fetch %q for view %q: %w", key, view.Name, err)
			}
			groupedPaths[view.Name] = append(groupedPaths[view.Name], localPath)
		}
	}

	connector, err := duckdb.NewConnector("", nil)
	if err != nil {
		engine.cleanup()
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	db := sql.OpenDB(connector)
	sqldb.Configure(db, cfg.Pool)

	for _, view := range cfg.Views {
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(view.Name), quoteStringArray(groupedPaths[view.Name]))
		if _, err := db.ExecContext(ctx, viewSQL); err != nil {
			_ = db.Close()
			engine.cleanup()
			return nil, fmt.Errorf("create view %q: %w", view.Name, err)
		}
	}
	engine.DB = sqldb.New(db, sqldb.DialectDuckDB, sqldb.Options{QueryTimeout: cfg.Pool.QueryTimeout})
	return engine, nil
}

func (e *Engine) Close() error {
	var err error
	if e.DB != nil {
		err = e.DB.Close()
	}
	e.cleanup()
	return err
}

func (e *Engine) cleanup() {
	if e.workDir != "" {
		_ = os.RemoveAll(e.workDir)
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}
