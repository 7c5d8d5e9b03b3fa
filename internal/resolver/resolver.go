// Package resolver maps misspelled or partial proper nouns in a question to
// the values actually stored in the database.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/duckmesh/askdb/internal/catalog"
	"github.com/duckmesh/askdb/internal/observability"
	"github.com/duckmesh/askdb/internal/query"
)

const (
	defaultMaxCandidates = 5
	defaultMaxValues     = 10000
)

// Source runs the read-only statements the vocabulary is collected with.
type Source interface {
	Execute(ctx context.Context, request query.Request) (query.Result, error)
}

// Strategy ranks vocabulary entries by similarity to term.
type Strategy interface {
	Name() string
	Rank(ctx context.Context, term string, vocabulary []string, max int) ([]string, error)
}

type Options struct {
	// Columns lists the columns whose values form the vocabulary. When empty,
	// text columns whose name contains "name" are used.
	Columns       []catalog.ColumnRef
	MaxCandidates int
	// MaxValues caps the distinct values read from each column.
	MaxValues int
	Logger    *slog.Logger
}

type Resolver struct {
	source   Source
	strategy Strategy
	columns  []catalog.ColumnRef
	opts     Options
	logger   *slog.Logger

	mu         sync.Mutex
	vocabulary []string
	loaded     bool
}

func New(source Source, cat *catalog.Catalog, strategy Strategy, opts Options) (*Resolver, error) {
	if source == nil {
		return nil, fmt.Errorf("resolver source is required")
	}
	if strategy == nil {
		strategy = NewFuzzyStrategy()
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = defaultMaxCandidates
	}
	if opts.MaxValues <= 0 {
		opts.MaxValues = defaultMaxValues
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.Discard()
	}

	columns := opts.Columns
	if cat != nil {
		if len(columns) == 0 {
			columns = discoverColumns(cat)
		} else {
			resolved, err := checkColumns(cat, columns)
			if err != nil {
				return nil, err
			}
			columns = resolved
		}
	}
	return &Resolver{source: source, strategy: strategy, columns: columns, opts: opts, logger: logger}, nil
}

// ParseColumns reads a comma separated list of table.column references.
func ParseColumns(value string) ([]catalog.ColumnRef, error) {
	var refs []catalog.ColumnRef
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		table, column, ok := strings.Cut(part, ".")
		table, column = strings.TrimSpace(table), strings.TrimSpace(column)
		if !ok || table == "" || column == "" {
			return nil, fmt.Errorf("invalid column reference %q, want table.column", part)
		}
		refs = append(refs, catalog.ColumnRef{Table: table, Column: column})
	}
	return refs, nil
}

func discoverColumns(cat *catalog.Catalog) []catalog.ColumnRef {
	var refs []catalog.ColumnRef
	for _, ref := range cat.Columns() {
		if strings.Contains(strings.ToLower(ref.Column), "name") && isTextType(ref.Type) {
			refs = append(refs, ref)
		}
	}
	return refs
}

func checkColumns(cat *catalog.Catalog, refs []catalog.ColumnRef) ([]catalog.ColumnRef, error) {
	resolved := make([]catalog.ColumnRef, 0, len(refs))
	for _, ref := range refs {
		table, ok := cat.Table(ref.Table)
		if !ok {
			return nil, fmt.Errorf("%w: %s", catalog.ErrTableNotFound, ref.Table)
		}
		found := false
		for _, column := range table.Columns {
			if strings.EqualFold(column.Name, ref.Column) {
				resolved = append(resolved, catalog.ColumnRef{Table: table.Name, Column: column.Name, Type: column.Type})
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("column %s not found", ref)
		}
	}
	return resolved, nil
}

func isTextType(columnType string) bool {
	columnType = strings.ToUpper(columnType)
	if columnType == "" {
		return true
	}
	for _, marker := range []string{"CHAR", "TEXT", "STRING", "CLOB"} {
		if strings.Contains(columnType, marker) {
			return true
		}
	}
	return false
}

func (r *Resolver) Columns() []catalog.ColumnRef {
	return append([]catalog.ColumnRef(nil), r.columns...)
}

// Vocabulary loads the distinct values of the configured columns on first
// use. A failed load is retried on the next call.
func (r *Resolver) Vocabulary(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return r.vocabulary, nil
	}

	seen := make(map[string]struct{})
	var values []string
	for _, ref := range r.columns {
		sql := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL",
			quoteIdent(ref.Column), quoteIdent(ref.Table), quoteIdent(ref.Column))
		result, err := r.source.Execute(ctx, query.Request{SQL: sql, RowLimit: r.opts.MaxValues})
		if err != nil {
			return nil, fmt.Errorf("load values of %s: %w", ref, err)
		}
		for _, row := range result.Rows {
			if len(row) == 0 || row[0] == nil {
				continue
			}
			value := strings.TrimSpace(query.FormatValue(row[0]))
			if value == "" {
				continue
			}
			if _, ok := seen[value]; ok {
				continue
			}
			seen[value] = struct{}{}
			values = append(values, value)
		}
	}
	sort.Strings(values)

	r.vocabulary = values
	r.loaded = true
	r.logger.InfoContext(ctx, "loaded resolver vocabulary",
		slog.Int("columns", len(r.columns)),
		slog.Int("values", len(values)),
		slog.String("strategy", r.strategy.Name()),
	)
	return values, nil
}

// Resolve returns up to MaxCandidates stored values that term most likely
// refers to, best match first.
func (r *Resolver) Resolve(ctx context.Context, term string) ([]string, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, fmt.Errorf("search term is empty")
	}
	vocabulary, err := r.Vocabulary(ctx)
	if err != nil {
		return nil, err
	}
	if len(vocabulary) == 0 {
		return nil, nil
	}
	return r.strategy.Rank(ctx, term, vocabulary, r.opts.MaxCandidates)
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
