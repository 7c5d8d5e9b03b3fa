// Package catalog holds the read-only description of the target database
// that prompts and tools are built from.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/duckmesh/askdb/internal/query"
)

var ErrTableNotFound = errors.New("catalog: table not found")

const maxSampleValueLength = 100

// Source is the part of a query engine the catalog is loaded from.
type Source interface {
	Execute(ctx context.Context, request query.Request) (query.Result, error)
	ListTables(ctx context.Context) ([]string, error)
	Dialect() string
}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Table struct {
	Name       string   `json:"name"`
	Columns    []Column `json:"columns"`
	SampleRows [][]any  `json:"sample_rows"`
}

// ColumnRef names one column of one table.
type ColumnRef struct {
	Table  string
	Column string
	Type   string
}

func (r ColumnRef) String() string {
	return r.Table + "." + r.Column
}

// Catalog is built once and never modified, so it is safe for concurrent
// readers.
type Catalog struct {
	dialect string
	tables  []Table
	byName  map[string]int
}

type Options struct {
	SampleRows int
	// Include restricts the catalog to these tables.
	Include     []string
	Concurrency int
}

func New(dialect string, tables []Table) *Catalog {
	sorted := append([]Table(nil), tables...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	byName := make(map[string]int, len(sorted))
	for i, table := range sorted {
		byName[strings.ToLower(table.Name)] = i
	}
	return &Catalog{dialect: dialect, tables: sorted, byName: byName}
}

// Load lists the source's tables and samples each one concurrently.
func Load(ctx context.Context, source Source, opts Options) (*Catalog, error) {
	if source == nil {
		return nil, fmt.Errorf("catalog source is required")
	}
	names, err := source.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	if len(opts.Include) > 0 {
		names, err = filterTables(names, opts.Include)
		if err != nil {
			return nil, err
		}
	}
	sampleRows := opts.SampleRows
	if sampleRows < 0 {
		sampleRows = 0
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	tables := make([]Table, len(names))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)
	for i, name := range names {
		group.Go(func() error {
			table, err := sampleTable(groupCtx, source, name, sampleRows)
			if err != nil {
				return err
			}
			tables[i] = table
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return New(source.Dialect(), tables), nil
}

func filterTables(available, include []string) ([]string, error) {
	known := make(map[string]string, len(available))
	for _, name := range available {
		known[strings.ToLower(name)] = name
	}
	selected := make([]string, 0, len(include))
	for _, name := range include {
		actual, ok := known[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
		}
		selected = append(selected, actual)
	}
	return selected, nil
}

func sampleTable(ctx context.Context, source Source, name string, sampleRows int) (Table, error) {
	result, err := source.Execute(ctx, query.Request{
		SQL:      fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(name), sampleRows),
		RowLimit: sampleRows,
	})
	if err != nil {
		return Table{}, fmt.Errorf("sample table %q: %w", name, err)
	}
	columns := make([]Column, len(result.Columns))
	for i, column := range result.Columns {
		columns[i] = Column{Name: column}
		if i < len(result.ColumnTypes) {
			columns[i].Type = result.ColumnTypes[i]
		}
	}
	return Table{Name: name, Columns: columns, SampleRows: result.Rows}, nil
}

func (c *Catalog) Dialect() string {
	return c.dialect
}

func (c *Catalog) TableNames() []string {
	names := make([]string, len(c.tables))
	for i, table := range c.tables {
		names[i] = table.Name
	}
	return names
}

func (c *Catalog) Tables() []Table {
	return append([]Table(nil), c.tables...)
}

// Table looks name up case-insensitively.
func (c *Catalog) Table(name string) (Table, bool) {
	i, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Table{}, false
	}
	return c.tables[i], true
}

func (c *Catalog) Columns() []ColumnRef {
	var refs []ColumnRef
	for _, table := range c.tables {
		for _, column := range table.Columns {
			refs = append(refs, ColumnRef{Table: table.Name, Column: column.Name, Type: column.Type})
		}
	}
	return refs
}

// Describe renders CREATE TABLE statements followed by sample rows for the
// named tables, or for every table when names is empty.
func (c *Catalog) Describe(names ...string) (string, error) {
	selected := c.tables
	if len(names) > 0 {
		selected = make([]Table, 0, len(names))
		for _, name := range names {
			table, ok := c.Table(name)
			if !ok {
				return "", fmt.Errorf("%w: %s", ErrTableNotFound, strings.TrimSpace(name))
			}
			selected = append(selected, table)
		}
	}
	blocks := make([]string, 0, len(selected))
	for _, table := range selected {
		blocks = append(blocks, describeTable(table))
	}
	return strings.Join(blocks, "\n\n"), nil
}

func describeTable(table Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", quoteIdent(table.Name))
	for i, column := range table.Columns {
		b.WriteString("\t" + quoteIdent(column.Name))
		if column.Type != "" {
			b.WriteString(" " + column.Type)
		}
		if i < len(table.Columns)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString(")")
	if len(table.SampleRows) == 0 {
		return b.String()
	}

	fmt.Fprintf(&b, "\n\n/*\n%d rows from %s table:\n", len(table.SampleRows), table.Name)
	names := make([]string, len(table.Columns))
	for i, column := range table.Columns {
		names[i] = column.Name
	}
	b.WriteString(strings.Join(names, "\t"))
	for _, row := range table.SampleRows {
		values := make([]string, len(row))
		for i, value := range row {
			values[i] = truncate(query.FormatValue(value))
		}
		b.WriteString("\n" + strings.Join(values, "\t"))
	}
	b.WriteString("\n*/")
	return b.String()
}

func truncate(value string) string {
	runes := []rune(value)
	if len(runes) <= maxSampleValueLength {
		return value
	}
	return string(runes[:maxSampleValueLength]) + "..."
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
