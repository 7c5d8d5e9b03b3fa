// Package query runs single read-only statements against the configured
// database and renders their outcomes for the answer pipeline.
package query

import (
	"context"
	"time"
)

type Request struct {
	SQL string
	// RowLimit stops scanning after this many rows. Zero scans everything.
	RowLimit int
}

type Result struct {
	Columns     []string
	ColumnTypes []string
	Rows        [][]any
	Truncated   bool
	Duration    time.Duration
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
	// Validate prepares sql without executing it.
	Validate(ctx context.Context, sql string) error
	ListTables(ctx context.Context) ([]string, error)
	Dialect() string
	Ping(ctx context.Context) error
}
