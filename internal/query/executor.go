package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/duckmesh/askdb/internal/observability"
	"github.com/duckmesh/askdb/internal/sqlguard"
)

// Outcome is either a result set or a database failure message. It is never
// modified after Execute returns it.
type Outcome struct {
	SQL       string
	Columns   []string
	Rows      [][]any
	Truncated bool
	Failure   string
}

func (o Outcome) Failed() bool {
	return o.Failure != ""
}

func (o Outcome) Empty() bool {
	return !o.Failed() && len(o.Rows) == 0
}

// Text renders the outcome as a pipe-separated table, "no rows", or
// "Error: <message>".
func (o Outcome) Text() string {
	if o.Failed() {
		return "Error: " + o.Failure
	}
	if len(o.Rows) == 0 {
		return "no rows"
	}
	var b strings.Builder
	b.WriteString(strings.Join(o.Columns, " | "))
	for _, row := range o.Rows {
		b.WriteByte('\n')
		for i, value := range row {
			if i > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(FormatValue(value))
		}
	}
	if o.Truncated {
		fmt.Fprintf(&b, "\n(showing first %d rows)", len(o.Rows))
	}
	return b.String()
}

func FormatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case string:
		return typed
	case []byte:
		return string(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case time.Time:
		if typed.Hour() == 0 && typed.Minute() == 0 && typed.Second() == 0 && typed.Nanosecond() == 0 {
			return typed.Format(time.DateOnly)
		}
		return typed.Format(time.RFC3339)
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}

// Executor is the read-only gate in front of an Engine.
type Executor struct {
	Engine   Engine
	RowLimit int
	Logger   *slog.Logger
}

// Execute rejects unsafe statements with *sqlguard.UnsafeQueryError and never
// sends them to the database. Database errors are reported as a failed
// Outcome; only cancellation and misconfiguration return an error.
func (e *Executor) Execute(ctx context.Context, sql string) (Outcome, error) {
	if e.Engine == nil {
		return Outcome{}, fmt.Errorf("query engine is required")
	}
	logger := e.logger()
	statement := sqlguard.Clean(sql)
	if err := sqlguard.CheckReadOnly(statement); err != nil {
		observability.IncrementUnsafeQuery()
		logger.WarnContext(ctx, "rejected unsafe query", slog.String("sql", sql), slog.Any("error", err))
		return Outcome{}, err
	}

	start := time.Now()
	result, err := e.Engine.Execute(ctx, Request{SQL: statement, RowLimit: e.RowLimit})
	observability.ObserveStage("execute", time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, ctxErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return Outcome{}, ctxErr
		}
		observability.IncrementQueryFailure()
		logger.InfoContext(ctx, "query failed", slog.String("sql", statement), slog.Any("error", err))
		return Outcome{SQL: statement, Failure: FailureMessage(err)}, nil
	}
	logger.DebugContext(ctx, "query executed",
		slog.String("sql", statement),
		slog.Int("rows", len(result.Rows)),
		slog.Bool("truncated", result.Truncated),
		slog.Duration("duration", result.Duration),
	)
	return Outcome{
		SQL:       statement,
		Columns:   result.Columns,
		Rows:      result.Rows,
		Truncated: result.Truncated,
	}, nil
}

// FailureMessage strips the wrapping added by engines so the database's own
// message reaches the caller.
func FailureMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger == nil {
		return observability.Discard()
	}
	return e.Logger
}
