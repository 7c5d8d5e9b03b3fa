package nl2sql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/prompts"

	"github.com/duckmesh/askdb/internal/llm"
	"github.com/duckmesh/askdb/internal/observability"
	"github.com/duckmesh/askdb/internal/sqlguard"
)

const queryPromptTemplate = `You are a {{.dialect}} expert. Given an input question, first create a syntactically correct {{.dialect}} query to run, then look at the results of the query and return the answer to the input question.
{{if .limit}}Unless the user specifies in the question a specific number of examples to obtain, query for at most {{.limit}} results using the LIMIT clause as per {{.dialect}}. You can order the results to return the most informative data in the database.
{{end}}Never query for all columns from a table. You must query only the columns that are needed to answer the question. Wrap each column name in double quotes (") to denote them as delimited identifiers.
Pay attention to use only the column names you can see in the tables below. Be careful to not query for columns that do not exist. Also, pay attention to which column is in which table.
Never write INSERT, UPDATE, DELETE, DROP, ALTER, CREATE or any other statement that changes the database, even when the question asks for it. Answer such questions with a SELECT that only reads data.

Use the following format:

Question: Question here
SQLQuery: SQL Query to run
SQLResult: Result of the SQLQuery
Answer: Final answer here

Only use the following tables:
{{.table_info}}
{{if .feedback}}
These queries were already tried and failed:
{{range .feedback}}SQLQuery: {{.SQL}}
Error: {{.Error}}
{{end}}Write a different query that avoids these errors.
{{end}}
Question: {{.question}}
SQLQuery: `

// ModelTranslator asks a chat model for a statement and only returns it once
// it is read-only, bounded and accepted by the Validator.
type ModelTranslator struct {
	model     llm.Model
	validator Validator
	prompt    prompts.PromptTemplate
	logger    *slog.Logger
}

func NewModelTranslator(model llm.Model, validator Validator, logger *slog.Logger) (*ModelTranslator, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &ModelTranslator{
		model:     model,
		validator: validator,
		prompt:    prompts.NewPromptTemplate(queryPromptTemplate, []string{"dialect", "limit", "table_info", "feedback", "question"}),
		logger:    logger,
	}, nil
}

func (t *ModelTranslator) Translate(ctx context.Context, req Request) (GeneratedQuery, error) {
	start := time.Now()
	defer func() { observability.ObserveStage("translate", time.Since(start)) }()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return GeneratedQuery{}, &GenerationError{Err: ErrEmptyQuestion}
	}
	if req.Catalog == nil {
		return GeneratedQuery{}, fmt.Errorf("schema catalog is required")
	}
	limit := req.Limit
	if limit < 0 {
		limit = 0
	}
	tableInfo, err := req.Catalog.Describe(req.Tables...)
	if err != nil {
		return GeneratedQuery{}, &GenerationError{Question: question, Err: err}
	}
	prompt, err := t.prompt.Format(map[string]any{
		"dialect":    req.Catalog.Dialect(),
		"limit":      limit,
		"table_info": tableInfo,
		"feedback":   req.Feedback,
		"question":   question,
	})
	if err != nil {
		return GeneratedQuery{}, fmt.Errorf("render query prompt: %w", err)
	}

	raw, err := t.model.Complete(ctx, []llm.Message{llm.User(prompt)})
	if err != nil {
		return GeneratedQuery{}, fmt.Errorf("generate query: %w", err)
	}

	sql := sqlguard.Clean(raw)
	if sql == "" {
		return GeneratedQuery{}, &GenerationError{Question: question, Err: fmt.Errorf("model returned empty SQL")}
	}
	if err := sqlguard.CheckReadOnly(sql); err != nil {
		observability.IncrementUnsafeQuery()
		t.logger.WarnContext(ctx, "model proposed unsafe query", slog.String("sql", sql), slog.Any("error", err))
		return GeneratedQuery{}, &GenerationError{Question: question, SQL: sql, Err: err}
	}
	sql = sqlguard.EnforceLimit(sql, limit)
	if t.validator != nil {
		if err := t.validator.Validate(ctx, sql); err != nil {
			if ctx.Err() != nil {
				return GeneratedQuery{}, ctx.Err()
			}
			return GeneratedQuery{}, &GenerationError{Question: question, SQL: sql, Err: err}
		}
	}

	t.logger.DebugContext(ctx, "generated query", slog.String("sql", sql), slog.Int("limit", limit))
	return GeneratedQuery{SQL: sql, Limit: limit, Model: t.model.Name()}, nil
}
