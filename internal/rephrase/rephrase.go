// Package rephrase turns a question and the data that answers it into a
// streamed, end-user facing answer.
package rephrase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tmc/langchaingo/prompts"

	"github.com/duckmesh/askdb/internal/llm"
	"github.com/duckmesh/askdb/internal/observability"
	"github.com/duckmesh/askdb/internal/query"
)

var errConsumed = errors.New("answer stream already consumed")

const answerPromptTemplate = `Based on the user's original question, the generated SQL query and the SQL query output, write the answer with as many insights as the data supports.
Make sure the answer is formatted properly, with currency symbols where amounts are money, and is a mix of bullet points and sentences.
Never mention SQL, queries, tables, columns or the database. Talk about the business data directly.
{{if .draft}}An analyst already answered the question from the data. Keep every figure and conclusion of the draft answer; use the SQL result only for supporting detail that agrees with it.

Draft answer: {{.draft}}
{{else if .failed}}The data could not be retrieved. Apologise briefly, say the question cannot be answered right now and suggest asking it differently. Do not invent any figures.
{{else if .empty}}No matching data was found. Apologise briefly and say so. Do not invent any figures.
{{end}}
Question: {{.question}}

SQL Query: {{.query}}

SQL Result: {{.result}}

Answer: `

// Error reports a generation failure while the answer was being streamed.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rephrase answer: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Rephraser struct {
	model  llm.Model
	prompt prompts.PromptTemplate
	logger *slog.Logger
}

func New(model llm.Model, logger *slog.Logger) (*Rephraser, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &Rephraser{
		model:  model,
		prompt: prompts.NewPromptTemplate(answerPromptTemplate, []string{"draft", "failed", "empty", "question", "query", "result"}),
		logger: logger,
	}, nil
}

// Rephrase streams the answer chunk by chunk. The sequence can be ranged over
// once; breaking out of the loop stops generation.
func (r *Rephraser) Rephrase(ctx context.Context, question, sql string, outcome query.Outcome) iter.Seq2[string, error] {
	return r.RephraseDraft(ctx, question, "", sql, outcome)
}

// RephraseDraft is Rephrase for an answer that was already drafted, e.g. by
// the agent loop. The draft wins over the query result when they disagree.
func (r *Rephraser) RephraseDraft(ctx context.Context, question, draft, sql string, outcome query.Outcome) iter.Seq2[string, error] {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if used.Swap(true) {
			yield("", &Error{Err: errConsumed})
			return
		}
		start := time.Now()
		defer func() { observability.ObserveStage("rephrase", time.Since(start)) }()

		prompt, err := r.prompt.Format(map[string]any{
			"draft":    draft,
			"failed":   outcome.Failed(),
			"empty":    !outcome.Failed() && outcome.Empty(),
			"question": question,
			"query":    sql,
			"result":   outcome.Text(),
		})
		if err != nil {
			yield("", &Error{Err: fmt.Errorf("render answer prompt: %w", err)})
			return
		}

		chunks := 0
		for chunk, err := range r.model.Stream(ctx, []llm.Message{llm.User(prompt)}) {
			if err != nil {
				r.logger.WarnContext(ctx, "answer generation failed",
					slog.Int("chunks", chunks),
					slog.Any("error", err),
				)
				yield("", &Error{Err: err})
				return
			}
			if chunk == "" {
				continue
			}
			chunks++
			if !yield(chunk, nil) {
				return
			}
		}
	}
}
