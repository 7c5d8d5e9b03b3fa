// Package pipeline composes translation, execution and rephrasing into the
// two answer modes: a single-pass chain and the tool-using agent.
package pipeline

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/duckmesh/askdb/internal/query"
)

var ErrEmptyQuestion = errors.New("question is required")

// Stage is one typed step of a pipeline.
type Stage[In, Out any] func(ctx context.Context, in In) (Out, error)

// Then runs second on the output of first. A failing first stage stops the
// pipeline.
func Then[A, B, C any](first Stage[A, B], second Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, in A) (C, error) {
		mid, err := first(ctx, in)
		if err != nil {
			var zero C
			return zero, err
		}
		return second(ctx, mid)
	}
}

// Runner answers one question as a lazy sequence of text chunks. Nothing
// runs until the sequence is ranged over.
type Runner interface {
	Answer(ctx context.Context, question string) iter.Seq2[string, error]
}

type Rephraser interface {
	Rephrase(ctx context.Context, question, sql string, outcome query.Outcome) iter.Seq2[string, error]
}

// DraftRephraser rewrites an already drafted answer using the query behind it.
type DraftRephraser interface {
	RephraseDraft(ctx context.Context, question, draft, sql string, outcome query.Outcome) iter.Seq2[string, error]
}

type QueryExecutor interface {
	Execute(ctx context.Context, sql string) (query.Outcome, error)
}

func ValidateQuestion(question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	return question, nil
}

// Evidence is what the rephraser needs to answer a question.
type Evidence struct {
	Question string
	SQL      string
	Outcome  query.Outcome
}
