// Package nl2sql turns natural-language questions into single read-only SQL
// statements.
package nl2sql

import (
	"context"
	"errors"
	"fmt"

	"github.com/duckmesh/askdb/internal/catalog"
)

var ErrEmptyQuestion = errors.New("question is empty")

type Request struct {
	Question string
	Catalog  *catalog.Catalog
	// Limit bounds the rows the statement may return. Zero disables the bound.
	Limit int
	// Tables restricts the schema shown to the model. Empty means all tables.
	Tables   []string
	Feedback []Attempt
}

// Attempt is a previously generated statement and the error it produced.
type Attempt struct {
	SQL   string
	Error string
}

type GeneratedQuery struct {
	SQL   string `json:"sql"`
	Limit int    `json:"limit"`
	Model string `json:"model"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (GeneratedQuery, error)
}

// Validator checks that a statement parses against the live schema without
// running it.
type Validator interface {
	Validate(ctx context.Context, sql string) error
}

// GenerationError reports a model answer that could not be turned into a
// safe, valid statement.
type GenerationError struct {
	Question string
	SQL      string
	Err      error
}

func (e *GenerationError) Error() string {
	if e.SQL == "" {
		return fmt.Sprintf("query generation failed: %v", e.Err)
	}
	return fmt.Sprintf("query generation failed for %q: %v", e.SQL, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
