package pipeline

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/duckmesh/askdb/internal/catalog"
	"github.com/duckmesh/askdb/internal/nl2sql"
	"github.com/duckmesh/askdb/internal/observability"
)

const (
	ModeChain = "chain"
	ModeAgent = "agent"
)

type ChainConfig struct {
	Catalog    *catalog.Catalog
	Translator nl2sql.Translator
	Executor   QueryExecutor
	Rephraser  Rephraser
	RowLimit   int
	Logger     *slog.Logger
}

type draft struct {
	question string
	query    nl2sql.GeneratedQuery
}

// Chain generates one statement, runs it once and rephrases the outcome.
// Generation and safety failures end the run; a database failure is handed
// to the rephraser so the caller still gets an answer.
type Chain struct {
	prepare   Stage[string, Evidence]
	rephraser Rephraser
	logger    *slog.Logger
}

func NewChain(cfg ChainConfig) (*Chain, error) {
	if cfg.Catalog == nil || cfg.Translator == nil || cfg.Executor == nil || cfg.Rephraser == nil {
		return nil, fmt.Errorf("catalog, translator, executor and rephraser are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.Discard()
	}

	translate := Stage[string, draft](func(ctx context.Context, question string) (draft, error) {
		generated, err := cfg.Translator.Translate(ctx, nl2sql.Request{
			Question: question,
			Catalog:  cfg.Catalog,
			Limit:    cfg.RowLimit,
		})
		if err != nil {
			return draft{}, err
		}
		return draft{question: question, query: generated}, nil
	})
	execute := Stage[draft, Evidence](func(ctx context.Context, in draft) (Evidence, error) {
		outcome, err := cfg.Executor.Execute(ctx, in.query.SQL)
		if err != nil {
			return Evidence{}, err
		}
		return Evidence{Question: in.question, SQL: in.query.SQL, Outcome: outcome}, nil
	})

	return &Chain{prepare: Then(translate, execute), rephraser: cfg.Rephraser, logger: logger}, nil
}

func (c *Chain) Answer(ctx context.Context, question string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		run := newRunRecorder(ModeChain)
		defer run.finish()

		question, err := ValidateQuestion(question)
		if err != nil {
			run.fail()
			yield("", err)
			return
		}
		evidence, err := c.prepare(ctx, question)
		if err != nil {
			run.fail()
			c.logger.WarnContext(ctx, "chain failed before answering", slog.Any("error", err))
			yield("", err)
			return
		}
		if evidence.Outcome.Failed() {
			run.outcome = "no_data"
		}
		c.logger.DebugContext(ctx, "chain prepared answer",
			slog.String("sql", evidence.SQL),
			slog.Bool("failed", evidence.Outcome.Failed()),
			slog.Int("rows", len(evidence.Outcome.Rows)),
		)
		run.stream(yield, c.rephraser.Rephrase(ctx, evidence.Question, evidence.SQL, evidence.Outcome))
	}
}

// runRecorder reports one question to the metrics when the sequence ends.
type runRecorder struct {
	mode    string
	outcome string
}

func newRunRecorder(mode string) *runRecorder {
	return &runRecorder{mode: mode, outcome: "answered"}
}

func (r *runRecorder) fail() {
	r.outcome = "failed"
}

// stream forwards seq to yield and records how it ended.
func (r *runRecorder) stream(yield func(string, error) bool, seq iter.Seq2[string, error]) {
	for chunk, err := range seq {
		if err != nil {
			r.fail()
			yield("", err)
			return
		}
		if !yield(chunk, nil) {
			r.outcome = "cancelled"
			return
		}
	}
}

func (r *runRecorder) finish() {
	observability.ObserveQuestion(r.mode, r.outcome)
}
