package pipeline

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/duckmesh/askdb/internal/agent"
	"github.com/duckmesh/askdb/internal/llm"
	"github.com/duckmesh/askdb/internal/observability"
)

type AgentConfig struct {
	Model   llm.Model
	Toolkit agent.Toolkit
	Loop    agent.Config
	// Rephraser, when set, rewrites the model's final answer together with the
	// last successful query of the run.
	Rephraser DraftRephraser
	Logger    *slog.Logger
}

// Agent builds a fresh tool set and loop for every question.
type Agent struct {
	cfg    AgentConfig
	logger *slog.Logger
}

func NewAgent(cfg AgentConfig) (*Agent, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if _, _, err := cfg.Toolkit.Tools(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.Discard()
	}
	if cfg.Loop.Logger == nil {
		cfg.Loop.Logger = logger
	}
	return &Agent{cfg: cfg, logger: logger}, nil
}

func (a *Agent) Answer(ctx context.Context, question string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		run := newRunRecorder(ModeAgent)
		defer run.finish()

		question, err := ValidateQuestion(question)
		if err != nil {
			run.fail()
			yield("", err)
			return
		}
		tools, execute, err := a.cfg.Toolkit.Tools()
		if err != nil {
			run.fail()
			yield("", err)
			return
		}
		loop, err := agent.New(a.cfg.Model, tools, a.cfg.Loop)
		if err != nil {
			run.fail()
			yield("", err)
			return
		}
		result, err := loop.Run(ctx, question)
		if err != nil {
			run.fail()
			a.logger.WarnContext(ctx, "agent run failed",
				slog.String("run_id", result.RunID),
				slog.Int("iterations", result.Iterations),
				slog.Any("error", err),
			)
			yield("", err)
			return
		}

		if a.cfg.Rephraser != nil {
			if outcome, ok := execute.LastSuccess(); ok {
				run.stream(yield, a.cfg.Rephraser.RephraseDraft(ctx, question, result.Answer, outcome.SQL, outcome))
				return
			}
		}
		run.stream(yield, WordChunks(result.Answer))
	}
}

// WordChunks splits text after every space so that concatenating the chunks
// reproduces text exactly.
func WordChunks(text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, chunk := range strings.SplitAfter(text, " ") {
			if chunk == "" {
				continue
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}
