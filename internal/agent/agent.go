// Package agent runs the iterative reason, act and observe loop that answers
// questions by calling database tools until the model commits to an answer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/prompts"

	"github.com/duckmesh/askdb/internal/catalog"
	"github.com/duckmesh/askdb/internal/llm"
	"github.com/duckmesh/askdb/internal/nl2sql"
	"github.com/duckmesh/askdb/internal/observability"
	"github.com/duckmesh/askdb/internal/sqlguard"
)

var ErrIterationLimitExceeded = errors.New("agent iteration limit exceeded")

const (
	defaultMaxIterations     = 10
	defaultObservationTokens = 1500
)

// Tool is one action the model can take. Invoke returns the observation
// text; errors the model can fix by changing the input are reported as
// *ToolError, *nl2sql.GenerationError or *sqlguard.UnsafeQueryError.
type Tool interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, input string) (string, error)
}

// feedbackTool is a tool that records its failures and uses them on the next
// call, so an identical input can produce a different result.
type feedbackTool interface {
	FeedbackCount() int
}

// ToolError is a failure caused by the tool input.
type ToolError struct {
	Message string
}

func (e *ToolError) Error() string {
	return e.Message
}

type State string

const (
	StateStart         State = "start"
	StateReasoning     State = "reasoning"
	StateToolSelected  State = "tool_selected"
	StateToolExecuting State = "tool_executing"
	StateObserving     State = "observing"
	StateFinalAnswer   State = "final_answer"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

type Config struct {
	Dialect       string
	MaxIterations int
	// ObservationTokens bounds each observation sent back to the model.
	ObservationTokens int
	// RowLimit is the row bound the model is told to apply. Zero omits it.
	RowLimit int
	Logger   *slog.Logger
}

// ToolCall is one iteration of a run.
type ToolCall struct {
	Iteration   int    `json:"iteration"`
	Thought     string `json:"thought,omitempty"`
	Tool        string `json:"tool,omitempty"`
	Input       string `json:"input,omitempty"`
	Observation string `json:"observation,omitempty"`
	Failed      bool   `json:"failed,omitempty"`
}

type Result struct {
	RunID      string     `json:"run_id"`
	Answer     string     `json:"answer"`
	State      State      `json:"state"`
	Iterations int        `json:"iterations"`
	Transcript []ToolCall `json:"transcript"`
}

type Loop struct {
	model  llm.Model
	tools  []Tool
	byName map[string]Tool
	cfg    Config
	prompt prompts.PromptTemplate
	logger *slog.Logger
}

func New(model llm.Model, tools []Tool, cfg Config) (*Loop, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if len(tools) == 0 {
		return nil, fmt.Errorf("at least one tool is required")
	}
	byName := make(map[string]Tool, len(tools))
	for _, tool := range tools {
		name := tool.Name()
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("tool name is required")
		}
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("duplicate tool %q", name)
		}
		byName[name] = tool
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.ObservationTokens <= 0 {
		cfg.ObservationTokens = defaultObservationTokens
	}
	if cfg.RowLimit < 0 {
		cfg.RowLimit = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.Discard()
	}
	return &Loop{
		model:  model,
		tools:  append([]Tool(nil), tools...),
		byName: byName,
		cfg:    cfg,
		prompt: prompts.NewPromptTemplate(systemPromptTemplate, []string{"dialect", "top_k", "proper_nouns", "tools"}),
		logger: logger,
	}, nil
}

// Run answers question. The returned Result is populated even when an error
// is returned so callers can inspect the transcript.
func (l *Loop) Run(ctx context.Context, question string) (Result, error) {
	result := Result{RunID: uuid.NewString(), State: StateStart}
	start := time.Now()
	logger := l.logger.With(slog.String("run_id", result.RunID))
	defer func() {
		observability.ObserveStage("agent", time.Since(start))
		observability.ObserveAgentIterations(result.Iterations)
		logger.InfoContext(ctx, "agent run finished",
			slog.String("state", string(result.State)),
			slog.Int("iterations", result.Iterations),
			slog.Duration("duration", time.Since(start)),
		)
	}()

	question = strings.TrimSpace(question)
	if question == "" {
		result.State = StateFailed
		return result, fmt.Errorf("question is empty")
	}
	system, err := l.systemPrompt()
	if err != nil {
		result.State = StateFailed
		return result, err
	}
	messages := []llm.Message{llm.System(system), llm.User("Question: " + question)}
	failed := make(map[string]string)

	for iteration := 1; iteration <= l.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			result.State = StateFailed
			return result, err
		}
		result.Iterations = iteration
		result.State = StateReasoning

		reply, err := l.model.Complete(ctx, messages)
		if err != nil {
			result.State = StateFailed
			return result, fmt.Errorf("agent reasoning: %w", err)
		}
		messages = append(messages, llm.Assistant(reply))

		call := ToolCall{Iteration: iteration}
		decision, err := parseDecision(reply)
		if err != nil {
			call.Failed = true
			call.Observation = fmt.Sprintf("Your reply could not be read: %v. Reply with exactly one JSON object in the format described.", err)
			messages = l.observe(messages, &result, call)
			continue
		}
		call.Thought = decision.Thought

		if decision.Final {
			result.State = StateFinalAnswer
			result.Answer = decision.FinalAnswer
			result.Transcript = append(result.Transcript, call)
			result.State = StateDone
			return result, nil
		}

		result.State = StateToolSelected
		call.Tool = decision.Action
		call.Input = decision.Input
		tool, ok := l.byName[decision.Action]
		if !ok {
			call.Failed = true
			call.Observation = fmt.Sprintf("%q is not a valid tool, try one of: %s.", decision.Action, strings.Join(l.toolNames(), ", "))
			messages = l.observe(messages, &result, call)
			continue
		}

		key := callKey(tool, decision.Input)
		if previous, seen := failed[key]; seen {
			call.Failed = true
			call.Observation = fmt.Sprintf("This exact %s input already failed with:\n%s\nChange the input before using %s again.", decision.Action, previous, decision.Action)
			messages = l.observe(messages, &result, call)
			continue
		}

		result.State = StateToolExecuting
		logger.DebugContext(ctx, "invoking tool", slog.String("tool", decision.Action), slog.String("input", decision.Input))
		observation, err := tool.Invoke(ctx, decision.Input)
		result.State = StateObserving
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				result.State = StateFailed
				return result, ctxErr
			}
			if !recoverable(err) {
				result.State = StateFailed
				result.Transcript = append(result.Transcript, call)
				return result, fmt.Errorf("tool %s: %w", decision.Action, err)
			}
			observation = err.Error()
			failed[key] = observation
			call.Failed = true
		}
		call.Observation = observation
		messages = l.observe(messages, &result, call)
	}

	result.State = StateFailed
	return result, fmt.Errorf("%w after %d iterations", ErrIterationLimitExceeded, l.cfg.MaxIterations)
}

func (l *Loop) observe(messages []llm.Message, result *Result, call ToolCall) []llm.Message {
	if trimmed, cut := llm.Tokens().Truncate(call.Observation, l.cfg.ObservationTokens); cut {
		call.Observation = trimmed + "\n(observation truncated)"
	}
	result.Transcript = append(result.Transcript, call)
	return append(messages, llm.User("Observation: "+call.Observation))
}

func (l *Loop) toolNames() []string {
	names := make([]string, len(l.tools))
	for i, tool := range l.tools {
		names[i] = tool.Name()
	}
	return names
}

func (l *Loop) systemPrompt() (string, error) {
	var tools strings.Builder
	for _, tool := range l.tools {
		fmt.Fprintf(&tools, "%s: %s\n", tool.Name(), tool.Description())
	}
	_, properNouns := l.byName[searchProperNounsName]
	prompt, err := l.prompt.Format(map[string]any{
		"dialect":      l.cfg.Dialect,
		"top_k":        l.cfg.RowLimit,
		"proper_nouns": properNouns,
		"tools":        strings.TrimSpace(tools.String()),
	})
	if err != nil {
		return "", fmt.Errorf("render agent prompt: %w", err)
	}
	return prompt, nil
}

func recoverable(err error) bool {
	var toolErr *ToolError
	var generationErr *nl2sql.GenerationError
	var unsafeErr *sqlguard.UnsafeQueryError
	return errors.As(err, &toolErr) ||
		errors.As(err, &generationErr) ||
		errors.As(err, &unsafeErr) ||
		errors.Is(err, catalog.ErrTableNotFound)
}

// callKey identifies a tool call for repeat protection. Tools that learn from
// failures are keyed on their feedback too, so a retry after new feedback runs.
func callKey(tool Tool, input string) string {
	key := tool.Name() + "\x00" + strings.Join(strings.Fields(strings.ToLower(input)), " ")
	if learner, ok := tool.(feedbackTool); ok {
		key += fmt.Sprintf("\x00%d", learner.FeedbackCount())
	}
	return key
}
