package agent

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"

	"github.com/duckmesh/askdb/internal/catalog"
	"github.com/duckmesh/askdb/internal/llm"
	"github.com/duckmesh/askdb/internal/nl2sql"
	"github.com/duckmesh/askdb/internal/query"
)

// scriptedModel replays replies in order and repeats the last one.
type scriptedModel struct {
	mu       sync.Mutex
	replies  []string
	calls    int
	messages [][]llm.Message
}

func (m *scriptedModel) Name() string { return "scripted" }

func (m *scriptedModel) Complete(_ context.Context, messages []llm.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, append([]llm.Message(nil), messages...))
	reply := m.replies[min(m.calls, len(m.replies)-1)]
	m.calls++
	return reply, nil
}

func (m *scriptedModel) Stream(ctx context.Context, messages []llm.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		text, err := m.Complete(ctx, messages)
		yield(text, err)
	}
}

type fakeEngine struct {
	mu       sync.Mutex
	failures map[string]string
	result   query.Result
	executed []string
}

func (f *fakeEngine) Execute(_ context.Context, request query.Request) (query.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, request.SQL)
	for fragment, message := range f.failures {
		if strings.Contains(request.SQL, fragment) {
			return query.Result{}, errors.New(message)
		}
	}
	return f.result, nil
}

func (f *fakeEngine) Validate(context.Context, string) error      { return nil }
func (f *fakeEngine) ListTables(context.Context) ([]string, error) { return nil, nil }
func (f *fakeEngine) Dialect() string                              { return "SQLite" }
func (f *fakeEngine) Ping(context.Context) error                   { return nil }

func testCatalog() *catalog.Catalog {
	return catalog.New("SQLite", []catalog.Table{
		{Name: "customers", Columns: []catalog.Column{{Name: "customer_id", Type: "TEXT"}, {Name: "company_name", Type: "TEXT"}}},
		{Name: "orders", Columns: []catalog.Column{{Name: "order_id", Type: "INTEGER"}, {Name: "customer_id", Type: "TEXT"}, {Name: "freight", Type: "REAL"}}},
	})
}

func newTestLoop(t *testing.T, model llm.Model, engine *fakeEngine, maxIterations int) (*Loop, *ExecuteQueryTool) {
	t.Helper()
	toolkit := Toolkit{Catalog: testCatalog(), Executor: &query.Executor{Engine: engine}, RowLimit: 20}
	tools, execute, err := toolkit.Tools()
	if err != nil {
		t.Fatalf("Tools() error = %v", err)
	}
	loop, err := New(model, tools, Config{Dialect: "SQLite", MaxIterations: maxIterations, RowLimit: 20})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return loop, execute
}

func TestRunStopsAtIterationLimitWhenModelRepeatsTool(t *testing.T) {
	model := &scriptedModel{replies: []string{`{"thought": "look again", "action": "list_tables", "action_input": ""}`}}
	loop, _ := newTestLoop(t, model, &fakeEngine{}, 3)

	result, err := loop.Run(context.Background(), "How many orders?")
	if !errors.Is(err, ErrIterationLimitExceeded) {
		t.Fatalf("Run() error = %v, want ErrIterationLimitExceeded", err)
	}
	if result.State != StateFailed || result.Iterations != 3 {
		t.Fatalf("result = %+v", result)
	}
	if model.calls != 3 {
		t.Fatalf("model calls = %d, want 3", model.calls)
	}
	if result.RunID == "" || len(result.Transcript) != 3 {
		t.Fatalf("result = %+v", result)
	}
}

func TestRunRecoversFromFailedQuery(t *testing.T) {
	model := &scriptedModel{replies: []string{
		`{"thought": "see tables", "action": "list_tables", "action_input": ""}`,
		"```json\n" + `{"thought": "try revenue", "action": "execute_query", "action_input": "SELECT \"revenue\" FROM \"orders\""}` + "\n```",
		`{"thought": "check schema", "action": "describe_tables", "action_input": "orders"}`,
		`{"thought": "use freight", "action": "execute_query", "action_input": "SELECT SUM(\"freight\") AS total FROM \"orders\""}`,
		`{"thought": "I now know the final answer", "final_answer": "Total freight is $64,942.69."}`,
	}}
	engine := &fakeEngine{
		failures: map[string]string{`"revenue"`: "no such column: revenue"},
		result:   query.Result{Columns: []string{"total"}, Rows: [][]any{{64942.69}}},
	}
	loop, execute := newTestLoop(t, model, engine, 10)

	result, err := loop.Run(context.Background(), "What is the total freight?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.State != StateDone || result.Answer != "Total freight is $64,942.69." {
		t.Fatalf("result = %+v", result)
	}
	if result.Iterations != 5 {
		t.Fatalf("Iterations = %d, want 5", result.Iterations)
	}
	failedCall := result.Transcript[1]
	if !failedCall.Failed || failedCall.Observation != "Error: no such column: revenue" {
		t.Fatalf("transcript[1] = %+v", failedCall)
	}
	last, ok := execute.LastSuccess()
	if !ok || !strings.Contains(last.SQL, `SUM("freight")`) {
		t.Fatalf("LastSuccess() = %+v, %v", last, ok)
	}

	// The failure is fed back to the model verbatim.
	thirdTurn := model.messages[2]
	if got := thirdTurn[len(thirdTurn)-1].Content; got != "Observation: Error: no such column: revenue" {
		t.Fatalf("observation = %q", got)
	}
}

func TestRunDoesNotRepeatFailedInput(t *testing.T) {
	bad := `{"thought": "retry", "action": "execute_query", "action_input": "SELECT \"revenue\" FROM \"orders\""}`
	model := &scriptedModel{replies: []string{
		bad,
		bad,
		`{"thought": "give up", "final_answer": "I could not find revenue data."}`,
	}}
	engine := &fakeEngine{failures: map[string]string{`"revenue"`: "no such column: revenue"}}
	loop, _ := newTestLoop(t, model, engine, 10)

	result, err := loop.Run(context.Background(), "What is the revenue?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(engine.executed) != 1 {
		t.Fatalf("engine executed %d statements, want 1", len(engine.executed))
	}
	if !strings.Contains(result.Transcript[1].Observation, "already failed") {
		t.Fatalf("transcript[1] = %+v", result.Transcript[1])
	}
}

func TestRunTurnsProtocolErrorsIntoObservations(t *testing.T) {
	model := &scriptedModel{replies: []string{
		"I think I should look at the tables.",
		`{"thought": "x", "action": "drop_everything", "action_input": ""}`,
		`{"thought": "x", "action": "execute_query", "action_input": "DELETE FROM \"orders\""}`,
		`{"final_answer": "Done."}`,
	}}
	engine := &fakeEngine{}
	loop, _ := newTestLoop(t, model, engine, 10)

	result, err := loop.Run(context.Background(), "Remove all orders")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Transcript) != 4 {
		t.Fatalf("transcript = %+v", result.Transcript)
	}
	for i := 0; i < 3; i++ {
		if !result.Transcript[i].Failed {
			t.Fatalf("transcript[%d] should be failed: %+v", i, result.Transcript[i])
		}
	}
	if !strings.Contains(result.Transcript[1].Observation, "not a valid tool") {
		t.Fatalf("transcript[1] = %+v", result.Transcript[1])
	}
	if !strings.Contains(result.Transcript[2].Observation, "unsafe query") {
		t.Fatalf("transcript[2] = %+v", result.Transcript[2])
	}
	if len(engine.executed) != 0 {
		t.Fatalf("engine executed %v", engine.executed)
	}
}

type failingTool struct{}

func (failingTool) Name() string        { return "broken" }
func (failingTool) Description() string { return "always fails" }
func (failingTool) Invoke(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func TestRunAbortsOnUnrecoverableToolError(t *testing.T) {
	model := &scriptedModel{replies: []string{`{"action": "broken", "action_input": "x"}`}}
	loop, err := New(model, []Tool{failingTool{}}, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	result, err := loop.Run(context.Background(), "anything")
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("Run() error = %v", err)
	}
	if result.State != StateFailed {
		t.Fatalf("State = %q", result.State)
	}
}

func TestNewRejectsDuplicateTools(t *testing.T) {
	if _, err := New(&scriptedModel{}, []Tool{failingTool{}, failingTool{}}, Config{}); err == nil {
		t.Fatal("New() expected duplicate tool error")
	}
	if _, err := New(&scriptedModel{}, nil, Config{}); err == nil {
		t.Fatal("New() expected error without tools")
	}
}

func TestSystemPromptListsToolsAndLimit(t *testing.T) {
	model := &scriptedModel{replies: []string{`{"final_answer": "ok"}`}}
	loop, _ := newTestLoop(t, model, &fakeEngine{}, 2)
	if _, err := loop.Run(context.Background(), "hi"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	system := model.messages[0][0].Content
	for _, want := range []string{"SQLite database", "at most 20 results", "list_tables:", "describe_tables:", "execute_query:"} {
		if !strings.Contains(system, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, system)
		}
	}
	if strings.Contains(system, "search_proper_nouns") {
		t.Fatalf("system prompt mentions a tool that is not configured:\n%s", system)
	}
}

// failOnceTranslator rejects its first statement and then succeeds.
type failOnceTranslator struct {
	mu       sync.Mutex
	requests []nl2sql.Request
}

func (f *failOnceTranslator) Translate(_ context.Context, req nl2sql.Request) (nl2sql.GeneratedQuery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.requests) == 1 {
		return nl2sql.GeneratedQuery{}, &nl2sql.GenerationError{Question: req.Question, SQL: `SELECT "revenue" FROM "orders"`, Err: errors.New("no such column: revenue")}
	}
	return nl2sql.GeneratedQuery{SQL: `SELECT SUM("freight") FROM "orders"`}, nil
}

func TestRunRetriesGenerateQueryWithFeedback(t *testing.T) {
	model := &scriptedModel{replies: []string{
		`{"thought": "draft it", "action": "generate_query", "action_input": "total freight"}`,
		`{"thought": "try again", "action": "generate_query", "action_input": "total freight"}`,
		`{"thought": "I now know the final answer", "final_answer": "done"}`,
	}}
	translator := &failOnceTranslator{}
	toolkit := Toolkit{Catalog: testCatalog(), Translator: translator, Executor: &query.Executor{Engine: &fakeEngine{}}, RowLimit: 20}
	tools, _, err := toolkit.Tools()
	if err != nil {
		t.Fatalf("Tools() error = %v", err)
	}
	loop, err := New(model, tools, Config{Dialect: "SQLite", MaxIterations: 5, RowLimit: 20})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := loop.Run(context.Background(), "What is the total freight?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(translator.requests) != 2 {
		t.Fatalf("Translate() calls = %d, want 2", len(translator.requests))
	}
	feedback := translator.requests[1].Feedback
	if len(feedback) != 1 || feedback[0].SQL != `SELECT "revenue" FROM "orders"` {
		t.Fatalf("second request feedback = %+v", feedback)
	}
	retry := result.Transcript[1]
	if retry.Failed || retry.Observation != `SELECT SUM("freight") FROM "orders"` {
		t.Fatalf("transcript[1] = %+v", retry)
	}
}

func TestRunBlocksGenerateQueryRetryWithoutFeedback(t *testing.T) {
	model := &scriptedModel{replies: []string{
		`{"thought": "draft it", "action": "generate_query", "action_input": "total freight"}`,
		`{"thought": "try again", "action": "generate_query", "action_input": "total freight"}`,
		`{"thought": "I now know the final answer", "final_answer": "done"}`,
	}}
	translator := &emptyFailureTranslator{}
	toolkit := Toolkit{Catalog: testCatalog(), Translator: translator, Executor: &query.Executor{Engine: &fakeEngine{}}, RowLimit: 20}
	tools, _, err := toolkit.Tools()
	if err != nil {
		t.Fatalf("Tools() error = %v", err)
	}
	loop, err := New(model, tools, Config{Dialect: "SQLite", MaxIterations: 5, RowLimit: 20})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := loop.Run(context.Background(), "What is the total freight?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if translator.calls != 1 {
		t.Fatalf("Translate() calls = %d, want 1", translator.calls)
	}
	if !strings.Contains(result.Transcript[1].Observation, "already failed") {
		t.Fatalf("transcript[1] = %+v", result.Transcript[1])
	}
}

type emptyFailureTranslator struct{ calls int }

func (f *emptyFailureTranslator) Translate(_ context.Context, req nl2sql.Request) (nl2sql.GeneratedQuery, error) {
	f.calls++
	return nl2sql.GeneratedQuery{}, &nl2sql.GenerationError{Question: req.Question, Err: errors.New("model returned no statement")}
}
