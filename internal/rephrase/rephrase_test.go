package rephrase

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/duckmesh/askdb/internal/llm"
	"github.com/duckmesh/askdb/internal/query"
)

type streamingModel struct {
	chunks  []string
	failAt  int
	prompts []string
	pulled  int
}

func (m *streamingModel) Name() string { return "streaming" }

func (m *streamingModel) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	return llm.Collect(m.Stream(ctx, messages))
}

func (m *streamingModel) Stream(_ context.Context, messages []llm.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		m.prompts = append(m.prompts, messages[len(messages)-1].Content)
		for i, chunk := range m.chunks {
			if m.failAt > 0 && i == m.failAt {
				yield("", errors.New("connection reset"))
				return
			}
			m.pulled++
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

func threeCustomers() query.Outcome {
	return query.Outcome{
		SQL:     `SELECT "company_name", SUM("quantity") FROM "orders" GROUP BY 1 ORDER BY 2 DESC LIMIT 3`,
		Columns: []string{"company_name", "total"},
		Rows:    [][]any{{"Ernst Handel", int64(4958)}, {"QUICK-Stop", int64(4543)}, {"Save-a-lot Markets", int64(4438)}},
	}
}

func TestRephraseStreamsChunksInOrder(t *testing.T) {
	model := &streamingModel{chunks: []string{"Total ", "", "sales ", "grew 12%."}}
	rephraser, err := New(model, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var got []string
	for chunk, err := range rephraser.Rephrase(context.Background(), "How did sales do?", "SELECT 1", threeCustomers()) {
		if err != nil {
			t.Fatalf("Rephrase() error = %v", err)
		}
		got = append(got, chunk)
	}
	if strings.Join(got, "|") != "Total |sales |grew 12%." {
		t.Fatalf("chunks = %q", got)
	}

	prompt := model.prompts[0]
	for _, want := range []string{"Question: How did sales do?", "SQL Query: SELECT 1", "Ernst Handel", "currency symbols", "Never mention SQL"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "Apologise") {
		t.Fatalf("prompt should not ask for an apology:\n%s", prompt)
	}
}

func TestRephraseDraftKeepsDraftAnswer(t *testing.T) {
	model := &streamingModel{chunks: []string{"You have 830 orders."}}
	rephraser, _ := New(model, nil)

	sanity := query.Outcome{SQL: "SELECT 1 AS ok", Columns: []string{"ok"}, Rows: [][]any{{int64(1)}}}
	if _, err := llm.Collect(rephraser.RephraseDraft(context.Background(), "How many orders?", "You have 830 orders.", sanity.SQL, sanity)); err != nil {
		t.Fatalf("RephraseDraft() error = %v", err)
	}
	prompt := model.prompts[0]
	for _, want := range []string{"Draft answer: You have 830 orders.", "Keep every figure and conclusion"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "Apologise") {
		t.Fatalf("prompt should not ask for an apology:\n%s", prompt)
	}
}

func TestRephraseAsksForApologyOnFailureAndEmptyResult(t *testing.T) {
	model := &streamingModel{chunks: []string{"Sorry."}}
	rephraser, _ := New(model, nil)

	failed := query.Outcome{SQL: `SELECT "revenue" FROM "orders"`, Failure: "no such column: revenue"}
	if _, err := llm.Collect(rephraser.Rephrase(context.Background(), "Revenue?", failed.SQL, failed)); err != nil {
		t.Fatalf("Rephrase() error = %v", err)
	}
	if !strings.Contains(model.prompts[0], "could not be retrieved") || !strings.Contains(model.prompts[0], "Error: no such column: revenue") {
		t.Fatalf("prompt = %s", model.prompts[0])
	}

	empty := query.Outcome{SQL: "SELECT 1 WHERE 0", Columns: []string{"x"}}
	if _, err := llm.Collect(rephraser.Rephrase(context.Background(), "Anything?", empty.SQL, empty)); err != nil {
		t.Fatalf("Rephrase() error = %v", err)
	}
	if !strings.Contains(model.prompts[1], "No matching data was found") {
		t.Fatalf("prompt = %s", model.prompts[1])
	}
}

func TestRephraseWrapsMidStreamFailure(t *testing.T) {
	model := &streamingModel{chunks: []string{"Total ", "sales"}, failAt: 1}
	rephraser, _ := New(model, nil)

	text, err := llm.Collect(rephraser.Rephrase(context.Background(), "q", "SELECT 1", threeCustomers()))
	var rephraseErr *Error
	if !errors.As(err, &rephraseErr) {
		t.Fatalf("Rephrase() error = %v, want *Error", err)
	}
	if text != "Total " {
		t.Fatalf("text before failure = %q", text)
	}
}

func TestRephraseStopsWhenConsumerBreaks(t *testing.T) {
	model := &streamingModel{chunks: []string{"a", "b", "c", "d"}}
	rephraser, _ := New(model, nil)

	seq := rephraser.Rephrase(context.Background(), "q", "SELECT 1", threeCustomers())
	for range seq {
		break
	}
	if model.pulled != 1 {
		t.Fatalf("pulled = %d, want 1", model.pulled)
	}

	_, err := llm.Collect(seq)
	var rephraseErr *Error
	if !errors.As(err, &rephraseErr) {
		t.Fatalf("second range error = %v, want *Error", err)
	}
}
