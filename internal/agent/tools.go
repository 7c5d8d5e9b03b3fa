package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/duckmesh/askdb/internal/catalog"
	"github.com/duckmesh/askdb/internal/nl2sql"
	"github.com/duckmesh/askdb/internal/query"
	"github.com/duckmesh/askdb/internal/resolver"
)

const (
	listTablesName        = "list_tables"
	describeTablesName    = "describe_tables"
	generateQueryName     = "generate_query"
	executeQueryName      = "execute_query"
	searchProperNounsName = "search_proper_nouns"
)

// Toolkit holds what the database tools are built from. Tools carry per-run
// state, so a fresh set is built for every run.
type Toolkit struct {
	Catalog    *catalog.Catalog
	Translator nl2sql.Translator
	Executor   *query.Executor
	Resolver   *resolver.Resolver
	RowLimit   int
}

// Tools returns the tools in prompt order and the query tool, which reports
// the last successful result of the run.
func (k Toolkit) Tools() ([]Tool, *ExecuteQueryTool, error) {
	if k.Catalog == nil || k.Executor == nil {
		return nil, nil, fmt.Errorf("catalog and executor are required")
	}
	execute := &ExecuteQueryTool{executor: k.Executor}
	tools := []Tool{
		&ListTablesTool{catalog: k.Catalog},
		&DescribeTablesTool{catalog: k.Catalog},
	}
	if k.Translator != nil {
		tools = append(tools, &GenerateQueryTool{translator: k.Translator, catalog: k.Catalog, limit: k.RowLimit})
	}
	tools = append(tools, execute)
	if k.Resolver != nil {
		tools = append(tools, &SearchProperNounsTool{resolver: k.Resolver})
	}
	return tools, execute, nil
}

type ListTablesTool struct {
	catalog *catalog.Catalog
}

func (t *ListTablesTool) Name() string { return listTablesName }

func (t *ListTablesTool) Description() string {
	return "Input is an empty string, output is a comma-separated list of tables in the database."
}

func (t *ListTablesTool) Invoke(context.Context, string) (string, error) {
	names := t.catalog.TableNames()
	if len(names) == 0 {
		return "The database has no tables.", nil
	}
	return strings.Join(names, ", "), nil
}

type DescribeTablesTool struct {
	catalog *catalog.Catalog
}

func (t *DescribeTablesTool) Name() string { return describeTablesName }

func (t *DescribeTablesTool) Description() string {
	return "Input is a comma-separated list of tables, output is the schema and sample rows for those tables. " +
		"Be sure that the tables actually exist by calling list_tables first! Example Input: table1, table2, table3"
}

func (t *DescribeTablesTool) Invoke(_ context.Context, input string) (string, error) {
	var names []string
	for _, name := range strings.Split(input, ",") {
		name = strings.Trim(strings.TrimSpace(name), "\"'`")
		if name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", &ToolError{Message: "Error: no table names given. Call list_tables to see the available tables."}
	}
	description, err := t.catalog.Describe(names...)
	if err != nil {
		if errors.Is(err, catalog.ErrTableNotFound) {
			return "", &ToolError{Message: fmt.Sprintf("Error: %v. Call list_tables to see the available tables.", err)}
		}
		return "", err
	}
	return description, nil
}

// GenerateQueryTool remembers the statements it failed to produce during the
// run and shows them to the translator on later calls.
type GenerateQueryTool struct {
	translator nl2sql.Translator
	catalog    *catalog.Catalog
	limit      int

	mu       sync.Mutex
	attempts []nl2sql.Attempt
}

func (t *GenerateQueryTool) Name() string { return generateQueryName }

func (t *GenerateQueryTool) Description() string {
	return "Input is a question about the data in plain English, output is a read-only SQL query that answers it " +
		"and has been checked against the database. Run the query with execute_query afterwards."
}

// FeedbackCount reports how many failed statements later calls will see.
func (t *GenerateQueryTool) FeedbackCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.attempts)
}

func (t *GenerateQueryTool) Invoke(ctx context.Context, input string) (string, error) {
	t.mu.Lock()
	feedback := append([]nl2sql.Attempt(nil), t.attempts...)
	t.mu.Unlock()

	generated, err := t.translator.Translate(ctx, nl2sql.Request{
		Question: input,
		Catalog:  t.catalog,
		Limit:    t.limit,
		Feedback: feedback,
	})
	if err != nil {
		var generationErr *nl2sql.GenerationError
		if errors.As(err, &generationErr) && generationErr.SQL != "" {
			t.mu.Lock()
			t.attempts = append(t.attempts, nl2sql.Attempt{SQL: generationErr.SQL, Error: generationErr.Err.Error()})
			t.mu.Unlock()
		}
		return "", err
	}
	return generated.SQL, nil
}

// ExecuteQueryTool runs statements through the read-only executor.
type ExecuteQueryTool struct {
	executor *query.Executor

	mu   sync.Mutex
	last *query.Outcome
}

func (t *ExecuteQueryTool) Name() string { return executeQueryName }

func (t *ExecuteQueryTool) Description() string {
	return "Input to this tool is a detailed and correct SQL query, output is a result from the database. " +
		"If the query is not correct, an error message will be returned. If an error is returned, rewrite the query and try again. " +
		"If you encounter an unknown column error, use describe_tables to check the correct table fields."
}

func (t *ExecuteQueryTool) Invoke(ctx context.Context, input string) (string, error) {
	outcome, err := t.executor.Execute(ctx, input)
	if err != nil {
		return "", err
	}
	if outcome.Failed() {
		return "", &ToolError{Message: outcome.Text()}
	}
	t.mu.Lock()
	t.last = &outcome
	t.mu.Unlock()
	return outcome.Text(), nil
}

// LastSuccess returns the most recent statement that ran without error.
func (t *ExecuteQueryTool) LastSuccess() (query.Outcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return query.Outcome{}, false
	}
	return *t.last, true
}

type SearchProperNounsTool struct {
	resolver *resolver.Resolver
}

func (t *SearchProperNounsTool) Name() string { return searchProperNounsName }

func (t *SearchProperNounsTool) Description() string {
	return "Use to look up values to filter on. Input is an approximate spelling of the proper noun, output is valid proper nouns. " +
		"Use the noun most similar to the search."
}

func (t *SearchProperNounsTool) Invoke(ctx context.Context, input string) (string, error) {
	term := strings.Trim(strings.TrimSpace(input), "\"'")
	if term == "" {
		return "", &ToolError{Message: "Error: the search term is empty."}
	}
	candidates, err := t.resolver.Resolve(ctx, term)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "No matching values found.", nil
	}
	return strings.Join(candidates, "\n"), nil
}
