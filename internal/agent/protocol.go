package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const systemPromptTemplate = `You are an agent designed to interact with a {{.dialect}} database.
Given an input question, create a syntactically correct {{.dialect}} query to run, then look at the results of the query and return the answer.
{{if .top_k}}Unless the user specifies a specific number of examples they wish to obtain, always limit your query to at most {{.top_k}} results.
{{end}}You can order the results by a relevant column to return the most interesting examples in the database.
Never query for all the columns from a specific table, only ask for the relevant columns given the question.
Only use the information returned by the tools below to construct your final answer.
If you get an error while executing a query, rewrite the query and try again.
DO NOT make any DML statements (INSERT, UPDATE, DELETE, DROP etc.) to the database.
{{if .proper_nouns}}If you need to filter on a proper noun like a name, you must ALWAYS first look up the filter value using the "search_proper_nouns" tool.
{{end}}To start you should ALWAYS look at the tables in the database to see what you can query. Do NOT skip this step.
Then you should query the schema of the most relevant tables.

Tools:
{{.tools}}

Reply with exactly one JSON object and nothing else. To use a tool:
{"thought": "what you are doing next", "action": "tool name", "action_input": "tool input"}
When you know the answer:
{"thought": "I now know the final answer", "final_answer": "the answer for the user"}
Tool results are sent back to you in messages starting with "Observation:".`

type decision struct {
	Thought     string
	Action      string
	Input       string
	FinalAnswer string
	Final       bool
}

type wireDecision struct {
	Thought     string          `json:"thought"`
	Action      string          `json:"action"`
	ActionInput json.RawMessage `json:"action_input"`
	FinalAnswer *string         `json:"final_answer"`
}

// parseDecision reads the first JSON object in reply.
func parseDecision(reply string) (decision, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return decision{}, errors.New("no JSON object found")
	}
	var wire wireDecision
	decoder := json.NewDecoder(strings.NewReader(reply[start : end+1]))
	if err := decoder.Decode(&wire); err != nil {
		return decision{}, fmt.Errorf("invalid JSON: %w", err)
	}

	out := decision{Thought: strings.TrimSpace(wire.Thought)}
	if wire.FinalAnswer != nil {
		out.Final = true
		out.FinalAnswer = strings.TrimSpace(*wire.FinalAnswer)
		if out.FinalAnswer == "" {
			return decision{}, errors.New("final_answer is empty")
		}
		return out, nil
	}

	out.Action = strings.TrimSpace(wire.Action)
	if out.Action == "" {
		return decision{}, errors.New(`either "action" or "final_answer" is required`)
	}
	input, err := actionInput(wire.ActionInput)
	if err != nil {
		return decision{}, err
	}
	out.Input = input
	return out, nil
}

func actionInput(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return "", fmt.Errorf("invalid action_input: %w", err)
		}
		return strings.TrimSpace(text), nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return "", fmt.Errorf("invalid action_input: %w", err)
	}
	return compact.String(), nil
}
