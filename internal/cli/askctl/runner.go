package askctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/duckmesh/askdb/internal/stream"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Mode       string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	stdin := defaults.Stdin
	if stdin == nil {
		stdin = strings.NewReader("")
	}

	fs := flag.NewFlagSet("askctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:4000"), "askdb API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key sent as X-API-Key, for gateways in front of askdb")
	mode := fs.String("mode", defaults.Mode, "pipeline mode for ask/chat (chain or agent; empty uses the server default)")
	rowLimit := fs.Int("row-limit", 0, "row limit for the query command (0 uses the server default)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout per request (e.g. 60s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}
	c := &caller{
		client:  client,
		baseURL: strings.TrimRight(*baseURL, "/"),
		apiKey:  strings.TrimSpace(*apiKey),
		stdout:  stdout,
		stderr:  stderr,
	}

	command := strings.TrimSpace(fs.Arg(0))
	text := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
	switch command {
	case "health":
		return c.printJSON(ctx, http.MethodGet, "/v1/health", nil)
	case "ready":
		return c.printJSON(ctx, http.MethodGet, "/v1/ready", nil)
	case "schema":
		return c.printJSON(ctx, http.MethodGet, "/v1/schema", nil)
	case "translate":
		if text == "" {
			_, _ = fmt.Fprintln(stderr, "translate requires a question")
			return 2
		}
		return c.printJSON(ctx, http.MethodPost, "/v1/query/translate", map[string]any{"question": text})
	case "query":
		if text == "" {
			_, _ = fmt.Fprintln(stderr, "query requires a SQL statement")
			return 2
		}
		payload := map[string]any{"sql": text}
		if *rowLimit > 0 {
			payload["row_limit"] = *rowLimit
		}
		return c.printJSON(ctx, http.MethodPost, "/v1/query", payload)
	case "ask":
		if text == "" {
			_, _ = fmt.Fprintln(stderr, "ask requires a question")
			return 2
		}
		if err := c.ask(ctx, text, *mode); err != nil {
			_, _ = fmt.Fprintf(stderr, "ask failed: %v\n", err)
			return 1
		}
		return 0
	case "chat":
		return c.chat(ctx, stdin, *mode)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
}

type caller struct {
	client  *http.Client
	baseURL string
	apiKey  string
	stdout  io.Writer
	stderr  io.Writer
}

func (c *caller) printJSON(ctx context.Context, method, path string, payload any) int {
	resp, err := c.do(ctx, method, path, payload, "application/json")
	if err != nil {
		_, _ = fmt.Fprintf(c.stderr, "request failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		_, _ = fmt.Fprintf(c.stderr, "request failed: %v\n", err)
		return 1
	}
	if resp.StatusCode >= 400 {
		_, _ = fmt.Fprintf(c.stderr, "http %d: %s\n", resp.StatusCode, strings.TrimSpace(string(responseBody)))
		return 1
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(c.stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(c.stdout, string(responseBody))
	}
	return 0
}

// ask prints answer chunks as they arrive.
func (c *caller) ask(ctx context.Context, question, mode string) error {
	payload := map[string]any{"question": question}
	if strings.TrimSpace(mode) != "" {
		payload["mode"] = mode
	}
	resp, err := c.do(ctx, http.MethodPost, "/v1/conversation", payload, stream.ContentType)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	wrote := false
	for chunk, err := range stream.Chunks(resp.Body) {
		if err != nil {
			if wrote {
				_, _ = fmt.Fprintln(c.stdout)
			}
			return err
		}
		wrote = true
		_, _ = io.WriteString(c.stdout, chunk)
	}
	_, _ = fmt.Fprintln(c.stdout)
	return nil
}

func (c *caller) chat(ctx context.Context, stdin io.Reader, mode string) int {
	scanner := bufio.NewScanner(stdin)
	failures := 0
	for {
		_, _ = io.WriteString(c.stdout, "Ask a question: ")
		if !scanner.Scan() {
			_, _ = fmt.Fprintln(c.stdout)
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if strings.EqualFold(question, "exit") || strings.EqualFold(question, "quit") {
			break
		}
		if err := c.ask(ctx, question, mode); err != nil {
			failures++
			_, _ = fmt.Fprintf(c.stderr, "ask failed: %v\n", err)
			if ctx.Err() != nil {
				return 1
			}
		}
	}
	if err := scanner.Err(); err != nil {
		_, _ = fmt.Fprintf(c.stderr, "read input: %v\n", err)
		return 1
	}
	if failures > 0 {
		return 1
	}
	return 0
}

func (c *caller) do(ctx context.Context, method, path string, payload any, accept string) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return resp, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: askctl [flags] <command> [text]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health             GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready              GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  schema             GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  translate <text>   POST /v1/query/translate")
	_, _ = fmt.Fprintln(w, "  query <sql>        POST /v1/query")
	_, _ = fmt.Fprintln(w, "  ask <text>         POST /v1/conversation, streaming the answer")
	_, _ = fmt.Fprintln(w, "  chat               read questions from stdin until EOF or \"exit\"")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
