// Package llm adapts chat-completion providers to the small contract the
// answer pipeline needs: whole completions, streamed completions and
// embeddings.
package llm

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Model is safe for concurrent use. Stream yields text chunks in the order the
// provider produces them; the consumer stops generation by breaking out of
// the loop.
type Model interface {
	Name() string
	Complete(ctx context.Context, messages []Message) (string, error)
	Stream(ctx context.Context, messages []Message) iter.Seq2[string, error]
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Config struct {
	Provider          string
	BaseURL           string
	APIKey            string
	Model             string
	EmbeddingModel    string
	Temperature       float64
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerSecond float64
}

// New builds the configured provider, rate limited when RequestsPerSecond is
// positive.
func New(cfg Config) (Model, error) {
	var (
		model Model
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai", "":
		model, err = NewOpenAI(cfg)
	case "anthropic":
		model, err = NewAnthropic(cfg)
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RequestsPerSecond > 0 {
		return NewLimited(model, cfg.RequestsPerSecond), nil
	}
	return model, nil
}

// Collect drains seq into one string.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for chunk, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}
