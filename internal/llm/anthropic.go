package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

type Anthropic struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

var _ Model = (*Anthropic)(nil)

func NewAnthropic(cfg Config) (*Anthropic, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &Anthropic{
		client:      anthropic.NewClient(opts...),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (a *Anthropic) Name() string {
	return a.model
}

func (a *Anthropic) Complete(ctx context.Context, messages []Message) (string, error) {
	params, err := a.params(messages)
	if err != nil {
		return "", err
	}
	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("create message: %w", err)
	}
	var b strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

func (a *Anthropic) Stream(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		params, err := a.params(messages)
		if err != nil {
			yield("", err)
			return
		}
		stream := a.client.Messages.NewStreaming(ctx, params)
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			event := stream.Current()
			if event.Type != "content_block_delta" || event.Delta.Type != "text_delta" || event.Delta.Text == "" {
				continue
			}
			if !yield(event.Delta.Text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) {
			yield("", fmt.Errorf("stream message: %w", err))
		}
	}
}

func (a *Anthropic) params(messages []Message) (anthropic.MessageNewParams, error) {
	var (
		system    []string
		converted []anthropic.MessageParam
	)
	for _, message := range messages {
		switch message.Role {
		case RoleSystem:
			system = append(system, message.Content)
		case RoleAssistant:
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(message.Content)))
		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(message.Content)))
		}
	}
	if len(converted) == 0 {
		return anthropic.MessageNewParams{}, fmt.Errorf("no messages to send")
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		Messages:    converted,
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(a.temperature),
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	return params, nil
}
