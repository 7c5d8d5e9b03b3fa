package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures text in cl100k_base tokens. When the encoding cannot
// be loaded it falls back to four characters per token.
type TokenCounter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

var (
	sharedCounter     *TokenCounter
	sharedCounterOnce sync.Once
)

func Tokens() *TokenCounter {
	sharedCounterOnce.Do(func() {
		encoder, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			sharedCounter = &TokenCounter{}
			return
		}
		sharedCounter = &TokenCounter{encoder: encoder}
	})
	return sharedCounter
}

func (c *TokenCounter) Count(text string) int {
	if c.encoder == nil {
		return (len(text) + 3) / 4
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.encoder.Encode(text, nil, nil))
}

// Truncate cuts text to at most maxTokens tokens and reports whether it cut.
func (c *TokenCounter) Truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return text, false
	}
	if c.encoder == nil {
		limit := maxTokens * 4
		if len(text) <= limit {
			return text, false
		}
		runes := []rune(text)
		if len(runes) <= limit {
			return text, false
		}
		return string(runes[:limit]), true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tokens := c.encoder.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text, false
	}
	return c.encoder.Decode(tokens[:maxTokens]), true
}
