package llm

import (
	"context"
	"fmt"
	"iter"
	"math"

	"golang.org/x/time/rate"
)

// Limited spaces calls to the wrapped model. The embedder, when present, is
// throttled by the same limiter.
type Limited struct {
	model   Model
	limiter *rate.Limiter
}

var (
	_ Model    = (*Limited)(nil)
	_ Embedder = (*Limited)(nil)
)

func NewLimited(model Model, requestsPerSecond float64) *Limited {
	burst := int(math.Ceil(requestsPerSecond))
	if burst < 1 {
		burst = 1
	}
	return &Limited{model: model, limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

func (l *Limited) Name() string {
	return l.model.Name()
}

func (l *Limited) Complete(ctx context.Context, messages []Message) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for model rate limit: %w", err)
	}
	return l.model.Complete(ctx, messages)
}

func (l *Limited) Stream(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := l.limiter.Wait(ctx); err != nil {
			yield("", fmt.Errorf("wait for model rate limit: %w", err))
			return
		}
		for chunk, err := range l.model.Stream(ctx, messages) {
			if !yield(chunk, err) {
				return
			}
		}
	}
}

func (l *Limited) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embedder, ok := l.model.(Embedder)
	if !ok {
		return nil, fmt.Errorf("model %q does not support embeddings", l.model.Name())
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for model rate limit: %w", err)
	}
	return embedder.Embed(ctx, texts)
}

// AsEmbedder reports whether model can produce embeddings.
func AsEmbedder(model Model) (Embedder, bool) {
	if limited, ok := model.(*Limited); ok {
		if _, ok := limited.model.(Embedder); !ok {
			return nil, false
		}
		return limited, true
	}
	embedder, ok := model.(Embedder)
	return embedder, ok
}
