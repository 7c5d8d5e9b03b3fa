package resolver

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/duckmesh/askdb/internal/llm"
)

const defaultEmbeddingBatch = 256

// EmbeddingStrategy ranks values by cosine similarity of their embeddings.
// Vocabulary vectors are computed once and reused while the vocabulary is
// unchanged.
type EmbeddingStrategy struct {
	embedder  llm.Embedder
	batchSize int

	mu         sync.Mutex
	vocabulary []string
	vectors    [][]float32
}

func NewEmbeddingStrategy(embedder llm.Embedder) (*EmbeddingStrategy, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	return &EmbeddingStrategy{embedder: embedder, batchSize: defaultEmbeddingBatch}, nil
}

func (s *EmbeddingStrategy) Name() string {
	return "embedding"
}

func (s *EmbeddingStrategy) Rank(ctx context.Context, term string, vocabulary []string, max int) ([]string, error) {
	if max <= 0 || len(vocabulary) == 0 {
		return nil, nil
	}
	vectors, err := s.vocabularyVectors(ctx, vocabulary)
	if err != nil {
		return nil, err
	}
	embedded, err := s.embedder.Embed(ctx, []string{term})
	if err != nil {
		return nil, fmt.Errorf("embed search term: %w", err)
	}
	if len(embedded) != 1 {
		return nil, fmt.Errorf("embed search term: got %d vectors", len(embedded))
	}

	type scored struct {
		value string
		score float64
	}
	ranked := make([]scored, len(vocabulary))
	for i, value := range vocabulary {
		ranked[i] = scored{value: value, score: cosine(embedded[0], vectors[i])}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].value < ranked[j].value
	})
	if len(ranked) > max {
		ranked = ranked[:max]
	}
	out := make([]string, len(ranked))
	for i, entry := range ranked {
		out[i] = entry.value
	}
	return out, nil
}

func (s *EmbeddingStrategy) vocabularyVectors(ctx context.Context, vocabulary []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vectors != nil && slices.Equal(s.vocabulary, vocabulary) {
		return s.vectors, nil
	}

	vectors := make([][]float32, 0, len(vocabulary))
	for start := 0; start < len(vocabulary); start += s.batchSize {
		end := min(start+s.batchSize, len(vocabulary))
		batch, err := s.embedder.Embed(ctx, vocabulary[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed vocabulary: %w", err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embed vocabulary: got %d vectors for %d values", len(batch), end-start)
		}
		vectors = append(vectors, batch...)
	}
	s.vocabulary = slices.Clone(vocabulary)
	s.vectors = vectors
	return vectors, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
