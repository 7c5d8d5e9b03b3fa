package resolver

import (
	"context"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// FuzzyStrategy ranks subsequence matches first and fills the remaining
// slots with the values closest by edit distance, so typos still produce
// candidates.
type FuzzyStrategy struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

func NewFuzzyStrategy() *FuzzyStrategy {
	return &FuzzyStrategy{dmp: diffmatchpatch.New()}
}

func (s *FuzzyStrategy) Name() string {
	return "fuzzy"
}

func (s *FuzzyStrategy) Rank(ctx context.Context, term string, vocabulary []string, max int) ([]string, error) {
	if max <= 0 {
		return nil, nil
	}
	picked := make(map[int]struct{}, max)
	candidates := make([]string, 0, max)
	for _, match := range fuzzy.Find(term, vocabulary) {
		if len(candidates) == max {
			return candidates, nil
		}
		picked[match.Index] = struct{}{}
		candidates = append(candidates, match.Str)
	}
	if len(candidates) == max {
		return candidates, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type scored struct {
		value    string
		distance int
	}
	needle := strings.ToLower(term)
	rest := make([]scored, 0, len(vocabulary)-len(picked))
	for i, value := range vocabulary {
		if _, ok := picked[i]; ok {
			continue
		}
		diffs := s.dmp.DiffMain(needle, strings.ToLower(value), false)
		rest = append(rest, scored{value: value, distance: s.dmp.DiffLevenshtein(diffs)})
	}
	sort.SliceStable(rest, func(i, j int) bool {
		if rest[i].distance != rest[j].distance {
			return rest[i].distance < rest[j].distance
		}
		return rest[i].value < rest[j].value
	})
	for _, entry := range rest {
		if len(candidates) == max {
			break
		}
		candidates = append(candidates, entry.value)
	}
	return candidates, nil
}
