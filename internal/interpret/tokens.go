package interpret

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenEstimator sizes delegate requests for cost attribution. The estimate
// uses the cl100k encoding, which is close enough across chat models for
// observability purposes.
type TokenEstimator struct {
	codec tokenizer.Codec
}

// NewTokenEstimator builds an estimator.
func NewTokenEstimator() (*TokenEstimator, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &TokenEstimator{codec: codec}, nil
}

// Estimate returns the approximate prompt token count of a delegate
// request.
func (t *TokenEstimator) Estimate(req Request) int {
	total := t.count(req.ProblemStatement) + t.count(req.AmbiguityReason) + t.count(req.RawInput)
	for _, turn := range req.RecentTurns {
		total += t.count(turn.Prompt) + t.count(turn.Input)
	}
	for _, step := range req.AllowedSteps {
		total += t.count(string(step))
	}
	// Fixed prompt scaffolding around the variable parts.
	return total + 120
}

func (t *TokenEstimator) count(s string) int {
	if s == "" {
		return 0
	}
	ids, _, err := t.codec.Encode(s)
	if err != nil {
		return len(s) / 4 // crude fallback, better than zero
	}
	return len(ids)
}
