// Package tokenizer provides a heuristic token counter. Exact tokenization
// belongs to the model provider; the context window only needs a stable
// estimate that errs on the high side.
package tokenizer

import (
	"unicode"
	"unicode/utf8"
)

// Estimator approximates token counts without a model-specific vocabulary.
// ASCII text averages roughly four characters per token; CJK and other
// non-ASCII runes are counted one token each.
type Estimator struct{}

// NewEstimator creates a heuristic token estimator.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// CountTokens estimates the number of tokens in text.
func (e *Estimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}

	ascii := 0
	wide := 0
	for _, r := range text {
		if r < utf8.RuneSelf || unicode.IsSpace(r) {
			ascii++
		} else {
			wide++
		}
	}

	tokens := (ascii + 3) / 4
	return tokens + wide
}
