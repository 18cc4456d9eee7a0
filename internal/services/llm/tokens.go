package llm

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const tokenEncoding = "cl100k_base"

// TokenCounter counts tokens with tiktoken, falling back to a rune heuristic
// when the encoding cannot be loaded.
type TokenCounter struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
	loadErr  error
}

// NewTokenCounter returns a counter that loads its encoding lazily.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

func (tc *TokenCounter) load() {
	tc.once.Do(func() {
		tc.encoding, tc.loadErr = tiktoken.GetEncoding(tokenEncoding)
	})
}

// Exact reports whether counts come from the tiktoken encoding.
func (tc *TokenCounter) Exact() bool {
	if tc == nil {
		return false
	}
	tc.load()
	return tc.encoding != nil
}

// Count returns the number of tokens in text.
func (tc *TokenCounter) Count(text string) int64 {
	if text == "" {
		return 0
	}
	if tc != nil {
		tc.load()
		if tc.encoding != nil {
			return int64(len(tc.encoding.Encode(text, nil, nil)))
		}
	}
	return EstimateTokens(text)
}

// EstimateTokens approximates a token count as one token per four runes,
// rounding up so non-empty text is never free.
func EstimateTokens(text string) int64 {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return int64((n + 3) / 4)
}
