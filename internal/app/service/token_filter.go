package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/sifan077/LinkVault/internal/app/repository"
)

// TokenFilter is a Bloom filter over every token this process knows was issued.
// A negative answer is definitive, so the recorder can reject garbage tokens without a
// store round trip. It is only complete when every issuer shares the process, so it is
// opt-in.
type TokenFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewTokenFilter sizes the filter for expected tokens at the given false-positive rate.
func NewTokenFilter(expected uint, falsePositiveRate float64) *TokenFilter {
	if expected == 0 {
		expected = 100_000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.001
	}
	return &TokenFilter{filter: bloom.NewWithEstimates(expected, falsePositiveRate)}
}

// Warm loads every stored token into the filter.
func (f *TokenFilter) Warm(ctx context.Context, links repository.LinkRepository) (int, error) {
	tokens, err := links.Tokens(ctx)
	if err != nil {
		return 0, fmt.Errorf("warm token filter: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, token := range tokens {
		f.filter.AddString(token)
	}
	return len(tokens), nil
}

func (f *TokenFilter) Add(token string) {
	f.mu.Lock()
	f.filter.AddString(token)
	f.mu.Unlock()
}

// MayContain is false only for tokens that were definitely never added.
func (f *TokenFilter) MayContain(token string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filter.TestString(token)
}
