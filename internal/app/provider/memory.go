package provider

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
)

// Memory is an in-process Gateway for local development.
type Memory struct {
	mu      sync.Mutex
	baseURL string
	tokens  map[string]string // token -> resource
}

// NewMemory returns a Memory gateway whose tokens look like baseURL + random suffix.
func NewMemory(baseURL string) *Memory {
	if baseURL == "" {
		baseURL = "https://t.me/+"
	}
	return &Memory{baseURL: baseURL, tokens: make(map[string]string)}
}

func (m *Memory) Mint(ctx context.Context, req MintRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", Transient(err)
	}
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", Transient(err)
	}
	token := m.baseURL + base64.RawURLEncoding.EncodeToString(b)

	m.mu.Lock()
	m.tokens[token] = req.ResourceID
	m.mu.Unlock()
	return token, nil
}

func (m *Memory) Revoke(ctx context.Context, resourceID, token string) error {
	if err := ctx.Err(); err != nil {
		return Transient(err)
	}
	m.mu.Lock()
	delete(m.tokens, token)
	m.mu.Unlock()
	return nil
}

// Live reports whether token was minted and not yet revoked.
func (m *Memory) Live(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tokens[token]
	return ok
}
