package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// TokenSource reads an API token by parameter leaf name. *Client implements
// it.
type TokenSource interface {
	GetToken(ctx context.Context, leaf string) (string, error)
}

// Token is an API secret fetched on first use. A successful fetch is reused
// for the lifetime of the process; a failed one is retried by the next
// Resolve.
type Token struct {
	source TokenSource
	leaf   string

	mu    sync.Mutex
	value string
}

// NewToken returns a lazily resolved Token for leaf.
func NewToken(source TokenSource, leaf string) (*Token, error) {
	if source == nil {
		return nil, errors.New("paramstore: token source must not be nil")
	}
	leaf = strings.TrimSpace(leaf)
	if leaf == "" {
		return nil, errors.New("paramstore: token parameter name is empty")
	}
	return &Token{source: source, leaf: leaf}, nil
}

// StaticToken wraps an already known secret.
func StaticToken(value string) *Token {
	return &Token{value: value}
}

// Name returns the parameter leaf the token is read from.
func (t *Token) Name() string { return t.leaf }

// Resolve returns the token value, fetching it when no earlier call
// succeeded.
func (t *Token) Resolve(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.value != "" {
		return t.value, nil
	}
	if t.source == nil {
		return "", errors.New("paramstore: token has no value")
	}
	v, err := t.source.GetToken(ctx, t.leaf)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch token %q: %w", t.leaf, err)
	}
	t.value = v
	return v, nil
}
