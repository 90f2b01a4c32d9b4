// Package keypool implements round-robin rotation over upstream API keys.
package keypool

import (
	"errors"
	"sync"
)

// ErrEmpty is returned when a pool is constructed with no keys.
var ErrEmpty = errors.New("keypool: at least one API key is required")

// Pool hands out API keys in round-robin order. It is safe for concurrent
// use: every call to Next advances the cursor exactly once, so concurrent
// requests collectively observe every key in pool order.
type Pool struct {
	mu     sync.Mutex
	keys   []string
	cursor int
}

// New creates a Pool over the given keys, preserving their order.
// The key slice is copied; the pool never changes after construction.
func New(keys []string) (*Pool, error) {
	if len(keys) == 0 {
		return nil, ErrEmpty
	}
	return &Pool{keys: append([]string(nil), keys...)}, nil
}

// Next returns the current key and advances the cursor modulo the pool size.
func (p *Pool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := p.keys[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.keys)
	return key
}

// Size returns the number of keys in the pool. It bounds the retry loop:
// one logical request never attempts more keys than the pool holds.
func (p *Pool) Size() int {
	return len(p.keys)
}
