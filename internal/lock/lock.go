// Package lock serialises deployments that target the same repository.
package lock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/splax/templatehub/internal/domain"
)

// Locker grants exclusive ownership of a key. Acquire fails with an error
// wrapping domain.ErrConflict when the key is already held.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
	Close() error
}

// TargetKey identifies a deployment target. Hosting user names are case
// insensitive so the key is lower-cased.
func TargetKey(username, repoName string) string {
	return strings.ToLower(strings.TrimSpace(username)) + "/" + strings.ToLower(strings.TrimSpace(repoName))
}

// Memory is an in-process Locker.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ Locker = (*Memory)(nil)

// NewMemory returns an empty in-process Locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

func (m *Memory) Acquire(_ context.Context, key string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrConflict, key)
	}
	m.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, nil
}

func (m *Memory) Close() error { return nil }
