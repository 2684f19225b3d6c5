package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/zhengshuai-xiao/DSync/pkg/storage"
)

// BindFunc resolves a store key to a Provider: look up credentials, parse
// the key's URI, construct the backend.
type BindFunc func(ctx context.Context, key string) (Provider, error)

// Mux lazily binds store keys to providers so one job stream can touch
// many backends without the orchestrator knowing the full set up front.
// Reads are lock-free-ish (RLock fast path); construction takes the write
// lock and rechecks, so at most one provider is kept per key. Redundant
// construction under contention would be safe, just wasted work.
type Mux struct {
	mu        sync.RWMutex
	bind      BindFunc
	providers map[string]Provider
}

func NewMux(bind BindFunc) *Mux {
	return &Mux{
		bind:      bind,
		providers: make(map[string]Provider),
	}
}

// Provider returns the provider bound to key, constructing it on first
// use.
func (m *Mux) Provider(ctx context.Context, key string) (Provider, error) {
	m.mu.RLock()
	p, ok := m.providers[key]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.providers[key]; ok {
		return p, nil
	}
	p, err := m.bind(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to bind provider for %s: %w", key, err)
	}
	logger.Debugf("bound client provider for %s", key)
	m.providers[key] = p
	return p, nil
}

// Client is shorthand for Provider(key).Client().
func (m *Mux) Client(ctx context.Context, key string) (storage.Backend, error) {
	p, err := m.Provider(ctx, key)
	if err != nil {
		return nil, err
	}
	return p.Client(ctx)
}

// Register installs a pre-built provider, overriding lazy binding for that
// key. Tests and orchestrators use it to seed already-authenticated
// backends.
func (m *Mux) Register(key string, p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[key] = p
}
