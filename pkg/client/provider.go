// Package client pools storage backend clients for the job executor. A
// Provider binds one backend plus resolved credentials to a usable client;
// the Mux multiplexes many providers behind one job stream, constructing
// each lazily the first time its storage profile is touched.
package client

import (
	"context"
	"sync"

	"github.com/zhengshuai-xiao/DSync/internal"
	"github.com/zhengshuai-xiao/DSync/pkg/storage"
)

var logger = internal.GetLogger("dsync_client")

// Factory constructs a backend client. It is called under the provider's
// policy: once for pooled providers, per call otherwise.
type Factory func(ctx context.Context) (storage.Backend, error)

// Provider hands out a ready backend client.
type Provider interface {
	Client(ctx context.Context) (storage.Backend, error)
}

type pooledProvider struct {
	mu      sync.Mutex
	factory Factory
	cached  storage.Backend
}

// NewPooled returns a Provider that constructs the client on first use and
// reuses it across jobs.
func NewPooled(f Factory) Provider {
	return &pooledProvider{factory: f}
}

func (p *pooledProvider) Client(ctx context.Context) (storage.Backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != nil {
		return p.cached, nil
	}
	b, err := p.factory(ctx)
	if err != nil {
		return nil, err
	}
	p.cached = b
	return b, nil
}

type perCallProvider struct {
	factory Factory
}

// NewPerCall returns a Provider that constructs a fresh client on every
// call, for backends whose clients must not be shared across workers.
func NewPerCall(f Factory) Provider {
	return &perCallProvider{factory: f}
}

func (p *perCallProvider) Client(ctx context.Context) (storage.Backend, error) {
	return p.factory(ctx)
}
