package pdfrenderer

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Factory loads a renderer backend
type Factory func() (Renderer, error)

// Provider loads its renderer lazily, once per process. Concurrent first callers
// share a single load; once loaded the renderer is never reloaded. A failed load
// is reported to every waiting caller and may be attempted again by a later call.
type Provider struct {
	factory Factory
	group   singleflight.Group

	mu       sync.Mutex
	renderer Renderer
}

// NewProvider returns a provider that will build its renderer with factory on first use
func NewProvider(factory Factory) *Provider {
	return &Provider{factory: factory}
}

// NewBackendProvider returns a provider for one of the named backends
func NewBackendProvider(backend string) *Provider {
	return NewProvider(func() (Renderer, error) {
		return NewRenderer(backend)
	})
}

// Renderer returns the loaded renderer, loading it if necessary
func (p *Provider) Renderer() (Renderer, error) {
	if r := p.loaded(); r != nil {
		return r, nil
	}

	v, err, _ := p.group.Do("renderer", func() (interface{}, error) {
		if r := p.loaded(); r != nil {
			return r, nil
		}
		r, err := p.factory()
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.renderer = r
		p.mu.Unlock()
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("initialise PDF renderer: %w", err)
	}
	return v.(Renderer), nil
}

// Ready reports whether the renderer has been loaded
func (p *Provider) Ready() bool {
	return p.loaded() != nil
}

func (p *Provider) loaded() Renderer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.renderer
}

// Close releases the renderer if it was loaded
func (p *Provider) Close() error {
	p.mu.Lock()
	r := p.renderer
	p.renderer = nil
	p.mu.Unlock()
	if r == nil {
		return nil
	}
	return r.Close()
}
