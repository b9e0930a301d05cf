package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Router manages multiple LLM providers and routes requests by purpose.
type Router struct {
	providers map[string]Provider
	bindings  map[Purpose]string   // purpose -> providerID
	fallbacks map[Purpose][]string // purpose -> fallback provider chain
	defaults  string
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[Purpose]string),
		fallbacks: make(map[Purpose][]string),
		logger:    logger,
	}
}

// Register adds a provider to the router. The first provider becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// Bind associates a purpose with a specific provider.
func (r *Router) Bind(purpose Purpose, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[purpose] = providerID
}

// SetFallbacks configures fallback providers for a purpose.
func (r *Router) SetFallbacks(purpose Purpose, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[purpose] = providerIDs
}

// Route sends a chat request through the provider bound to purpose,
// walking the fallback chain on failure.
func (r *Router) Route(ctx context.Context, purpose Purpose, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	primary := r.getProvider(purpose)
	chain := r.fallbackProviders(purpose)
	r.mu.RUnlock()

	if primary == nil {
		return nil, fmt.Errorf("no provider available for %s", purpose)
	}

	resp, err := primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	if len(chain) > 0 {
		r.logger.Warn("primary provider failed, trying fallbacks",
			zap.String("purpose", string(purpose)), zap.Error(err))
	}

	for _, fb := range chain {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err = fb.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		r.logger.Warn("fallback provider failed", zap.String("provider", fb.ID()), zap.Error(err))
	}

	return nil, fmt.Errorf("all providers failed for %s: %w", purpose, err)
}

// RouteStream sends a streaming chat request. Fallbacks are only tried
// when the stream cannot be opened.
func (r *Router) RouteStream(ctx context.Context, purpose Purpose, req *ChatRequest) (<-chan *StreamChunk, error) {
	r.mu.RLock()
	primary := r.getProvider(purpose)
	chain := r.fallbackProviders(purpose)
	r.mu.RUnlock()

	if primary == nil {
		return nil, fmt.Errorf("no provider available for %s", purpose)
	}
	ch, err := primary.ChatStream(ctx, req)
	if err == nil {
		return ch, nil
	}
	for _, fb := range chain {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if ch, ferr := fb.ChatStream(ctx, req); ferr == nil {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("open stream for %s: %w", purpose, err)
}

func (r *Router) getProvider(purpose Purpose) Provider {
	if pid, ok := r.bindings[purpose]; ok {
		if p, ok := r.providers[pid]; ok {
			return p
		}
	}
	if p, ok := r.providers[r.defaults]; ok {
		return p
	}
	return nil
}

func (r *Router) fallbackProviders(purpose Purpose) []Provider {
	var out []Provider
	for _, id := range r.fallbacks[purpose] {
		if p, ok := r.providers[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	return result
}

// Default returns the default provider id.
func (r *Router) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// Bindings returns a copy of the purpose bindings.
func (r *Router) Bindings() map[Purpose]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Purpose]string, len(r.bindings))
	for k, v := range r.bindings {
		out[k] = v
	}
	return out
}
