package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Router resolves which oracle serves each agent. An agent is bound to
// a primary provider and may carry a fallback chain; unbound agents use
// the default (the first provider registered).
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
	bindings  map[string]string
	fallbacks map[string][]string
	defaults  string
	logger    *zap.Logger
}

// NewRouter creates an empty provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// Register adds a provider. The first registered provider becomes the
// default.
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

// Bind associates an agent with a specific provider.
func (r *Router) Bind(agentID, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[agentID] = providerID
}

// SetFallbacks configures fallback providers for an agent.
func (r *Router) SetFallbacks(agentID string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[agentID] = providerIDs
}

// Route sends a chat request down the agent's candidate chain, stopping
// at the first provider that answers.
func (r *Router) Route(ctx context.Context, agentID string, req *ChatRequest) (*ChatResponse, error) {
	candidates := r.resolve(agentID)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no provider available for agent %s", agentID)
	}

	var lastErr error
	for i, p := range candidates {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if i == 0 {
			r.logger.Warn("primary provider failed, trying fallbacks",
				zap.String("agent", agentID), zap.Error(err))
		} else {
			r.logger.Warn("fallback provider failed",
				zap.String("provider", p.ID()), zap.Error(err))
		}
	}
	return nil, fmt.Errorf("all providers failed for agent %s: %w", agentID, lastErr)
}

// resolve returns the agent's ordered candidate providers: its bound
// primary (or the default), then any configured fallbacks that exist.
func (r *Router) resolve(agentID string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Provider
	primaryID, bound := r.bindings[agentID]
	if !bound {
		primaryID = r.defaults
	}
	if p, ok := r.providers[primaryID]; ok {
		out = append(out, p)
	}
	for _, id := range r.fallbacks[agentID] {
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
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}
