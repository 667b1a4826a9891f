// Package llm hosts the LLM-provider adapter registry and the profile
// resolver that picks, normalises, and escalates between named LLM
// configuration profiles.
package llm

import (
	"context"

	"github.com/nextlevelbuilder/goclaw/internal/providers"
)

// ProviderAdapter resolves a route's request URL and issues the call. It
// wraps providers.Provider rather than replacing it — the adapter layer
// only owns "which base/key/model" routing, not message shaping.
type ProviderAdapter interface {
	ID() string
	ResolveRequestURL(route Route) (string, error)
	Send(ctx context.Context, route Route, req providers.ChatRequest) (*providers.ChatResponse, error)
}

// Registry is a named map of ProviderAdapters. A default
// "openai_compatible" adapter is expected to be pre-installed by the
// caller that constructs the kernel.
type Registry struct {
	adapters map[string]ProviderAdapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]ProviderAdapter)}
}

// Install registers adapter under its own ID, replacing any prior adapter
// with the same ID.
func (r *Registry) Install(adapter ProviderAdapter) {
	r.adapters[adapter.ID()] = adapter
}

// Get looks up an adapter by ID.
func (r *Registry) Get(id string) (ProviderAdapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}
