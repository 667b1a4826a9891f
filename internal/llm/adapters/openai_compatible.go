// Package adapters wraps the existing internal/providers.Provider
// implementations behind the llm.ProviderAdapter contract, so the kernel's
// route resolver can pick an adapter by id without caring how the HTTP
// call underneath is actually made.
package adapters

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/goclaw/internal/llm"
	"github.com/nextlevelbuilder/goclaw/internal/providers"
)

// OpenAICompatible adapts providers.OpenAIProvider — the kernel's default
// adapter, installed under id "openai_compatible".
type OpenAICompatible struct {
	name string
}

// NewOpenAICompatible returns the default adapter. The underlying
// provider is constructed per-route (base/key/model vary per profile),
// so this adapter is stateless beyond its id.
func NewOpenAICompatible() *OpenAICompatible {
	return &OpenAICompatible{name: "openai_compatible"}
}

func (a *OpenAICompatible) ID() string { return a.name }

func (a *OpenAICompatible) ResolveRequestURL(route llm.Route) (string, error) {
	if route.Profile.LlmBase == "" {
		return "", fmt.Errorf("openai_compatible: profile %q has no llmBase", route.Profile.ID)
	}
	return route.Profile.LlmBase + "/chat/completions", nil
}

func (a *OpenAICompatible) Send(ctx context.Context, route llm.Route, req providers.ChatRequest) (*providers.ChatResponse, error) {
	provider := providers.NewOpenAIProvider(route.Profile.ID, route.Profile.LlmKey, route.Profile.LlmBase, route.Profile.Model)
	if req.Model == "" {
		req.Model = route.Profile.Model
	}
	return provider.Chat(ctx, req)
}
