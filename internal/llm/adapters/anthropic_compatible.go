package adapters

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/goclaw/internal/llm"
	"github.com/nextlevelbuilder/goclaw/internal/providers"
)

// AnthropicCompatible adapts providers.AnthropicProvider, installed under
// id "anthropic_compatible" — a second named adapter proving the registry
// is genuinely pluggable rather than a hardcoded single implementation.
type AnthropicCompatible struct {
	name string
}

func NewAnthropicCompatible() *AnthropicCompatible {
	return &AnthropicCompatible{name: "anthropic_compatible"}
}

func (a *AnthropicCompatible) ID() string { return a.name }

func (a *AnthropicCompatible) ResolveRequestURL(route llm.Route) (string, error) {
	if route.Profile.LlmBase == "" {
		return "", fmt.Errorf("anthropic_compatible: profile %q has no llmBase", route.Profile.ID)
	}
	return route.Profile.LlmBase + "/messages", nil
}

func (a *AnthropicCompatible) Send(ctx context.Context, route llm.Route, req providers.ChatRequest) (*providers.ChatResponse, error) {
	opts := []providers.AnthropicOption{providers.WithAnthropicModel(route.Profile.Model)}
	if route.Profile.LlmBase != "" {
		opts = append(opts, providers.WithAnthropicBaseURL(route.Profile.LlmBase))
	}
	provider := providers.NewAnthropicProvider(route.Profile.LlmKey, opts...)
	if req.Model == "" {
		req.Model = route.Profile.Model
	}
	return provider.Chat(ctx, req)
}
