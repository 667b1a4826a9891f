package providers

import "context"

// Provider is the minimal transport contract an llm.ProviderAdapter wraps.
// Adapters resolve routing (base URL, key, model) and delegate the actual
// HTTP exchange to a Provider.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	DefaultModel() string
	Name() string
}

// ChatRequest is the input for a Chat call.
type ChatRequest struct {
	Messages      []Message
	Tools         []ToolDefinition
	Model         string
	MaxTokens     int
	Temperature   float64
	ThinkingLevel string // "off", "low", "medium", "high"
}

// ChatResponse is the normalized result of a Chat call.
type ChatResponse struct {
	Content      string
	Thinking     string
	ToolCalls    []ToolCall
	FinishReason string // "stop", "tool_calls", "length"
	Usage        *Usage

	// RawAssistantContent, when set, is the provider's own wire encoding of
	// this turn's assistant content blocks (thinking + tool_use, with any
	// signature the provider requires echoed back). A caller that appends
	// this response to the conversation and calls Chat again should set the
	// next assistant Message's RawAssistantContent to this value rather
	// than reconstructing blocks from Content/ToolCalls — providers that
	// require a signature on replay (Anthropic extended thinking) will
	// otherwise reject the follow-up turn.
	RawAssistantContent []byte
}

// ImageContent is a base64-encoded image for vision-capable models.
type ImageContent struct {
	MimeType string
	Data     string
}

// Message is one turn of a conversation.
type Message struct {
	Role                string // "system", "user", "assistant", "tool"
	Content             string
	Images              []ImageContent
	ToolCalls           []ToolCall
	ToolCallID          string // for role="tool" responses
	RawAssistantContent []byte // see ChatResponse.RawAssistantContent
}

// ToolCall is a tool invocation the model requested, or issued in a prior
// assistant turn being replayed back to it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
	// Signature carries a provider-specific opaque token that must be
	// echoed back verbatim on replay (e.g. Anthropic's thinking signature).
	Signature string
}

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Usage tracks token consumption for one Chat call.
type Usage struct {
	PromptTokens        int
	CompletionTokens    int
	ThinkingTokens      int
	TotalTokens         int
	CacheCreationTokens int
	CacheReadTokens     int
}
