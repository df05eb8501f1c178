// Package llmclient defines the chat-completion and embedding collaborator
// contracts (spec §6) plus concrete OpenAI and Anthropic adapters.
package llmclient

import "context"

// Usage mirrors the provider-reported token counters of spec §6.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates other into the receiver, for the engine's running counters.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ChatClient is the capability interface both chat backends satisfy.
// Implementations request JSON-object response formatting where the
// provider supports it (§4.3 step 4); Anthropic enforces the JSON contract
// purely through the fixed system prompt, since its Messages API has no
// response_format field.
type ChatClient interface {
	Chat(ctx context.Context, system, user string, maxTokens int) (content string, usage Usage, err error)
}

// EmbedClient is the capability interface for the embedding dependency
// (§6). Dimensions are a store-wide constant; callers detect mismatch.
type EmbedClient interface {
	Embed(ctx context.Context, texts []string) (vectors [][]float32, usage Usage, err error)
}
