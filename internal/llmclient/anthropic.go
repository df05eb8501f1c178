package llmclient

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient satisfies ChatClient against the Anthropic Messages API,
// grounded on the teacher's root anthropic.go. Anthropic has no
// response_format field, so the JSON contract required by §4.3/§4.7 is
// enforced entirely through the fixed system prompt text.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicClient builds a client against apiKey for the given model
// name (e.g. "claude-sonnet-4-5").
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Chat sends system+user as a single-turn Messages request and returns the
// concatenated text of the reply.
func (c *AnthropicClient) Chat(ctx context.Context, system, user string, maxTokens int) (string, Usage, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("anthropic chat: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if text := block.AsText(); text.Text != "" {
			content += text.Text
		}
	}

	usage := Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	return content, usage, nil
}
