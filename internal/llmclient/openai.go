package llmclient

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
)

// OpenAIClient satisfies both ChatClient and EmbedClient against any
// OpenAI-compatible endpoint (spec §6), grounded on the teacher's
// internal/llm/openai_client.go construction style.
type OpenAIClient struct {
	client         openai.Client
	model          string
	embeddingModel string
	dimensions     int
}

// NewOpenAIClient builds a client against apiKey, optionally redirected to
// baseURL (for self-hosted OpenAI-compatible gateways).
func NewOpenAIClient(apiKey, baseURL, chatModel, embeddingModel string, dimensions int) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{
		client:         openai.NewClient(opts...),
		model:          chatModel,
		embeddingModel: embeddingModel,
		dimensions:     dimensions,
	}
}

// Chat requests JSON-object response formatting, per §4.3 step 4.
func (c *OpenAIClient) Chat(ctx context.Context, system, user string, maxTokens int) (string, Usage, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", Usage{}, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("openai chat: empty choices")
	}

	usage := Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	return resp.Choices[0].Message.Content, usage, nil
}

// Embed requests dense vectors for texts, matching §6's embedding
// dependency contract.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, Usage, error) {
	params := openai.EmbeddingNewParams{
		Model: c.embeddingModel,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if c.dimensions > 0 {
		params.Dimensions = openai.Int(int64(c.dimensions))
	}

	resp, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("openai embed: %w", err)
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			vec[j] = float32(f)
		}
		vectors[i] = vec
	}

	usage := Usage{TotalTokens: int(resp.Usage.TotalTokens)}
	return vectors, usage, nil
}
