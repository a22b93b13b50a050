package sentiment

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
)

// AnthropicClient adapts the Anthropic Messages API to the LLMClient
// contract used by the verifier.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
	log    zerolog.Logger
}

// NewAnthropicClient creates a client for the given API key. The model
// defaults to a small, fast tier suited to high-volume verification.
func NewAnthropicClient(apiKey, model string, log zerolog.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic client requires an API key")
	}
	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaude3_5HaikuLatest
	}
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  m,
		log:    log.With().Str("component", "anthropic_client").Logger(),
	}, nil
}

// Complete sends one prompt and returns the text of the response.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("messages request failed: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("response contained no text block")
}
