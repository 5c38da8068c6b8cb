// Package llm provides the OpenAI-backed model implementation.
package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/stridehq/stride/internal/config"
	"github.com/stridehq/stride/pkg/models"
)

// ErrEmptyCompletion is returned when the model answers with no choices or
// blank content. Callers treat it like any other model failure.
var ErrEmptyCompletion = errors.New("model returned an empty completion")

// OpenAIBackend implements contracts.ModelBackend against the OpenAI chat
// completion API. It performs exactly one request per Complete call; the
// orchestrator owns timeout and fallback policy.
type OpenAIBackend struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIBackend builds a backend from the model configuration.
func NewOpenAIBackend(cfg config.ModelConfig) *OpenAIBackend {
	return &OpenAIBackend{
		client:      openai.NewClient(cfg.APIKey),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
	}
}

func (b *OpenAIBackend) Complete(ctx context.Context, system string, turns []models.ChatTurn) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, t := range turns {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    t.Role,
			Content: t.Content,
		})
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    msgs,
		MaxTokens:   b.maxTokens,
		Temperature: b.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}
