// Package anthropic adapts Anthropic's Claude API to the llm.Model
// interface.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/omnisupply/omnisupply-go/llm"
)

const (
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 4096
)

// Model implements llm.Model over the official anthropic-sdk-go client.
// Safe for concurrent use after creation.
type Model struct {
	client    *anthropic.Client
	modelName string
}

// New creates a Claude-backed model. An empty modelName uses a current
// Haiku model.
func New(apiKey, modelName string) (*Model, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: API key cannot be empty")
	}
	if modelName == "" {
		modelName = defaultModel
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Model{client: &client, modelName: modelName}, nil
}

// Complete implements llm.Model.
func (m *Model) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	message, err := m.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: defaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", &llm.InferenceError{
			Provider:  "anthropic",
			Message:   err.Error(),
			Retryable: isTransient(err),
			Cause:     err,
		}
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", &llm.InferenceError{Provider: "anthropic", Message: "empty response"}
	}
	return text.String(), nil
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "overloaded", "rate limit", "429", "500", "502", "503", "529"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
