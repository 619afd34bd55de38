// Package openai adapts OpenAI's API to the llm.Model interface.
package openai

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/omnisupply/omnisupply-go/llm"
)

const defaultModel = "gpt-4o-mini"

// Model implements llm.Model over the official openai-go SDK.
//
// Transient failures (rate limits, 5xx, network errors) are retried up to
// three times with a growing delay; permanent failures return immediately.
// Safe for concurrent use.
type Model struct {
	client     *openai.Client
	modelName  string
	maxRetries int
	retryDelay time.Duration
}

// New creates an OpenAI-backed model. An empty modelName uses gpt-4o-mini.
func New(apiKey, modelName string) (*Model, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key cannot be empty")
	}
	if modelName == "" {
		modelName = defaultModel
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Model{
		client:     &client,
		modelName:  modelName,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// Complete implements llm.Model.
func (m *Model) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		text, err := m.call(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if !isTransient(err) || attempt >= m.maxRetries {
			break
		}

		select {
		case <-time.After(m.retryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return "", &llm.InferenceError{
		Provider:  "openai",
		Message:   lastErr.Error(),
		Retryable: isTransient(lastErr),
		Cause:     lastErr,
	}
}

func (m *Model) call(ctx context.Context, prompt string) (string, error) {
	completion, err := m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(m.modelName),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(prompt),
					},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("empty response from OpenAI API")
	}
	return completion.Choices[0].Message.Content, nil
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "network", "connection", "temporary", "rate limit", "429", "500", "502", "503"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
