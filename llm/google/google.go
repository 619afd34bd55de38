// Package google adapts Google's Gemini API to the llm.Model interface.
package google

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/omnisupply/omnisupply-go/llm"
)

const defaultModel = "gemini-1.5-flash"

// Model implements llm.Model over the generative-ai-go SDK.
// Close must be called when the model is no longer needed.
type Model struct {
	client    *genai.Client
	modelName string
}

// New creates a Gemini-backed model. An empty modelName uses
// gemini-1.5-flash. The context is used only for client construction.
func New(ctx context.Context, apiKey, modelName string) (*Model, error) {
	if apiKey == "" {
		return nil, errors.New("google: API key cannot be empty")
	}
	if modelName == "" {
		modelName = defaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &Model{client: client, modelName: modelName}, nil
}

// Close releases the underlying client.
func (m *Model) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Complete implements llm.Model.
func (m *Model) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	resp, err := m.client.GenerativeModel(m.modelName).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", &llm.InferenceError{
			Provider:  "google",
			Message:   err.Error(),
			Retryable: isTransient(err),
			Cause:     err,
		}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &llm.InferenceError{Provider: "google", Message: "empty response"}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	if text.Len() == 0 {
		return "", &llm.InferenceError{Provider: "google", Message: "no text parts in response"}
	}
	return text.String(), nil
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "unavailable", "resource exhausted", "429", "500", "503"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
