// Package llm abstracts the inference collaborator used inside workflow
// nodes. The engine treats inference purely as a fallible call: a prompt
// goes in, text or a structured value comes out, or the call fails.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Model is the provider-neutral completion interface.
//
// Implementations (openai, anthropic, google subpackages) handle
// authentication, retries on transient failures, and context
// cancellation. Nodes depend only on this interface so any provider, or
// the Mock, can back an agent.
type Model interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// InferenceError is returned by adapters when a provider call fails.
type InferenceError struct {
	Provider  string
	Message   string
	Retryable bool
	Cause     error
}

func (e *InferenceError) Error() string {
	return e.Provider + ": " + e.Message
}

func (e *InferenceError) Unwrap() error {
	return e.Cause
}

// GenerateJSON asks the model for a value of type T encoded as JSON and
// unmarshals the response. The prompt is extended with a strict
// reply-as-JSON instruction derived from T's zero value so providers
// without native structured output still comply.
//
// Providers often wrap JSON in markdown fences; those are stripped before
// parsing. A response that still fails to parse is an inference failure,
// not a panic.
func GenerateJSON[T any](ctx context.Context, m Model, prompt string) (T, error) {
	var out T

	shape, err := json.Marshal(out)
	if err != nil {
		return out, fmt.Errorf("cannot derive JSON shape: %w", err)
	}

	full := prompt + "\n\nRespond with a single JSON object matching this shape, no prose, no markdown:\n" + string(shape)

	text, err := m.Complete(ctx, full)
	if err != nil {
		return out, err
	}

	if err := json.Unmarshal([]byte(CleanJSON(text)), &out); err != nil {
		return out, fmt.Errorf("model returned invalid JSON: %w", err)
	}
	return out, nil
}

// CleanJSON strips markdown code fences and surrounding whitespace from a
// model response so the payload can be unmarshaled directly.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
