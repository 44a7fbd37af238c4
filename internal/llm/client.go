// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"errors"
)

// ErrMissingAPIKey is returned when a provider is constructed without credentials.
var ErrMissingAPIKey = errors.New("API key is required")

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// defaultMaxTokens bounds a generated demo script; scripts are short.
const defaultMaxTokens = 1024

// NewClient creates a client for the preferred provider, falling back to the
// other one when only its key is configured. It returns nil and no error
// when neither key is set.
func NewClient(preferred Provider, anthropicKey, openAIKey string) (Client, error) {
	switch {
	case preferred == ProviderOpenAI && openAIKey != "":
		return NewOpenAIClient(openAIKey)
	case anthropicKey != "":
		return NewAnthropicClient(anthropicKey)
	case openAIKey != "":
		return NewOpenAIClient(openAIKey)
	default:
		return nil, nil
	}
}
