package llm

import (
	"errors"
	"testing"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name      string
		preferred Provider
		anthropic string
		openai    string
		want      string
	}{
		{"anthropic preferred", ProviderAnthropic, "a-key", "o-key", "anthropic"},
		{"openai preferred", ProviderOpenAI, "a-key", "o-key", "openai"},
		{"openai preferred without key", ProviderOpenAI, "a-key", "", "anthropic"},
		{"fallback to openai", ProviderAnthropic, "", "o-key", "openai"},
		{"nothing configured", ProviderAnthropic, "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.preferred, tt.anthropic, tt.openai)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want == "" {
				if client != nil {
					t.Errorf("expected no client, got %s", client.Name())
				}
				return
			}
			if client == nil || client.Name() != tt.want {
				t.Errorf("expected %s client, got %v", tt.want, client)
			}
		})
	}
}

func TestNewProviderClient_MissingKey(t *testing.T) {
	if _, err := NewAnthropicClient(""); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("anthropic: expected ErrMissingAPIKey, got %v", err)
	}
	if _, err := NewOpenAIClient(""); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("openai: expected ErrMissingAPIKey, got %v", err)
	}
}
