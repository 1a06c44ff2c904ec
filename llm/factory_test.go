package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderSelectsVariant(t *testing.T) {
	tests := []struct {
		baseURL string
		want    string
	}{
		{"https://generativelanguage.googleapis.com", "gemini"},
		{"https://generativelanguage.googleapis.com/v1beta/", "gemini"},
		{"https://api.openai.com", "openai"},
		{"http://localhost:11434", "openai"},
		{"", "openai"},
	}
	for _, tt := range tests {
		p, err := NewProvider(Config{BaseURL: tt.baseURL})
		require.NoError(t, err)
		assert.Equal(t, tt.want, p.Name(), tt.baseURL)
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := &ProviderError{Provider: "openai", Status: 429, Body: "rate limited"}
	assert.Equal(t, "openai API error 429: rate limited", err.Error())
}
