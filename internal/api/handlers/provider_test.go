package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectProvider(t *testing.T) {
	tests := []struct {
		name      string
		baseURL   string
		model     string
		provider  Provider
		wantModel string
	}{
		{
			name:      "gemini cli literal selector",
			baseURL:   "gemini-cli",
			model:     "gemini-2.5-pro",
			provider:  ProviderGeminiCLI,
			wantModel: "gemini-2.5-pro",
		},
		{
			name:      "gemini api path suffix",
			baseURL:   "http://localhost:8317/api/gemini",
			model:     "gemini-2.5-flash",
			provider:  ProviderGeminiCLI,
			wantModel: "gemini-2.5-flash",
		},
		{
			name:      "gemini cli model prefix stripped",
			baseURL:   "https://api.openai.com/v1",
			model:     "gemini-cli/gemini-2.5-pro",
			provider:  ProviderGeminiCLI,
			wantModel: "gemini-2.5-pro",
		},
		{
			name:      "antigravity api path suffix",
			baseURL:   "http://localhost:8317/api/antigravity",
			model:     "gemini-3-pro",
			provider:  ProviderAntigravity,
			wantModel: "gemini-3-pro",
		},
		{
			name:      "antigravity model prefix stripped",
			baseURL:   "https://api.openai.com/v1",
			model:     "antigravity/claude-sonnet-4-5",
			provider:  ProviderAntigravity,
			wantModel: "claude-sonnet-4-5",
		},
		{
			name:      "generic openrouter",
			baseURL:   "https://openrouter.ai/api/v1",
			model:     "openai/gpt-4o",
			provider:  ProviderGeneric,
			wantModel: "openai/gpt-4o",
		},
		{
			name:      "gemini wins over antigravity prefix",
			baseURL:   "gemini-cli",
			model:     "antigravity/gemini-3-pro",
			provider:  ProviderGeminiCLI,
			wantModel: "antigravity/gemini-3-pro",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, model := SelectProvider(tt.baseURL, tt.model)
			assert.Equal(t, tt.provider, provider)
			assert.Equal(t, tt.wantModel, model)
		})
	}
}

func TestProviderString(t *testing.T) {
	assert.Equal(t, "generic", ProviderGeneric.String())
	assert.Equal(t, "gemini-cli", ProviderGeminiCLI.String())
	assert.Equal(t, "antigravity", ProviderAntigravity.String())
}
