// Package handlers implements the HTTP endpoints of the ChatFlow backend:
// the chat gateway, OAuth code exchange, model listing, session storage sync
// and the conversation store surface.
package handlers

import (
	"strings"

	"github.com/chatflow-app/chatflow/internal/adapter"
	"github.com/chatflow-app/chatflow/internal/auth"
)

// Provider enumerates the chat gateway's upstream backends.
type Provider int

const (
	// ProviderGeneric is any OpenAI-compatible HTTP API.
	ProviderGeneric Provider = iota
	// ProviderGeminiCLI is the internal Code Assist API in the Gemini CLI
	// envelope shape.
	ProviderGeminiCLI
	// ProviderAntigravity is the internal Code Assist API in the
	// Antigravity envelope shape.
	ProviderAntigravity
)

// String returns the provider's metric label.
func (p Provider) String() string {
	switch p {
	case ProviderGeminiCLI:
		return "gemini-cli"
	case ProviderAntigravity:
		return "antigravity"
	default:
		return "generic"
	}
}

// providerRoute couples one provider's adapter with its token manager and
// the client identifier the internal API expects.
type providerRoute struct {
	adapter   adapter.Adapter
	tokens    auth.TokenManager
	userAgent string
}

// SelectProvider picks the upstream backend from the base-url selector and
// the model id, returning the model with any provider prefix stripped.
// Matching order: Gemini CLI first, then Antigravity, then generic.
func SelectProvider(baseURL, model string) (Provider, string) {
	switch {
	case baseURL == "gemini-cli" || strings.HasSuffix(baseURL, "/api/gemini") || strings.HasPrefix(model, "gemini-cli"):
		return ProviderGeminiCLI, strings.TrimPrefix(strings.TrimPrefix(model, "gemini-cli"), "/")
	case strings.HasSuffix(baseURL, "/api/antigravity") || strings.HasPrefix(model, "antigravity/"):
		return ProviderAntigravity, strings.TrimPrefix(model, "antigravity/")
	default:
		return ProviderGeneric, model
	}
}
