package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	openai "github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"github.com/chatflow-app/chatflow/internal/adapter"
	"github.com/chatflow-app/chatflow/internal/api/middleware"
	"github.com/chatflow-app/chatflow/internal/auth"
	"github.com/chatflow-app/chatflow/internal/logging"
	"github.com/chatflow-app/chatflow/internal/store"
)

// streamGenerateContentURL is the internal Code Assist streaming endpoint
// shared by the Gemini CLI and Antigravity paths.
const streamGenerateContentURL = "https://cloudcode-pa.googleapis.com/v1internal:streamGenerateContent?alt=sse"

const (
	defaultGenericBaseURL = "https://api.openai.com/v1"
	defaultGenericModel   = "gpt-4o"
)

// chatRequest is the gateway's JSON body.
type chatRequest struct {
	Messages []store.Message `json:"messages"`
}

// ChatHandler routes one chat request to the selected upstream and
// re-streams the assistant reply as raw text. It keeps no per-request state
// and performs no retries.
type ChatHandler struct {
	routes     map[Provider]providerRoute
	streamURL  string
	httpClient *http.Client
}

// NewChatHandler wires the adapters to their token managers.
func NewChatHandler(geminiTokens, antigravityTokens auth.TokenManager) *ChatHandler {
	return &ChatHandler{
		routes: map[Provider]providerRoute{
			ProviderGeminiCLI: {
				adapter:   adapter.Gemini{},
				tokens:    geminiTokens,
				userAgent: "antigravity",
			},
			ProviderAntigravity: {
				adapter:   adapter.Antigravity{},
				tokens:    antigravityTokens,
				userAgent: "antigravity/1.11.9 windows/amd64",
			},
		},
		streamURL:  streamGenerateContentURL,
		httpClient: &http.Client{}, // streaming, no timeout
	}
}

// Handle serves POST /api/chat.
func (h *ChatHandler) Handle(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "Error: invalid request body")
		return
	}

	apiKey := c.GetHeader("x-api-key")
	baseURL := c.GetHeader("x-base-url")
	if baseURL == "" {
		baseURL = defaultGenericBaseURL
	}
	model := c.GetHeader("x-model")
	if model == "" {
		model = defaultGenericModel
	}

	provider, model := SelectProvider(baseURL, model)
	middleware.RecordProviderRequest(provider.String(), model)
	logging.SkipGinRequestLogging(c)

	if provider == ProviderGeneric {
		h.handleGeneric(c, apiKey, baseURL, model, req.Messages)
		return
	}
	h.handleInternal(c, provider, apiKey, model, req.Messages)
}

// handleInternal serves the Gemini CLI and Antigravity paths against the
// internal streaming endpoint.
func (h *ChatHandler) handleInternal(c *gin.Context, provider Provider, apiKey, model string, messages []store.Message) {
	route := h.routes[provider]
	ctx := c.Request.Context()

	accessToken, err := route.tokens.GetAccessToken(ctx, apiKey)
	if err != nil {
		if errors.Is(err, auth.ErrNoRefreshToken) {
			middleware.RecordUpstreamError("no_refresh_token", provider.String())
			c.String(http.StatusUnauthorized, "Error: %s", err.Error())
			return
		}
		middleware.RecordUpstreamError("token_refresh", provider.String())
		c.String(http.StatusInternalServerError, "Error: %s", err.Error())
		return
	}

	envelope, err := route.adapter.BuildEnvelope(messages, model, adapter.Options{})
	if err != nil {
		middleware.RecordUpstreamError("envelope_build", provider.String())
		c.String(http.StatusInternalServerError, "Error: %s", err.Error())
		return
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.streamURL, bytes.NewReader(envelope))
	if err != nil {
		c.String(http.StatusInternalServerError, "Error: %s", err.Error())
		return
	}
	upstreamReq.Header.Set("Authorization", "Bearer "+accessToken)
	upstreamReq.Header.Set("Content-Type", "application/json")
	upstreamReq.Header.Set("User-Agent", route.userAgent)

	resp, errDo := h.httpClient.Do(upstreamReq)
	if errDo != nil {
		middleware.RecordUpstreamError("connect", provider.String())
		c.String(http.StatusBadGateway, "Error: %s", errDo.Error())
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, errRead := io.ReadAll(resp.Body)
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("failed to close upstream body: %v", errClose)
		}
		if errRead != nil {
			body = []byte(errRead.Error())
		}
		middleware.RecordUpstreamError(fmt.Sprintf("upstream_%d", resp.StatusCode), provider.String())
		c.String(http.StatusBadGateway, "Error: upstream returned %d: %s", resp.StatusCode, string(body))
		return
	}

	// DeltaStream owns resp.Body from here on.
	stream := adapter.NewDeltaStream(resp.Body)
	h.pump(c, provider, stream.Deltas(), stream.Close)
}

// handleGeneric serves any OpenAI-compatible backend.
func (h *ChatHandler) handleGeneric(c *gin.Context, apiKey, baseURL, model string, messages []store.Message) {
	if apiKey == "" {
		c.String(http.StatusUnauthorized, "API key is required")
		return
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	if strings.Contains(baseURL, "openrouter.ai") {
		cfg.HTTPClient = &http.Client{Transport: openRouterTransport{base: http.DefaultTransport}}
	}
	client := openai.NewClientWithConfig(cfg)

	ctx := c.Request.Context()
	streamReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
	}
	stream, err := client.CreateChatCompletionStream(ctx, streamReq)
	if err != nil {
		middleware.RecordUpstreamError("connect", "generic")
		c.String(http.StatusInternalServerError, "Error: %s", err.Error())
		return
	}
	defer func() {
		if errClose := stream.Close(); errClose != nil {
			log.Errorf("failed to close completion stream: %v", errClose)
		}
	}()

	h.prepareStreamHeaders(c)
	for {
		chunk, errRecv := stream.Recv()
		if errors.Is(errRecv, io.EOF) {
			return
		}
		if errRecv != nil {
			// Mid-stream failure: log and end; partial content stands.
			log.Errorf("completion stream error: %v", errRecv)
			middleware.RecordUpstreamError("stream", "generic")
			return
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		if !h.writeChunk(c, content) {
			return
		}
		middleware.RecordStreamedChunk("generic")
	}
}

// pump re-streams normalized deltas to the client until the upstream closes
// or the client disconnects.
func (h *ChatHandler) pump(c *gin.Context, provider Provider, deltas <-chan adapter.Delta, abort func()) {
	h.prepareStreamHeaders(c)
	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			abort()
			return
		case delta, ok := <-deltas:
			if !ok {
				return
			}
			if !h.writeChunk(c, delta.Content) {
				abort()
				return
			}
			middleware.RecordStreamedChunk(provider.String())
		}
	}
}

func (h *ChatHandler) prepareStreamHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
}

// writeChunk sends one text chunk; a failed write means the consumer is
// gone, which is not an error.
func (h *ChatHandler) writeChunk(c *gin.Context, content string) bool {
	if _, err := c.Writer.WriteString(content); err != nil {
		log.Debugf("client disconnected mid-stream: %v", err)
		return false
	}
	c.Writer.Flush()
	return true
}

// toOpenAIMessages converts the canonical message list to the client
// library's shape, preserving multimodal parts.
func toOpenAIMessages(messages []store.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		m := openai.ChatCompletionMessage{Role: msg.Role}
		if msg.Content.IsMultimodal() {
			for _, part := range msg.Content.Parts() {
				switch part.Type {
				case store.PartTypeText:
					m.MultiContent = append(m.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: part.Text,
					})
				case store.PartTypeImageURL:
					if part.ImageURL == nil {
						continue
					}
					m.MultiContent = append(m.MultiContent, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: part.ImageURL.URL},
					})
				}
			}
		} else {
			m.Content = msg.Content.AsText()
		}
		out = append(out, m)
	}
	return out
}

// openRouterTransport attaches OpenRouter's attribution headers.
type openRouterTransport struct {
	base http.RoundTripper
}

func (t openRouterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("HTTP-Referer", "https://chatflow.app")
	req.Header.Set("X-Title", "ChatFlow")
	return t.base.RoundTrip(req)
}
