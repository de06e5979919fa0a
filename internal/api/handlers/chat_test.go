package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatflow-app/chatflow/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTokens struct {
	token string
	err   error

	gotUserToken string
}

func (f *fakeTokens) GetAccessToken(_ context.Context, userToken string) (string, error) {
	f.gotUserToken = userToken
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

func chatRouter(h *ChatHandler) *gin.Engine {
	engine := gin.New()
	engine.POST("/api/chat", h.Handle)
	return engine
}

func TestChatInvalidBody(t *testing.T) {
	h := NewChatHandler(&fakeTokens{}, &fakeTokens{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{not json"))
	chatRouter(h).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request body")
}

func TestChatGenericRequiresAPIKey(t *testing.T) {
	h := NewChatHandler(&fakeTokens{}, &fakeTokens{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[]}`))
	req.Header.Set("Content-Type", "application/json")
	chatRouter(h).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "API key is required", w.Body.String())
}

func TestChatInternalNoRefreshToken(t *testing.T) {
	gemini := &fakeTokens{err: fmt.Errorf("authenticate via settings: %w", auth.ErrNoRefreshToken)}
	h := NewChatHandler(gemini, &fakeTokens{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[{"id":"1","role":"user","content":"hi"}]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-base-url", "gemini-cli")
	req.Header.Set("x-model", "gemini-2.5-pro")
	chatRouter(h).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Error:")
}

func TestChatInternalStreamsDeltas(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-123", r.Header.Get("Authorization"))
		assert.Equal(t, "antigravity", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, "data: {\"response\":{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hello\"}]}}]}}\n")
		_, _ = fmt.Fprint(w, "data: {\"response\":{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\", world\"}]}}]}}\n")
		_, _ = fmt.Fprint(w, "data: [DONE]\n")
	}))
	defer upstream.Close()

	gemini := &fakeTokens{token: "access-123"}
	h := NewChatHandler(gemini, &fakeTokens{})
	h.streamURL = upstream.URL

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[{"id":"1","role":"user","content":"hi"}]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", "user-refresh")
	req.Header.Set("x-base-url", "gemini-cli")
	req.Header.Set("x-model", "gemini-2.5-pro")
	chatRouter(h).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hello, world", w.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "user-refresh", gemini.gotUserToken)
}

func TestChatInternalUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = fmt.Fprint(w, "quota exhausted")
	}))
	defer upstream.Close()

	h := NewChatHandler(&fakeTokens{}, &fakeTokens{token: "access-456"})
	h.streamURL = upstream.URL

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[{"id":"1","role":"user","content":"hi"}]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-base-url", "http://localhost:8317/api/antigravity")
	req.Header.Set("x-model", "gemini-3-pro")
	chatRouter(h).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "upstream returned 429")
	assert.Contains(t, w.Body.String(), "quota exhausted")
}

func TestChatGenericStreamsCompletions(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		_, _ = fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" there\"}}]}\n\n")
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	h := NewChatHandler(&fakeTokens{}, &fakeTokens{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[{"id":"1","role":"user","content":"hi"}]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", "sk-test")
	req.Header.Set("x-base-url", upstream.URL)
	req.Header.Set("x-model", "gpt-4o")
	chatRouter(h).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hi there", w.Body.String())
}
