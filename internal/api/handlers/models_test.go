package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func modelsRouter(h *ModelsHandler) *gin.Engine {
	engine := gin.New()
	engine.GET("/api/gemini/models", h.GeminiModels)
	engine.GET("/api/antigravity/models", h.AntigravityModels)
	return engine
}

func TestGeminiModelsStaticList(t *testing.T) {
	h := NewModelsHandler(&fakeTokens{}, &fakeTokens{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/gemini/models", nil)
	modelsRouter(h).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := gjson.GetBytes(w.Body.Bytes(), "data")
	require.Equal(t, int64(6), data.Get("#").Int())
	assert.Equal(t, "gemini-2.5-pro", data.Get("0.id").String())
	assert.Equal(t, "Gemini 2.5 Pro", data.Get("0.name").String())
	assert.Equal(t, "google", data.Get("0.owned_by").String())
	assert.True(t, data.Get("0.isMultimodal").Bool())
}

func TestGeminiModelsSurvivesInvalidToken(t *testing.T) {
	gemini := &fakeTokens{err: errors.New("refresh failed")}
	h := NewModelsHandler(gemini, &fakeTokens{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/gemini/models", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	modelsRouter(h).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(6), gjson.GetBytes(w.Body.Bytes(), "data.#").Int())
	assert.Equal(t, "bad-token", gemini.gotUserToken)
}

func TestAntigravityModelsAuthFailureFallsBack(t *testing.T) {
	h := NewModelsHandler(&fakeTokens{}, &fakeTokens{err: errors.New("no Antigravity refresh token available")})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/antigravity/models", nil)
	modelsRouter(h).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.Bytes()
	assert.NotEmpty(t, gjson.GetBytes(body, "error").String())
	assert.Equal(t, int64(2), gjson.GetBytes(body, "models.#").Int())
	assert.Equal(t, "gemini-2.5-flash", gjson.GetBytes(body, "models.0.id").String())
}

func TestAntigravityModelsLiveDiscovery(t *testing.T) {
	loadCalls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-789", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/load":
			loadCalls++
			_, _ = fmt.Fprint(w, `{"cloudaicompanionProject":"projects/my-project"}`)
		case "/models":
			_, _ = fmt.Fprint(w, `{
				"models": {
					"claude-sonnet-4-5": {"quotaInfo": {"remainingFraction": 0.5, "resetTime": "2026-08-31T00:00:00Z"}},
					"gemini-3-pro": {"quotaInfo": {"remainingFraction": 1}},
					"gemini-2.5-flash": {"quotaInfo": {"remainingFraction": 0.257}},
					"imagen-4": {}
				}
			}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer upstream.Close()

	h := NewModelsHandler(&fakeTokens{}, &fakeTokens{token: "access-789"})
	h.loadProjectURL = upstream.URL + "/load"
	h.fetchModelsURL = upstream.URL + "/models"

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/antigravity/models", nil)
	req.Header.Set("x-api-key", "refresh-abc")
	modelsRouter(h).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, loadCalls)

	body := w.Body.Bytes()
	assert.Equal(t, "projects/my-project", gjson.GetBytes(body, "projectId").String())

	models := gjson.GetBytes(body, "models")
	require.Equal(t, int64(3), models.Get("#").Int(), "imagen should be filtered out")
	assert.Equal(t, "gemini-2.5-flash", models.Get("0.id").String())
	assert.Equal(t, "gemini-3-pro", models.Get("1.id").String())
	assert.Equal(t, "claude-sonnet-4-5", models.Get("2.id").String())
	assert.Equal(t, int64(26), models.Get("0.quotaPercent").Int())
	assert.Equal(t, int64(100), models.Get("1.quotaPercent").Int())
	assert.Equal(t, "2026-08-31T00:00:00Z", models.Get("2.resetTime").String())
}

func TestAntigravityModelsDiscoveryFailureFallsBack(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	h := NewModelsHandler(&fakeTokens{}, &fakeTokens{token: "access-789"})
	h.loadProjectURL = upstream.URL + "/load"
	h.fetchModelsURL = upstream.URL + "/models"

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/antigravity/models", nil)
	modelsRouter(h).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.Bytes()
	assert.Equal(t, int64(2), gjson.GetBytes(body, "models.#").Int())
	// loadCodeAssist failed too, so the project id is generated.
	projectID := gjson.GetBytes(body, "projectId").String()
	assert.Len(t, projectID, 19)
	assert.Equal(t, "ag-", projectID[:3])
}

func TestFormatModelName(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"gemini-2.5-flash", "Gemini 2.5 Flash"},
		{"models/gemini-3-pro", "Gemini 3 Pro"},
		{"claude-sonnet-4-5", "Claude Sonnet 4 5"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatModelName(tt.id))
	}
}
