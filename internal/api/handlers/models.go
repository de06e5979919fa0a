package handlers

import (
	"bytes"
	"context"
	"io"
	"math"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/chatflow-app/chatflow/internal/auth"
)

const (
	loadCodeAssistURL     = "https://cloudcode-pa.googleapis.com/v1internal:loadCodeAssist"
	fetchAvailableModsURL = "https://cloudcode-pa.googleapis.com/v1internal:fetchAvailableModels"
	modelsUserAgent       = "antigravity/1.11.3 Darwin/arm64"
)

// ModelInfo is one entry of a models listing response.
type ModelInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	IsMultimodal bool   `json:"isMultimodal"`
	QuotaPercent *int   `json:"quotaPercent,omitempty"`
	ResetTime    string `json:"resetTime,omitempty"`
}

// geminiCLIModels is the static Gemini CLI catalog. Model discovery on this
// path has no live endpoint worth depending on.
var geminiCLIModels = []ModelInfo{
	{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", IsMultimodal: true},
	{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", IsMultimodal: true},
	{ID: "gemini-2.5-flash-lite", Name: "Gemini 2.5 Flash Lite", IsMultimodal: true},
	{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", IsMultimodal: true},
	{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", IsMultimodal: true},
	{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", IsMultimodal: true},
}

// antigravityFallbackModels is served when live discovery fails.
var antigravityFallbackModels = []ModelInfo{
	{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", IsMultimodal: true},
	{ID: "gemini-2.5-flash-lite", Name: "Gemini 2.5 Flash Lite", IsMultimodal: true},
}

// ModelsHandler serves the model discovery endpoints. Both always respond
// 200; discovery is a convenience, never a hard failure.
type ModelsHandler struct {
	geminiTokens      auth.TokenManager
	antigravityTokens auth.TokenManager

	loadProjectURL string
	fetchModelsURL string
	httpClient     *http.Client
}

// NewModelsHandler wires the handler to both token managers.
func NewModelsHandler(geminiTokens, antigravityTokens auth.TokenManager) *ModelsHandler {
	return &ModelsHandler{
		geminiTokens:      geminiTokens,
		antigravityTokens: antigravityTokens,
		loadProjectURL:    loadCodeAssistURL,
		fetchModelsURL:    fetchAvailableModsURL,
		httpClient:        &http.Client{Timeout: 15 * time.Second},
	}
}

// GeminiModels serves GET /api/gemini/models with the static catalog. A
// bearer token, when present, is validated as early feedback, but a failed
// validation still yields the list.
func (h *ModelsHandler) GeminiModels(c *gin.Context) {
	if bearer := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "); bearer != "" && bearer != c.GetHeader("Authorization") {
		if _, err := h.geminiTokens.GetAccessToken(c.Request.Context(), bearer); err != nil {
			log.Warnf("Gemini token validation failed, returning static list anyway: %v", err)
		}
	}

	now := time.Now().UnixMilli()
	data := make([]gin.H, 0, len(geminiCLIModels))
	for _, m := range geminiCLIModels {
		data = append(data, gin.H{
			"id":           m.ID,
			"name":         m.Name,
			"isMultimodal": m.IsMultimodal,
			"object":       "model",
			"created":      now,
			"owned_by":     "google",
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// AntigravityModels serves GET /api/antigravity/models: project discovery
// via loadCodeAssist, then fetchAvailableModels with quota info. Every
// failure degrades to the fallback list with status 200.
func (h *ModelsHandler) AntigravityModels(c *gin.Context) {
	ctx := c.Request.Context()

	accessToken, err := h.antigravityTokens.GetAccessToken(ctx, c.GetHeader("x-api-key"))
	if err != nil {
		log.Errorf("Antigravity models auth failed: %v", err)
		c.JSON(http.StatusOK, gin.H{"error": err.Error(), "models": antigravityFallbackModels})
		return
	}

	projectID := h.discoverProjectID(ctx, accessToken)

	body, _ := sjson.Set(`{}`, "project", projectID)
	respBody, status, errFetch := h.postJSON(ctx, h.fetchModelsURL, accessToken, body)
	if errFetch != nil || status < 200 || status >= 300 {
		if errFetch != nil {
			log.Errorf("Antigravity fetchAvailableModels failed: %v", errFetch)
		} else {
			log.Errorf("Antigravity fetchAvailableModels failed: %d %s", status, string(respBody))
		}
		c.JSON(http.StatusOK, gin.H{
			"models":    antigravityFallbackModels,
			"projectId": projectID,
			"error":     "model discovery failed",
		})
		return
	}

	models := parseAntigravityModels(respBody)
	c.JSON(http.StatusOK, gin.H{"models": models, "projectId": projectID})
}

// discoverProjectID asks loadCodeAssist for the managed project, falling
// back to a generated placeholder id on any failure.
func (h *ModelsHandler) discoverProjectID(ctx context.Context, accessToken string) string {
	body, _ := sjson.Set(`{}`, "metadata.ideType", "ANTIGRAVITY")
	respBody, status, err := h.postJSON(ctx, h.loadProjectURL, accessToken, body)
	if err == nil && status >= 200 && status < 300 {
		if project := gjson.GetBytes(respBody, "cloudaicompanionProject").String(); project != "" {
			return project
		}
	}
	if err != nil {
		log.Warnf("loadCodeAssist failed, using generated project id: %v", err)
	}
	return mockProjectID()
}

func (h *ModelsHandler) postJSON(ctx context.Context, url, accessToken, body string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", modelsUserAgent)

	resp, errDo := h.httpClient.Do(req)
	if errDo != nil {
		return nil, 0, errDo
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("failed to close response body: %v", errClose)
		}
	}()

	respBody, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return nil, resp.StatusCode, errRead
	}
	return respBody, resp.StatusCode, nil
}

// parseAntigravityModels extracts the gemini and claude entries from the
// fetchAvailableModels response, with quota percentages, ordered Gemini 2.5
// first, then Gemini 3, then Claude.
func parseAntigravityModels(respBody []byte) []ModelInfo {
	models := []ModelInfo{}
	gjson.GetBytes(respBody, "models").ForEach(func(key, value gjson.Result) bool {
		id := key.String()
		if !strings.Contains(id, "gemini") && !strings.Contains(id, "claude") {
			return true
		}
		info := ModelInfo{
			ID:           id,
			Name:         formatModelName(id),
			IsMultimodal: true,
		}
		if fraction := value.Get("quotaInfo.remainingFraction"); fraction.Exists() {
			percent := int(math.Round(fraction.Float() * 100))
			info.QuotaPercent = &percent
		}
		info.ResetTime = value.Get("quotaInfo.resetTime").String()
		models = append(models, info)
		return true
	})

	sort.SliceStable(models, func(i, j int) bool {
		return modelOrder(models[i].ID) < modelOrder(models[j].ID)
	})
	return models
}

func modelOrder(id string) int {
	switch {
	case strings.Contains(id, "gemini-2.5"):
		return 0
	case strings.Contains(id, "gemini-3"):
		return 1
	case strings.Contains(id, "claude"):
		return 2
	default:
		return 3
	}
}

// formatModelName turns a model id into a display name, e.g.
// "gemini-2.5-flash" becomes "Gemini 2.5 Flash".
func formatModelName(id string) string {
	id = strings.TrimPrefix(id, "models/")
	words := strings.Split(id, "-")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

const mockProjectChars = "abcdefghijklmnopqrstuvwxyz0123456789"

func mockProjectID() string {
	var sb strings.Builder
	sb.WriteString("ag-")
	for i := 0; i < 16; i++ {
		sb.WriteByte(mockProjectChars[rand.Intn(len(mockProjectChars))])
	}
	return sb.String()
}
