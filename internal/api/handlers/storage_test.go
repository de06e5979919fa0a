package handlers

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatflow-app/chatflow/internal/storage"
	"github.com/chatflow-app/chatflow/internal/store"
)

func storageRouter(h *StorageHandler) *gin.Engine {
	engine := gin.New()
	engine.GET("/api/storage/sync", h.Fetch)
	engine.POST("/api/storage/sync", h.Upload)
	return engine
}

func TestStorageFetchUnconfigured(t *testing.T) {
	h := NewStorageHandler(storage.Credentials{})

	w := httptest.NewRecorder()
	storageRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/storage/sync", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "not configured")
}

func TestStorageUploadUnconfigured(t *testing.T) {
	h := NewStorageHandler(storage.Credentials{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/storage/sync", strings.NewReader(`{"sessions":[]}`))
	req.Header.Set("Content-Type", "application/json")
	storageRouter(h).ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestResolveCredentialsFromQueryParam(t *testing.T) {
	h := NewStorageHandler(storage.Credentials{})

	encoded := base64.StdEncoding.EncodeToString([]byte(
		`{"endpoint":"https://acc.r2.cloudflarestorage.com","accessKeyId":"ak","secretAccessKey":"sk"}`,
	))
	creds, ok := h.resolveCredentials(encoded, nil)
	require.True(t, ok)
	assert.Equal(t, "https://acc.r2.cloudflarestorage.com", creds.Endpoint)
	assert.Equal(t, defaultSyncBucket, creds.Bucket, "missing bucket falls back to the default")
}

func TestResolveCredentialsMalformedQueryFallsThrough(t *testing.T) {
	defaults := storage.Credentials{
		Endpoint:        "https://acc.r2.cloudflarestorage.com",
		Bucket:          "configured",
		AccessKeyID:     "ak",
		SecretAccessKey: "sk",
	}
	h := NewStorageHandler(defaults)

	creds, ok := h.resolveCredentials("%%%not-base64%%%", nil)
	require.True(t, ok)
	assert.Equal(t, defaults, creds)
}

func TestResolveCredentialsBodySettingsBeatDefaults(t *testing.T) {
	defaults := storage.Credentials{
		Endpoint:        "https://default.example.com",
		Bucket:          "default-bucket",
		AccessKeyID:     "dk",
		SecretAccessKey: "ds",
	}
	h := NewStorageHandler(defaults)

	settings := &store.StorageSettings{
		Endpoint:        "https://user.example.com",
		AccessKeyID:     "uk",
		SecretAccessKey: "us",
	}
	creds, ok := h.resolveCredentials("", settings)
	require.True(t, ok)
	assert.Equal(t, "https://user.example.com", creds.Endpoint)
	assert.Equal(t, defaultSyncBucket, creds.Bucket)
}

func TestResolveCredentialsNothingConfigured(t *testing.T) {
	h := NewStorageHandler(storage.Credentials{})
	_, ok := h.resolveCredentials("", nil)
	assert.False(t, ok)
}
