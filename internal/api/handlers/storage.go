package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/chatflow-app/chatflow/internal/store"
	"github.com/chatflow-app/chatflow/internal/storage"
)

const defaultSyncBucket = "chatflow-sessions"

// StorageHandler serves the session sync endpoints backed by S3-compatible
// object storage.
type StorageHandler struct {
	defaults storage.Credentials

	// newClient is swapped out in tests.
	newClient func(storage.Credentials) (*storage.Client, error)
}

// NewStorageHandler builds a handler with server-side default credentials,
// typically sourced from config or environment.
func NewStorageHandler(defaults storage.Credentials) *StorageHandler {
	if defaults.Bucket == "" {
		defaults.Bucket = defaultSyncBucket
	}
	return &StorageHandler{
		defaults:  defaults,
		newClient: storage.NewClient,
	}
}

type syncUploadRequest struct {
	Sessions      []store.Session        `json:"sessions"`
	StorageConfig *store.StorageSettings `json:"storageConfig"`
}

// Fetch serves GET /api/storage/sync, returning the remote session set. A
// missing object reads as an empty list.
func (h *StorageHandler) Fetch(c *gin.Context) {
	creds, ok := h.resolveCredentials(c.Query("creds"), nil)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "R2 storage not configured. Provide credentials in settings or configure the server.",
		})
		return
	}

	client, err := h.newClient(creds)
	if err != nil {
		log.Errorf("storage client init failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch sessions"})
		return
	}

	sessions, errLoad := client.LoadSessions(c.Request.Context())
	if errLoad != nil {
		log.Errorf("failed to load remote sessions: %v", errLoad)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// Upload serves POST /api/storage/sync, replacing the remote session set.
func (h *StorageHandler) Upload(c *gin.Context) {
	var req syncUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	creds, ok := h.resolveCredentials(c.Query("creds"), req.StorageConfig)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "R2 storage not configured. Provide credentials in settings or configure the server.",
		})
		return
	}

	client, err := h.newClient(creds)
	if err != nil {
		log.Errorf("storage client init failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upload sessions"})
		return
	}

	if errSave := client.SaveSessions(c.Request.Context(), req.Sessions); errSave != nil {
		log.Errorf("failed to upload sessions: %v", errSave)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upload sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "timestamp": time.Now().UnixMilli()})
}

// resolveCredentials picks credentials by priority: base64 JSON from the
// creds query param, then the request body's storageConfig, then the
// server defaults.
func (h *StorageHandler) resolveCredentials(encoded string, settings *store.StorageSettings) (storage.Credentials, bool) {
	if encoded != "" {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err == nil {
			var creds storage.Credentials
			if errUnmarshal := json.Unmarshal(raw, &creds); errUnmarshal == nil {
				if creds.Bucket == "" {
					creds.Bucket = defaultSyncBucket
				}
				if creds.Complete() {
					return creds, true
				}
			}
		}
		log.Warnf("ignoring malformed creds query parameter")
	}

	if settings != nil {
		creds := storage.Credentials{
			Endpoint:        settings.Endpoint,
			Bucket:          settings.Bucket,
			AccessKeyID:     settings.AccessKeyID,
			SecretAccessKey: settings.SecretAccessKey,
		}
		if creds.Bucket == "" {
			creds.Bucket = defaultSyncBucket
		}
		if creds.Complete() {
			return creds, true
		}
	}

	if h.defaults.Complete() {
		return h.defaults, true
	}
	return storage.Credentials{}, false
}
