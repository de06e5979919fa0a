// Package api provides the HTTP API server for ChatFlow. It wires the Gin
// engine, middleware, and the chat, auth, models, storage, and session
// handlers.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/chatflow-app/chatflow/internal/api/handlers"
	"github.com/chatflow-app/chatflow/internal/api/middleware"
	agauth "github.com/chatflow-app/chatflow/internal/auth/antigravity"
	geminiauth "github.com/chatflow-app/chatflow/internal/auth/gemini"
	"github.com/chatflow-app/chatflow/internal/config"
	"github.com/chatflow-app/chatflow/internal/logging"
	"github.com/chatflow-app/chatflow/internal/storage"
	"github.com/chatflow-app/chatflow/internal/store"
)

// Server represents the main API server.
type Server struct {
	engine *gin.Engine
	server *http.Server
	cfg    *config.Config
}

// NewServer creates and initializes a new API server instance with all
// routes and middleware attached.
func NewServer(cfg *config.Config, st *store.Store, geminiTokens *geminiauth.Manager, antigravityTokens *agauth.Manager) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(middleware.PrometheusMiddleware())
	engine.Use(corsMiddleware())

	middleware.RegisterMetrics()

	s := &Server{
		engine: engine,
		cfg:    cfg,
	}

	chatHandler := handlers.NewChatHandler(geminiTokens, antigravityTokens)
	authHandler := handlers.NewAuthHandler(geminiTokens, antigravityTokens)
	modelsHandler := handlers.NewModelsHandler(geminiTokens, antigravityTokens)
	storageHandler := handlers.NewStorageHandler(storage.Credentials{
		Endpoint:        cfg.Storage.Endpoint,
		Bucket:          cfg.Storage.Bucket,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
	})
	sessionsHandler := handlers.NewSessionsHandler(st)

	apiGroup := engine.Group("/api")
	{
		apiGroup.POST("/chat", chatHandler.Handle)

		apiGroup.POST("/gemini/auth", authHandler.GeminiExchange)
		apiGroup.POST("/antigravity/auth", authHandler.AntigravityExchange)

		apiGroup.GET("/gemini/models", modelsHandler.GeminiModels)
		apiGroup.GET("/antigravity/models", modelsHandler.AntigravityModels)

		apiGroup.GET("/storage/sync", storageHandler.Fetch)
		apiGroup.POST("/storage/sync", storageHandler.Upload)

		apiGroup.GET("/sessions", sessionsHandler.List)
		apiGroup.POST("/sessions", sessionsHandler.Create)
		apiGroup.DELETE("/sessions/:id", sessionsHandler.Delete)
		apiGroup.POST("/sessions/:id/activate", sessionsHandler.Activate)

		apiGroup.POST("/nodes/:id/branch", sessionsHandler.Branch)
		apiGroup.DELETE("/nodes/:id", sessionsHandler.RemoveNode)
		apiGroup.PATCH("/nodes/:id", sessionsHandler.PatchNode)
	}

	engine.GET("/metrics", middleware.MetricsHandler())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "port": cfg.Port})
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: engine,
	}

	return s
}

// Engine exposes the underlying Gin engine, mainly for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start begins listening for and serving HTTP requests. It blocks until the
// server stops.
func (s *Server) Start() error {
	if s == nil || s.server == nil {
		return fmt.Errorf("failed to start HTTP server: server not initialized")
	}
	log.Debugf("Starting API server on %s", s.server.Addr)
	if errServe := s.server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %v", errServe)
	}
	return nil
}

// Stop gracefully shuts down the API server without interrupting any
// active connections.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("Stopping API server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %v", err)
	}
	log.Debug("API server stopped")
	return nil
}

// corsMiddleware adds permissive CORS headers so the browser UI can call
// the API from another origin during development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
