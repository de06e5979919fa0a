package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/chatflow-app/chatflow/internal/auth"
	agauth "github.com/chatflow-app/chatflow/internal/auth/antigravity"
	geminiauth "github.com/chatflow-app/chatflow/internal/auth/gemini"
)

// authCodeRequest is the body of the code-exchange endpoints.
type authCodeRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

// AuthHandler exchanges OAuth authorization codes for refresh tokens.
type AuthHandler struct {
	gemini      *geminiauth.Manager
	antigravity *agauth.Manager
}

// NewAuthHandler builds the handler around both providers' managers.
func NewAuthHandler(gm *geminiauth.Manager, am *agauth.Manager) *AuthHandler {
	return &AuthHandler{gemini: gm, antigravity: am}
}

// GeminiExchange serves POST /api/gemini/auth.
func (h *AuthHandler) GeminiExchange(c *gin.Context) {
	var req authCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Code is required"})
		return
	}

	token, err := h.gemini.ExchangeCode(c.Request.Context(), req.Code, req.RedirectURI)
	if err != nil {
		log.Errorf("Gemini token exchange failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if token.RefreshToken == "" {
		// Without prompt=consent Google may omit the refresh token on
		// repeated authorizations.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "No refresh token returned. Please try revoking access and authorizing again."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"refresh_token": token.RefreshToken})
}

// AntigravityExchange serves POST /api/antigravity/auth. On success the
// refresh token is also persisted locally for later sessions.
func (h *AuthHandler) AntigravityExchange(c *gin.Context) {
	var req authCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Authorization code is required"})
		return
	}

	token, err := h.antigravity.ExchangeCode(c.Request.Context(), req.Code, req.RedirectURI)
	if err != nil {
		log.Errorf("Antigravity token exchange failed: %v", err)
		var refreshErr *auth.TokenRefreshError
		if errors.As(err, &refreshErr) {
			c.JSON(refreshErr.StatusCode, gin.H{"error": "Token exchange failed: " + refreshErr.Body})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if token.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":        "No refresh token received. This may happen if you have previously authorized this app. Please revoke access in Google Account settings and try again.",
			"access_token": token.AccessToken,
		})
		return
	}

	h.antigravity.SaveRefreshToken(token.RefreshToken)
	c.JSON(http.StatusOK, gin.H{
		"refresh_token": token.RefreshToken,
		"access_token":  token.AccessToken,
		"expires_in":    token.ExpiresIn,
	})
}
