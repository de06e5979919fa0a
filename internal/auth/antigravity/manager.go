// Package antigravity manages OAuth access tokens for the Antigravity
// backend. Antigravity uses its own OAuth client and scope set, distinct
// from the Gemini CLI credentials, and keeps its refresh token in a separate
// file under ~/.antigravity.
package antigravity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/chatflow-app/chatflow/internal/auth"
)

// OAuthScopes is the scope set requested during the Antigravity login flow.
var OAuthScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/cclog",
	"https://www.googleapis.com/auth/experimentsandconfigs",
}

const (
	refreshSkew      = 5 * time.Minute
	defaultExpirySec = 3600
)

type tokenCache struct {
	accessToken string
	expiresAt   time.Time
}

type tokenFile struct {
	RefreshToken string `json:"refresh_token"`
	AccessToken  string `json:"access_token,omitempty"`
}

// Manager resolves, caches and refreshes the Antigravity access token. The
// cache holds a single token; Antigravity sessions are single-identity.
type Manager struct {
	mu    sync.Mutex
	cache *tokenCache

	clientID     string
	clientSecret string
	tokenFile    string

	httpClient *http.Client
	now        func() time.Time
}

// NewManager builds a manager from the ANTIGRAVITY_CLIENT_ID and
// ANTIGRAVITY_CLIENT_SECRET environment variables.
func NewManager() *Manager {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Warnf("failed to resolve home directory: %v", err)
	}
	return &Manager{
		clientID:     os.Getenv("ANTIGRAVITY_CLIENT_ID"),
		clientSecret: os.Getenv("ANTIGRAVITY_CLIENT_SECRET"),
		tokenFile:    filepath.Join(home, ".antigravity", "tokens.json"),
		httpClient:   auth.DefaultHTTPClient,
		now:          time.Now,
	}
}

// SetCredentials overrides the OAuth client credentials.
func (m *Manager) SetCredentials(clientID, clientSecret string) {
	if clientID != "" {
		m.clientID = clientID
	}
	if clientSecret != "" {
		m.clientSecret = clientSecret
	}
}

func (m *Manager) resolveRefreshToken(userToken string) string {
	if userToken != "" {
		return userToken
	}
	if env := os.Getenv("ANTIGRAVITY_REFRESH_TOKEN"); env != "" {
		return env
	}
	data, err := os.ReadFile(m.tokenFile)
	if err != nil {
		return ""
	}
	var tf tokenFile
	if errUnmarshal := json.Unmarshal(data, &tf); errUnmarshal != nil {
		log.Warnf("failed to parse Antigravity token file: %v", errUnmarshal)
		return ""
	}
	return tf.RefreshToken
}

// GetAccessToken returns a valid access token, refreshing when the cached
// one is missing or within the safety window of expiry.
func (m *Manager) GetAccessToken(ctx context.Context, userToken string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache != nil && m.cache.expiresAt.Sub(m.now()) > refreshSkew {
		return m.cache.accessToken, nil
	}

	refreshToken := m.resolveRefreshToken(userToken)
	if refreshToken == "" {
		return "", fmt.Errorf("no Antigravity refresh token available, authenticate via settings: %w", auth.ErrNoRefreshToken)
	}
	if m.clientID == "" || m.clientSecret == "" {
		return "", fmt.Errorf("Antigravity OAuth credentials are not configured")
	}

	log.Debug("refreshing Antigravity access token")
	resp, err := auth.Refresh(ctx, m.httpClient, "Antigravity", m.clientID, m.clientSecret, refreshToken)
	if err != nil {
		return "", err
	}

	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpirySec
	}
	m.cache = &tokenCache{
		accessToken: resp.AccessToken,
		expiresAt:   m.now().Add(time.Duration(expiresIn) * time.Second),
	}
	return m.cache.accessToken, nil
}

// ExchangeCode trades an OAuth authorization code for tokens using the
// manager's client credentials.
func (m *Manager) ExchangeCode(ctx context.Context, code, redirectURI string) (*auth.TokenResponse, error) {
	if redirectURI == "" {
		redirectURI = "http://localhost"
	}
	return auth.ExchangeCode(ctx, m.httpClient, "Antigravity", m.clientID, m.clientSecret, code, redirectURI)
}

// Credentials exposes the OAuth client credentials for the login flow.
func (m *Manager) Credentials() (clientID, clientSecret string) {
	return m.clientID, m.clientSecret
}

// SaveRefreshToken persists the refresh token for later sessions. Failures
// are logged, not returned; persistence is a convenience.
func (m *Manager) SaveRefreshToken(refreshToken string) {
	dir := filepath.Dir(m.tokenFile)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Errorf("failed to create Antigravity token directory: %v", err)
		return
	}
	data, err := json.MarshalIndent(tokenFile{RefreshToken: refreshToken}, "", "  ")
	if err != nil {
		log.Errorf("failed to marshal Antigravity refresh token: %v", err)
		return
	}
	if errWrite := os.WriteFile(m.tokenFile, data, 0o600); errWrite != nil {
		log.Errorf("failed to save Antigravity refresh token: %v", errWrite)
	}
}

// ClearCache drops the cached access token, forcing a refresh on next use.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = nil
}
