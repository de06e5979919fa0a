// Package gemini manages OAuth access tokens for the Gemini CLI backend.
// Access tokens are cached in memory per refresh token and refreshed through
// Google's token endpoint when they come within the expiry safety window.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"github.com/chatflow-app/chatflow/internal/auth"
)

// refreshSkew is the safety window before expiry within which a token is
// treated as stale and refreshed.
const refreshSkew = 5 * time.Minute

// defaultExpirySec is assumed when the token response omits expires_in.
const defaultExpirySec = 3600

const tokenFileName = "tokens.json"

// TokenData is the cached and file-persisted token record.
type TokenData struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiryDate   int64  `json:"expiry_date"` // epoch millis
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`
}

func (t TokenData) validAt(now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	return t.ExpiryDate == 0 || time.UnixMilli(t.ExpiryDate).Sub(now) >= refreshSkew
}

// Manager resolves, caches and refreshes Gemini access tokens. Tokens are
// cached per refresh token so multiple identities can be served at once.
type Manager struct {
	clientID     string
	clientSecret string
	tokenFile    string
	devMode      bool

	cache      *gocache.Cache
	httpClient *http.Client
	now        func() time.Time
}

// NewManager builds a manager from the GOOGLE_CLIENT_ID and
// GOOGLE_CLIENT_SECRET environment variables. Tokens are persisted under
// ~/.gemini/tokens.json, but only in the development execution mode.
func NewManager() *Manager {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Warnf("failed to resolve home directory: %v", err)
	}
	return &Manager{
		clientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		clientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		tokenFile:    filepath.Join(home, ".gemini", tokenFileName),
		devMode:      os.Getenv("CHATFLOW_ENV") == "development",
		cache:        gocache.New(gocache.NoExpiration, 10*time.Minute),
		httpClient:   auth.DefaultHTTPClient,
		now:          time.Now,
	}
}

// SetCredentials overrides the OAuth client credentials, e.g. from the
// configuration file.
func (m *Manager) SetCredentials(clientID, clientSecret string) {
	if clientID != "" {
		m.clientID = clientID
	}
	if clientSecret != "" {
		m.clientSecret = clientSecret
	}
}

// resolveRefreshToken picks the effective refresh token. Priority: caller
// supplied, then environment, then the local token file.
func (m *Manager) resolveRefreshToken(userToken string) (token string, userProvided bool) {
	if userToken != "" {
		return userToken, true
	}
	if env := os.Getenv("GEMINI_REFRESH_TOKEN"); env != "" {
		return env, false
	}
	if fileData, ok := m.loadFromFile(); ok && fileData.RefreshToken != "" {
		return fileData.RefreshToken, false
	}
	return "", false
}

// GetAccessToken returns a valid access token for the resolved refresh
// token, refreshing through the OAuth endpoint when the cached token is
// missing or within the safety window of expiry.
func (m *Manager) GetAccessToken(ctx context.Context, userToken string) (string, error) {
	refreshToken, userProvided := m.resolveRefreshToken(userToken)
	if refreshToken == "" {
		return "", fmt.Errorf("no Gemini refresh token found in environment or request: %w", auth.ErrNoRefreshToken)
	}

	if cached, ok := m.cache.Get(refreshToken); ok {
		if td, okCast := cached.(TokenData); okCast && td.validAt(m.now()) {
			return td.AccessToken, nil
		}
	} else if !userProvided {
		// Only the default/env workflow may fall back to the token file;
		// caller-supplied tokens rely on the in-memory cache alone.
		if fileData, okFile := m.loadFromFile(); okFile && fileData.RefreshToken == refreshToken {
			m.cache.Set(refreshToken, fileData, gocache.NoExpiration)
			if fileData.validAt(m.now()) {
				return fileData.AccessToken, nil
			}
		}
	}

	log.Debug("refreshing Gemini access token")
	resp, err := auth.Refresh(ctx, m.httpClient, "Gemini", m.clientID, m.clientSecret, refreshToken)
	if err != nil {
		return "", err
	}

	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpirySec
	}
	td := TokenData{
		AccessToken: resp.AccessToken,
		// Google may not return a new refresh token on refresh.
		RefreshToken: resp.RefreshToken,
		ExpiryDate:   m.now().Add(time.Duration(expiresIn) * time.Second).UnixMilli(),
		TokenType:    resp.TokenType,
		Scope:        resp.Scope,
	}
	if td.RefreshToken == "" {
		td.RefreshToken = refreshToken
	}
	if td.TokenType == "" {
		td.TokenType = "Bearer"
	}

	m.cache.Set(refreshToken, td, gocache.NoExpiration)
	if !userProvided && m.devMode {
		m.saveToFile(td)
	}
	return td.AccessToken, nil
}

// ExchangeCode trades an OAuth authorization code for tokens using the
// manager's client credentials.
func (m *Manager) ExchangeCode(ctx context.Context, code, redirectURI string) (*auth.TokenResponse, error) {
	if redirectURI == "" {
		redirectURI = "http://localhost"
	}
	return auth.ExchangeCode(ctx, m.httpClient, "Gemini", m.clientID, m.clientSecret, code, redirectURI)
}

// Credentials exposes the OAuth client credentials for the login flow.
func (m *Manager) Credentials() (clientID, clientSecret string) {
	return m.clientID, m.clientSecret
}

// SaveTokens persists tokens obtained from an interactive login flow to the
// token file.
func (m *Manager) SaveTokens(tr *auth.TokenResponse) {
	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpirySec
	}
	td := TokenData{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiryDate:   m.now().Add(time.Duration(expiresIn) * time.Second).UnixMilli(),
		TokenType:    tr.TokenType,
		Scope:        tr.Scope,
	}
	if td.TokenType == "" {
		td.TokenType = "Bearer"
	}
	m.saveToFile(td)
}

func (m *Manager) loadFromFile() (TokenData, bool) {
	if m.tokenFile == "" {
		return TokenData{}, false
	}
	data, err := os.ReadFile(m.tokenFile)
	if err != nil {
		return TokenData{}, false
	}
	var td TokenData
	if errUnmarshal := json.Unmarshal(data, &td); errUnmarshal != nil {
		return TokenData{}, false
	}
	return td, true
}

func (m *Manager) saveToFile(td TokenData) {
	dir := filepath.Dir(m.tokenFile)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Errorf("failed to create Gemini token directory: %v", err)
		return
	}
	data, err := json.MarshalIndent(td, "", "  ")
	if err != nil {
		log.Errorf("failed to marshal Gemini tokens: %v", err)
		return
	}
	if errWrite := os.WriteFile(m.tokenFile, data, 0o600); errWrite != nil {
		log.Errorf("failed to save Gemini tokens to file: %v", errWrite)
	}
}
