package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// TokenEndpoint is Google's OAuth2 token endpoint, used for both the
// refresh-token grant and the authorization-code exchange.
const TokenEndpoint = "https://oauth2.googleapis.com/token"

// DefaultHTTPClient is used by the token managers unless one is injected.
var DefaultHTTPClient = &http.Client{Timeout: 30 * time.Second}

// TokenResponse is the token endpoint's JSON reply.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenManager yields a valid access token for one provider, refreshing it
// when within the expiry safety window. userToken optionally carries a
// caller-supplied refresh token which takes priority over the environment
// and the local token file.
type TokenManager interface {
	GetAccessToken(ctx context.Context, userToken string) (string, error)
}

// Refresh exchanges a refresh token for a fresh access token.
func Refresh(ctx context.Context, client *http.Client, provider, clientID, clientSecret, refreshToken string) (*TokenResponse, error) {
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}
	return postTokenForm(ctx, client, provider, form)
}

// ExchangeCode exchanges an OAuth authorization code for tokens.
func ExchangeCode(ctx context.Context, client *http.Client, provider, clientID, clientSecret, code, redirectURI string) (*TokenResponse, error) {
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"grant_type":    {"authorization_code"},
	}
	return postTokenForm(ctx, client, provider, form)
}

func postTokenForm(ctx context.Context, client *http.Client, provider string, form url.Values) (*TokenResponse, error) {
	if client == nil {
		client = DefaultHTTPClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, errDo := client.Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("call token endpoint: %w", errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("failed to close token response body: %v", errClose)
		}
	}()

	body, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return nil, fmt.Errorf("read token response: %w", errRead)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TokenRefreshError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var token TokenResponse
	if errUnmarshal := json.Unmarshal(body, &token); errUnmarshal != nil {
		return nil, fmt.Errorf("parse token response: %w", errUnmarshal)
	}
	return &token, nil
}
