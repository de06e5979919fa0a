package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// CallbackPort is the fixed localhost port registered with the OAuth client
// for the login redirect.
const CallbackPort = 51121

const loginTimeout = 5 * time.Minute

// googleAuthURL is Google's OAuth2 authorization endpoint.
const googleAuthURL = "https://accounts.google.com/o/oauth2/v2/auth"

// LoginOptions configures an interactive OAuth login.
type LoginOptions struct {
	Provider     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// NoBrowser prints the authorization URL instead of opening a browser.
	NoBrowser bool

	// Port overrides CallbackPort, mainly for tests.
	Port int
}

// RunLoginFlow walks the user through the OAuth consent screen and exchanges
// the returned authorization code for tokens. It blocks until the callback
// arrives, the context is cancelled, or the login times out.
func RunLoginFlow(ctx context.Context, opts LoginOptions) (*TokenResponse, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, fmt.Errorf("%s OAuth client credentials are not configured", opts.Provider)
	}
	port := opts.Port
	if port == 0 {
		port = CallbackPort
	}
	redirectURI := fmt.Sprintf("http://localhost:%d/oauth2/callback", port)

	cfg := oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       opts.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  googleAuthURL,
			TokenURL: TokenEndpoint,
		},
	}
	state := uuid.NewString()
	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))

	type callbackResult struct {
		code string
		err  error
	}
	results := make(chan callbackResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/callback", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if errParam := query.Get("error"); errParam != "" {
			http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
			results <- callbackResult{err: fmt.Errorf("authorization denied: %s", errParam)}
			return
		}
		if query.Get("state") != state {
			http.Error(w, "State mismatch", http.StatusBadRequest)
			results <- callbackResult{err: errors.New("oauth state mismatch")}
			return
		}
		code := query.Get("code")
		if code == "" {
			http.Error(w, "Missing authorization code", http.StatusBadRequest)
			results <- callbackResult{err: errors.New("missing authorization code")}
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, "<html><body><h2>Login complete.</h2><p>You can close this window and return to ChatFlow.</p></body></html>")
		results <- callbackResult{code: code}
	})

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return nil, fmt.Errorf("start callback server on port %d: %w", port, err)
	}
	server := &http.Server{Handler: mux}
	go func() {
		if errServe := server.Serve(listener); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.Errorf("callback server error: %v", errServe)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			log.Errorf("failed to shut down callback server: %v", errShutdown)
		}
	}()

	if opts.NoBrowser {
		log.Infof("open this URL in your browser to authorize %s:\n%s", opts.Provider, authURL)
	} else {
		log.Infof("opening browser for %s authorization", opts.Provider)
		if errOpen := browser.OpenURL(authURL); errOpen != nil {
			log.Warnf("failed to open browser, visit this URL manually:\n%s", authURL)
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(loginTimeout):
		return nil, errors.New("login timed out waiting for the OAuth callback")
	case result := <-results:
		if result.err != nil {
			return nil, result.err
		}
		token, errExchange := ExchangeCode(ctx, nil, opts.Provider, opts.ClientID, opts.ClientSecret, result.code, redirectURI)
		if errExchange != nil {
			return nil, errExchange
		}
		if token.RefreshToken == "" {
			return nil, errors.New("no refresh token returned, revoke the app's access and authorize again")
		}
		return token, nil
	}
}
