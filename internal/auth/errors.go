// Package auth provides the OAuth plumbing shared by the Gemini and
// Antigravity token managers: the Google token endpoint client used for
// refresh-token grants and authorization-code exchange, the common error
// types, and the interactive login flow.
package auth

import (
	"errors"
	"fmt"
)

// ErrNoRefreshToken indicates that no refresh token could be resolved from
// the request, the environment, or the local token file. Callers must
// surface this as a configuration problem, never retry it.
var ErrNoRefreshToken = errors.New("no refresh token available")

// TokenRefreshError reports a non-2xx response from the OAuth token
// endpoint. It is terminal; the refresh is never retried automatically.
type TokenRefreshError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("failed to refresh %s token: %d %s", e.Provider, e.StatusCode, e.Body)
}
