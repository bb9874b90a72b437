package provider

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/gitshone/ht-cal-01-sub000/internal/model"
)

// Sentinel errors shared across adapters.  Handling policy:
//
//	ErrAuthExpired   – the access token was rejected; the caller refreshes
//	                   once and retries before giving up.
//	ErrReauthRequired – the refresh token is dead; the integration must be
//	                   deactivated and the user sent back through OAuth.
//	ErrQuotaExceeded – the provider rate-limited us; surfaced to the user
//	                   as retry-later, never auto-retried within one job.
var (
	ErrAuthExpired    = errors.New("provider access token expired")
	ErrReauthRequired = errors.New("provider re-authentication required")
	ErrQuotaExceeded  = errors.New("provider rate limit exceeded")
)

// AuthError reports a failed OAuth code exchange (invalid, expired or
// already-used authorization code).
type AuthError struct {
	Provider model.ProviderType
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s auth failed: %s", e.Provider, e.Reason)
}

// APIError wraps any other non-2xx provider response, carrying the
// provider's own status code and message for user display.
type APIError struct {
	Provider   model.ProviderType
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// mapOAuthError translates oauth2 token-endpoint failures into the shared
// taxonomy.  During a code exchange a rejection means the code was bad
// (*AuthError); during a refresh it means the refresh token is dead
// (ErrReauthRequired).
func mapOAuthError(p model.ProviderType, err error, refreshing bool) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err
	}
	if re.Response != nil && re.Response.StatusCode == 429 {
		return ErrQuotaExceeded
	}
	if refreshing {
		return ErrReauthRequired
	}
	reason := re.ErrorCode
	if re.ErrorDescription != "" {
		reason = re.ErrorDescription
	}
	if reason == "" {
		reason = string(re.Body)
	}
	return &AuthError{Provider: p, Reason: reason}
}
