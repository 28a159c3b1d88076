package auth

import (
	"errors"
	"fmt"
	"time"
)

const (
	// AmazonTokenURL is the Login With Amazon token endpoint.
	AmazonTokenURL = "https://api.amazon.com/auth/o2/token"
	// MercadoLivreTokenURL is the Mercado Livre OAuth token endpoint.
	MercadoLivreTokenURL = "https://api.mercadolibre.com/oauth/token"

	// DefaultSafetyMargin is subtracted from a token's expiry before it is considered stale.
	DefaultSafetyMargin = 60 * time.Second
)

var (
	// ErrFatalAuth marks a refresh credential the marketplace no longer accepts.
	// It needs operator action and must never be retried automatically.
	ErrFatalAuth = errors.New("refresh credential rejected")
	// ErrTokenExchange is a non-fatal token endpoint failure (5xx, network, bad payload).
	ErrTokenExchange = errors.New("token exchange failed")
)

// FatalAuthError carries the OAuth error the token endpoint answered with.
type FatalAuthError struct {
	Marketplace string
	Status      int
	Code        string
	Description string
}

func (e *FatalAuthError) Error() string {
	msg := fmt.Sprintf("%s auth: %s (status %d)", e.Marketplace, e.Code, e.Status)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

func (e *FatalAuthError) Unwrap() error { return ErrFatalAuth }

// AccessCredential is a short-lived bearer token plus the refresh token it came from.
// It only ever lives in memory.
type AccessCredential struct {
	Token        string
	ExpiresAt    time.Time
	RefreshToken string
}

// ValidAt reports whether the token is still usable at t given margin.
func (c AccessCredential) ValidAt(t time.Time, margin time.Duration) bool {
	return c.Token != "" && t.Before(c.ExpiresAt.Add(-margin))
}

// Grant is a successful token endpoint answer.
type Grant struct {
	AccessToken  string
	RefreshToken string // set only when the marketplace rotated it
	ExpiresIn    time.Duration
}

// tokenResponse is the wire shape shared by LWA and Mercado Livre.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}
