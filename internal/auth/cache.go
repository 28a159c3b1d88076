package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/internal/metrics"
	"github.com/Checker-Finance/marketplace-sync/internal/secrets"
	"github.com/Checker-Finance/marketplace-sync/pkg/utils"
)

// fallbackLifetime applies when the token endpoint omits expires_in.
const fallbackLifetime = time.Hour

// RefreshTokenSink persists a rotated refresh token so a restart does not reuse a
// revoked one.
type RefreshTokenSink interface {
	SaveRefreshToken(ctx context.Context, marketplace, token string) error
}

// Option configures a Cache.
type Option func(*Cache)

// WithSafetyMargin overrides DefaultSafetyMargin.
func WithSafetyMargin(d time.Duration) Option {
	return func(c *Cache) { c.margin = d }
}

// WithRefreshTokenSink registers where rotated refresh tokens are written.
func WithRefreshTokenSink(s RefreshTokenSink) Option {
	return func(c *Cache) { c.sink = s }
}

// Cache holds the one live access credential of a marketplace integration.
// Concurrent callers share a single token exchange.
type Cache struct {
	marketplace string
	logger      *zap.Logger
	exchanger   Exchanger
	source      secrets.Source
	sink        RefreshTokenSink
	margin      time.Duration
	now         func() time.Time

	mu           sync.Mutex
	cred         AccessCredential
	rotatedToken string
	fatal        error
}

// NewCache creates a credential cache for marketplace.
func NewCache(marketplace string, logger *zap.Logger, exchanger Exchanger, source secrets.Source, opts ...Option) *Cache {
	c := &Cache{
		marketplace: marketplace,
		logger:      logger,
		exchanger:   exchanger,
		source:      source,
		margin:      DefaultSafetyMargin,
		now:         time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Marketplace returns the integration name.
func (c *Cache) Marketplace() string { return c.marketplace }

// AccessToken returns the cached token, exchanging the refresh token when none is
// cached or the cached one is within the safety margin of expiry.
// A rejected refresh credential is remembered: later calls fail fast with the same
// *FatalAuthError until Reset.
func (c *Cache) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fatal != nil {
		return "", c.fatal
	}
	if c.cred.ValidAt(c.now(), c.margin) {
		return c.cred.Token, nil
	}

	creds, err := c.source.Credentials(ctx, c.marketplace)
	if err != nil {
		metrics.IncTokenRefresh(c.marketplace, "error")
		return "", fmt.Errorf("%s auth: load credentials: %w", c.marketplace, err)
	}
	if c.rotatedToken != "" {
		creds.RefreshToken = c.rotatedToken
	}

	grant, err := c.exchanger.Exchange(ctx, creds)
	if err != nil {
		var fatal *FatalAuthError
		if errors.As(err, &fatal) {
			c.fatal = err
			metrics.IncTokenRefresh(c.marketplace, "fatal")
			c.logger.Error("auth.refresh_credential_rejected",
				zap.String("marketplace", c.marketplace),
				zap.String("code", fatal.Code),
				zap.Int("status", fatal.Status))
			return "", err
		}
		metrics.IncTokenRefresh(c.marketplace, "error")
		return "", fmt.Errorf("%s auth: %w", c.marketplace, err)
	}

	lifetime := grant.ExpiresIn
	if lifetime <= 0 {
		lifetime = fallbackLifetime
	}
	c.cred = AccessCredential{
		Token:        grant.AccessToken,
		ExpiresAt:    c.now().Add(lifetime),
		RefreshToken: creds.RefreshToken,
	}
	metrics.IncTokenRefresh(c.marketplace, "ok")

	if grant.RefreshToken != "" && grant.RefreshToken != creds.RefreshToken {
		c.rotatedToken = grant.RefreshToken
		c.cred.RefreshToken = grant.RefreshToken
		c.persistRotation(ctx, grant.RefreshToken)
	}

	c.logger.Info("auth.token_refreshed",
		zap.String("marketplace", c.marketplace),
		zap.Duration("expires_in", lifetime),
		zap.String("token", utils.MaskToken(grant.AccessToken)))

	return c.cred.Token, nil
}

func (c *Cache) persistRotation(ctx context.Context, token string) {
	if c.sink == nil {
		return
	}
	if err := c.sink.SaveRefreshToken(ctx, c.marketplace, token); err != nil {
		// the in-memory copy keeps this process working; the next restart would not
		metrics.IncError("auth", "rotation_persist_failed")
		c.logger.Error("auth.refresh_token_persist_failed",
			zap.String("marketplace", c.marketplace),
			zap.Error(err))
		return
	}
	c.logger.Info("auth.refresh_token_rotated", zap.String("marketplace", c.marketplace))
}

// Invalidate drops the cached access token, e.g. after the upstream answered 401.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.cred.Token = ""
	c.cred.ExpiresAt = time.Time{}
	c.mu.Unlock()
}

// Reset clears a remembered fatal error after an operator fixed the credentials.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.fatal = nil
	c.rotatedToken = ""
	c.cred = AccessCredential{}
	c.mu.Unlock()
}

// Expiry is the absolute expiry of the cached token; zero when none is cached.
func (c *Cache) Expiry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cred.ExpiresAt
}

// Fresh reports whether the cached token outlives the safety margin.
func (c *Cache) Fresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cred.ValidAt(c.now(), c.margin)
}

// EnsureFresh exchanges the refresh token when the cached token is missing or inside
// the safety margin. Called between batches so a resumed run never works with a token
// that expired while it was paused.
func (c *Cache) EnsureFresh(ctx context.Context) error {
	if c.Fresh() {
		return nil
	}
	if exp := c.Expiry(); !exp.IsZero() {
		c.logger.Info("auth.token_expiring",
			zap.String("marketplace", c.marketplace),
			zap.Time("expires_at", exp))
	}
	_, err := c.AccessToken(ctx)
	return err
}
