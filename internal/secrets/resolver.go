package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	pkgsecrets "github.com/Checker-Finance/marketplace-sync/pkg/secrets"
)

// ErrMissingCredentials is returned when a marketplace has no usable credential set.
var ErrMissingCredentials = errors.New("missing marketplace credentials")

// Credentials is the long-lived credential set for one marketplace integration.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	SellerID     string
}

// Validate checks the fields every refresh-token grant needs.
func (c Credentials) Validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if c.RefreshToken == "" {
		missing = append(missing, "refresh_token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// Source yields credentials per marketplace ("amazon", "mercadolivre").
type Source interface {
	Credentials(ctx context.Context, marketplace string) (Credentials, error)
}

// StaticSource serves credentials loaded from the environment.
type StaticSource map[string]Credentials

// Credentials implements Source.
func (s StaticSource) Credentials(_ context.Context, marketplace string) (Credentials, error) {
	c, ok := s[marketplace]
	if !ok {
		return Credentials{}, fmt.Errorf("%w: %s", ErrMissingCredentials, marketplace)
	}
	return c, c.Validate()
}

// AWSResolver resolves marketplace credentials from AWS Secrets Manager and caches them
// locally. names maps a marketplace to its secret name.
type AWSResolver struct {
	logger   *zap.Logger
	names    map[string]string
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[Credentials]
}

// NewAWSResolver constructs a resolver over provider.
func NewAWSResolver(
	logger *zap.Logger,
	names map[string]string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[Credentials],
) *AWSResolver {
	return &AWSResolver{
		logger:   logger,
		names:    names,
		provider: provider,
		cache:    cache,
	}
}

// Credentials fetches or returns cached credentials for marketplace.
func (r *AWSResolver) Credentials(ctx context.Context, marketplace string) (Credentials, error) {
	name, ok := r.names[marketplace]
	if !ok {
		return Credentials{}, fmt.Errorf("%w: no secret configured for %s", ErrMissingCredentials, marketplace)
	}

	return r.cache.GetOrLoad(ctx, name, func(ctx context.Context) (Credentials, error) {
		raw, err := r.provider.GetSecret(ctx, name)
		if err != nil {
			r.logger.Warn("aws.secret_fetch_failed",
				zap.String("key", name),
				zap.Error(err))
			return Credentials{}, fmt.Errorf("resolve credentials for %q: %w", marketplace, err)
		}

		c := parseCredentials(raw)
		if err := c.Validate(); err != nil {
			return Credentials{}, fmt.Errorf("parse secret %q: %w", name, err)
		}
		r.logger.Info("aws.credentials_resolved", zap.String("marketplace", marketplace))
		return c, nil
	})
}

// SaveRefreshToken writes a rotated refresh token back into the marketplace secret,
// keeping every other key, and drops the cached copy.
func (r *AWSResolver) SaveRefreshToken(ctx context.Context, marketplace, token string) error {
	name, ok := r.names[marketplace]
	if !ok {
		return fmt.Errorf("%w: no secret configured for %s", ErrMissingCredentials, marketplace)
	}

	raw, err := r.provider.GetSecret(ctx, name)
	if err != nil {
		return fmt.Errorf("load secret %q for rotation: %w", name, err)
	}
	raw["refresh_token"] = token
	if err := r.provider.PutSecret(ctx, name, raw); err != nil {
		return err
	}
	r.cache.Bust(name)

	r.logger.Info("aws.refresh_token_rotated", zap.String("marketplace", marketplace))
	return nil
}

// parseCredentials accepts both snake_case keys and the env-style names
// (LWA_CLIENT_ID, ML_CLIENT_ID, ...) that operators tend to paste into secrets.
func parseCredentials(raw map[string]string) Credentials {
	pick := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(raw[k]); v != "" {
				return v
			}
		}
		return ""
	}
	return Credentials{
		ClientID:     pick("client_id", "LWA_CLIENT_ID", "ML_CLIENT_ID"),
		ClientSecret: pick("client_secret", "LWA_CLIENT_SECRET", "ML_CLIENT_SECRET"),
		RefreshToken: pick("refresh_token", "LWA_REFRESH_TOKEN", "ML_REFRESH_TOKEN"),
		SellerID:     pick("seller_id", "ML_SELLER_ID", "ML_USER_ID"),
	}
}
