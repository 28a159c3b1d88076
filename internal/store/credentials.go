package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/internal/secrets"
)

// CredentialStore keeps the latest rotated refresh token per marketplace so a restart
// does not fall back to a token the marketplace has already invalidated.
type CredentialStore struct {
	db     DBTX
	logger *zap.Logger
}

// NewCredentialStore creates a credential store on db.
func NewCredentialStore(db DBTX, logger *zap.Logger) *CredentialStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialStore{db: db, logger: logger}
}

// SaveRefreshToken upserts the refresh token for marketplace.
func (s *CredentialStore) SaveRefreshToken(ctx context.Context, marketplace, token string) error {
	if token == "" {
		return fmt.Errorf("save refresh token: empty token for %s", marketplace)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO marketplace_credentials (marketplace, refresh_token, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (marketplace)
		DO UPDATE SET refresh_token = EXCLUDED.refresh_token, updated_at = NOW();
	`, marketplace, token)
	if err != nil {
		s.logger.Error("store.pg.save_refresh_token_failed", zap.String("marketplace", marketplace), zap.Error(err))
		return err
	}
	s.logger.Info("store.refresh_token_saved", zap.String("marketplace", marketplace))
	return nil
}

// RefreshToken returns the persisted token, or "" when none was saved.
func (s *CredentialStore) RefreshToken(ctx context.Context, marketplace string) (string, error) {
	var token string
	err := s.db.QueryRow(ctx, `
		SELECT refresh_token FROM marketplace_credentials WHERE marketplace = $1;
	`, marketplace).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("refresh token for %s: %w", marketplace, err)
	}
	return token, nil
}

// RotatingSource overlays persisted refresh tokens on a base credential source.
type RotatingSource struct {
	Base  secrets.Source
	Store *CredentialStore
}

// Credentials returns the base credentials with the refresh token replaced by the
// persisted one when present. A lookup failure falls back to the base token.
func (r RotatingSource) Credentials(ctx context.Context, marketplace string) (secrets.Credentials, error) {
	creds, err := r.Base.Credentials(ctx, marketplace)
	if err != nil {
		return secrets.Credentials{}, err
	}
	token, err := r.Store.RefreshToken(ctx, marketplace)
	if err != nil {
		r.Store.logger.Warn("store.refresh_token_lookup_failed", zap.String("marketplace", marketplace), zap.Error(err))
		return creds, nil
	}
	if token != "" {
		creds.RefreshToken = token
	}
	return creds, nil
}
