package secrets

import "context"

// Provider is the secret store holding marketplace credentials.
// Secrets are flat JSON objects of string values.
type Provider interface {
	// GetSecret retrieves a secret by name and returns its key-value map.
	GetSecret(ctx context.Context, name string) (map[string]string, error)

	// PutSecret replaces the secret value, used when a marketplace rotates a refresh token.
	PutSecret(ctx context.Context, name string, value map[string]string) error
}
