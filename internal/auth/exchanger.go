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

	"github.com/Checker-Finance/marketplace-sync/internal/secrets"
)

// fatalCodes are OAuth errors that mean the client or refresh token itself is bad.
var fatalCodes = map[string]bool{
	"invalid_client":      true,
	"invalid_grant":       true,
	"unauthorized_client": true,
}

// Exchanger trades a refresh token for an access token.
type Exchanger interface {
	Exchange(ctx context.Context, creds secrets.Credentials) (*Grant, error)
}

// RefreshGrantExchanger performs the OAuth2 refresh_token grant against a form-encoded
// token endpoint. Both marketplaces speak the same dialect.
type RefreshGrantExchanger struct {
	marketplace string
	endpoint    string
	client      *http.Client
}

// NewRefreshGrantExchanger creates an exchanger for endpoint.
func NewRefreshGrantExchanger(marketplace, endpoint string, client *http.Client) *RefreshGrantExchanger {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &RefreshGrantExchanger{
		marketplace: marketplace,
		endpoint:    endpoint,
		client:      client,
	}
}

// Exchange implements Exchanger.
func (x *RefreshGrantExchanger) Exchange(ctx context.Context, creds secrets.Credentials) (*Grant, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", creds.RefreshToken)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := x.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTokenExchange, x.marketplace, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var tr tokenResponse
	_ = json.Unmarshal(body, &tr)

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		code := strings.ToLower(tr.Error)
		if fatalCodes[code] || resp.StatusCode == http.StatusUnauthorized {
			if code == "" {
				code = "unauthorized"
			}
			return nil, &FatalAuthError{
				Marketplace: x.marketplace,
				Status:      resp.StatusCode,
				Code:        code,
				Description: firstNonEmpty(tr.ErrorDescription, tr.Message),
			}
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d %s", ErrTokenExchange, x.marketplace, resp.StatusCode, tr.Error)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: %s returned empty access_token", ErrTokenExchange, x.marketplace)
	}

	g := &Grant{
		AccessToken: tr.AccessToken,
		ExpiresIn:   time.Duration(tr.ExpiresIn) * time.Second,
	}
	if tr.RefreshToken != "" && tr.RefreshToken != creds.RefreshToken {
		g.RefreshToken = tr.RefreshToken
	}
	return g, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
