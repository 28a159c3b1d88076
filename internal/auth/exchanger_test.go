package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/marketplace-sync/internal/secrets"
)

func testCreds() secrets.Credentials {
	return secrets.Credentials{ClientID: "cid", ClientSecret: "csecret", RefreshToken: "Atzr|refresh-1"}
}

func tokenServer(t *testing.T, status int, body string, check func(*http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ─── success ─────────────────────────────────────────────────────────────────

func TestExchange_Success(t *testing.T) {
	srv := tokenServer(t, http.StatusOK, `{"access_token":"Atza|new","token_type":"bearer","expires_in":3600}`,
		func(r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
			assert.Equal(t, "Atzr|refresh-1", r.PostForm.Get("refresh_token"))
			assert.Equal(t, "cid", r.PostForm.Get("client_id"))
			assert.Equal(t, "csecret", r.PostForm.Get("client_secret"))
		})

	x := NewRefreshGrantExchanger("amazon", srv.URL, srv.Client())
	g, err := x.Exchange(context.Background(), testCreds())

	require.NoError(t, err)
	assert.Equal(t, "Atza|new", g.AccessToken)
	assert.Equal(t, time.Hour, g.ExpiresIn)
	assert.Empty(t, g.RefreshToken, "unchanged refresh token is not reported as rotated")
}

func TestExchange_RotatedRefreshToken(t *testing.T) {
	srv := tokenServer(t, http.StatusOK, `{"access_token":"APP_USR-1","expires_in":21600,"refresh_token":"TG-rotated"}`, nil)

	g, err := NewRefreshGrantExchanger("mercadolivre", srv.URL, srv.Client()).Exchange(context.Background(), testCreds())

	require.NoError(t, err)
	assert.Equal(t, "TG-rotated", g.RefreshToken)
}

// ─── fatal classification ────────────────────────────────────────────────────

func TestExchange_FatalCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   string
	}{
		{"invalid grant", http.StatusBadRequest, `{"error":"invalid_grant","error_description":"refresh token revoked"}`, "invalid_grant"},
		{"invalid client", http.StatusUnauthorized, `{"error":"invalid_client"}`, "invalid_client"},
		{"unauthorized without body", http.StatusUnauthorized, ``, "unauthorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := tokenServer(t, tt.status, tt.body, nil)
			_, err := NewRefreshGrantExchanger("amazon", srv.URL, srv.Client()).Exchange(context.Background(), testCreds())

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrFatalAuth)
			var fatal *FatalAuthError
			require.True(t, errors.As(err, &fatal))
			assert.Equal(t, tt.code, fatal.Code)
			assert.Equal(t, tt.status, fatal.Status)
		})
	}
}

func TestExchange_NonFatalFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusServiceUnavailable, `{}`},
		{"bad request with other code", http.StatusBadRequest, `{"error":"invalid_request"}`},
		{"empty token", http.StatusOK, `{"access_token":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := tokenServer(t, tt.status, tt.body, nil)
			_, err := NewRefreshGrantExchanger("amazon", srv.URL, srv.Client()).Exchange(context.Background(), testCreds())

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTokenExchange)
			assert.NotErrorIs(t, err, ErrFatalAuth)
		})
	}
}

func TestExchange_TransportError(t *testing.T) {
	srv := tokenServer(t, http.StatusOK, `{}`, nil)
	srv.Close()

	_, err := NewRefreshGrantExchanger("amazon", srv.URL, nil).Exchange(context.Background(), testCreds())
	assert.ErrorIs(t, err, ErrTokenExchange)
}
