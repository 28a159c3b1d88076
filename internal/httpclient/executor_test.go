package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubTokens struct {
	issued      atomic.Int32
	invalidated atomic.Int32
	err         error
}

func (s *stubTokens) AccessToken(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	n := s.issued.Add(1)
	return "tok-" + string(rune('0'+n)), nil
}

func (s *stubTokens) Invalidate() { s.invalidated.Add(1) }

type stubGov struct {
	throttled atomic.Int32
	penalty   time.Duration
	err       error
}

func (g *stubGov) Throttle(context.Context) error {
	g.throttled.Add(1)
	return g.err
}

func (g *stubGov) Penalize(d time.Duration) { g.penalty = d }

func newExec(t *testing.T, h http.Handler, tokens TokenSource) (*Executor, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(zap.NewNop(), srv.Client(), "test", tokens, HeaderAuth("x-amz-access-token")), srv
}

func get(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}

func statusHandler(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

// ─── success ─────────────────────────────────────────────────────────────────

func TestDoJSON_SuccessDecodesAndAuthorizes(t *testing.T) {
	tokens := &stubTokens{}
	exec, srv := newExec(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok-1", r.Header.Get("x-amz-access-token"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_ = json.NewEncoder(w).Encode(map[string]string{"result": "ok"})
	}), tokens)
	gov := &stubGov{}

	var out map[string]string
	require.NoError(t, exec.DoJSON(context.Background(), gov, "catalog", get(t, srv.URL), &out))
	assert.Equal(t, "ok", out["result"])
	assert.EqualValues(t, 1, gov.throttled.Load(), "every call goes through the governor")
}

func TestDoJSON_NilTokensAndGovernor(t *testing.T) {
	exec, srv := newExec(t, statusHandler(http.StatusOK, `{}`), nil)
	require.NoError(t, exec.DoJSON(context.Background(), nil, "ping", get(t, srv.URL), nil))
}

// ─── classification ──────────────────────────────────────────────────────────

func TestDoJSON_Classification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		outcome  Outcome
		sentinel error
	}{
		{"not found", http.StatusNotFound, OutcomeNotFound, ErrNotFound},
		{"rate limited", http.StatusTooManyRequests, OutcomeRateLimited, ErrRateLimited},
		{"bad request", http.StatusBadRequest, OutcomeInvalid, ErrInvalid},
		{"unprocessable", http.StatusUnprocessableEntity, OutcomeInvalid, ErrInvalid},
		{"server error", http.StatusInternalServerError, OutcomeTransient, ErrTransient},
		{"bad gateway", http.StatusBadGateway, OutcomeTransient, ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			exec, srv := newExec(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
			}), &stubTokens{})

			err := exec.DoJSON(context.Background(), nil, "op", get(t, srv.URL), nil)

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.outcome, OutcomeOf(err))
			assert.EqualValues(t, 1, hits.Load(), "the executor never retries")

			var ue *UpstreamError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, tt.status, ue.Status)
			assert.Equal(t, "op", ue.Op)
		})
	}
}

func TestDoJSON_RateLimitedCarriesRetryAfter(t *testing.T) {
	exec, srv := newExec(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}), nil)
	gov := &stubGov{}

	err := exec.DoJSON(context.Background(), gov, "offers", get(t, srv.URL), nil)

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 2*time.Second, RetryAfterOf(err))
	assert.Equal(t, 2*time.Second, gov.penalty, "the governor is told to hold back")
}

// ─── 401/403 handling ────────────────────────────────────────────────────────

func TestDoJSON_RejectedTokenRefreshesOnce(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var hits atomic.Int32
			tokens := &stubTokens{}
			exec, srv := newExec(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if hits.Add(1) == 1 {
					w.WriteHeader(status)
					return
				}
				assert.Equal(t, "tok-2", r.Header.Get("x-amz-access-token"))
				_, _ = w.Write([]byte(`{}`))
			}), tokens)

			require.NoError(t, exec.DoJSON(context.Background(), nil, "op", get(t, srv.URL), nil))
			assert.EqualValues(t, 2, hits.Load())
			assert.EqualValues(t, 1, tokens.invalidated.Load())
		})
	}
}

func TestDoJSON_RejectionOnFreshTokenIsFatal(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var hits atomic.Int32
			tokens := &stubTokens{}
			exec, srv := newExec(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				w.WriteHeader(status)
			}), tokens)

			err := exec.DoJSON(context.Background(), nil, "op", get(t, srv.URL), nil)

			assert.ErrorIs(t, err, ErrFatal)
			assert.Equal(t, OutcomeFatal, OutcomeOf(err))
			assert.EqualValues(t, 2, hits.Load())
			assert.EqualValues(t, 1, tokens.invalidated.Load())

			var ue *UpstreamError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, status, ue.Status)
		})
	}
}

func TestDoJSON_ForbiddenWithoutTokenSourceIsFatal(t *testing.T) {
	var hits atomic.Int32
	exec, srv := newExec(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}), nil)

	err := exec.DoJSON(context.Background(), nil, "op", get(t, srv.URL), nil)

	assert.ErrorIs(t, err, ErrFatal)
	assert.EqualValues(t, 1, hits.Load())
}

// ─── failures outside HTTP ───────────────────────────────────────────────────

func TestDoJSON_TokenErrorPassesThrough(t *testing.T) {
	tokenErr := errors.New("refresh credential rejected")
	exec, srv := newExec(t, statusHandler(http.StatusOK, `{}`), &stubTokens{err: tokenErr})

	err := exec.DoJSON(context.Background(), nil, "op", get(t, srv.URL), nil)

	assert.ErrorIs(t, err, tokenErr)
	var ue *UpstreamError
	assert.False(t, errors.As(err, &ue), "credential failures are not upstream outcomes")
}

func TestDoJSON_TransportErrorIsTransient(t *testing.T) {
	exec, srv := newExec(t, statusHandler(http.StatusOK, `{}`), nil)
	srv.Close()

	err := exec.DoJSON(context.Background(), nil, "op", get(t, srv.URL), nil)
	assert.ErrorIs(t, err, ErrTransient)
}

func TestDoJSON_DecodeFailureIsTransient(t *testing.T) {
	exec, srv := newExec(t, statusHandler(http.StatusOK, `{not json`), nil)

	var out map[string]any
	err := exec.DoJSON(context.Background(), nil, "op", get(t, srv.URL), &out)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Contains(t, err.Error(), "decode failed")
}

func TestDoJSON_ContextCanceled(t *testing.T) {
	exec, srv := newExec(t, statusHandler(http.StatusOK, `{}`), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := exec.DoJSON(ctx, &stubGov{err: context.Canceled}, "op", get(t, srv.URL), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, 5*time.Second, parseRetryAfter("5", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-3", now))
	assert.Equal(t, 10*time.Second, parseRetryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage", now))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, Classify(204))
	assert.Equal(t, OutcomeTransient, Classify(http.StatusRequestTimeout))
	assert.Equal(t, OutcomeInvalid, Classify(http.StatusConflict))
	assert.Equal(t, OutcomeSuccess, OutcomeOf(nil))
	assert.Equal(t, OutcomeTransient, OutcomeOf(errors.New("boom")))
}
