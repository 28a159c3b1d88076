package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/internal/metrics"
)

const maxBodyBytes = 8 << 20

// TokenSource supplies bearer tokens; *auth.Cache satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate()
}

// Throttler paces calls; *rate.Governor satisfies it.
type Throttler interface {
	Throttle(ctx context.Context) error
	Penalize(d time.Duration)
}

// Authorizer attaches a token to an outgoing request.
type Authorizer func(req *http.Request, token string)

// BearerAuth sets "Authorization: Bearer <token>".
func BearerAuth(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
}

// HeaderAuth sets the token in a custom header, e.g. x-amz-access-token.
func HeaderAuth(name string) Authorizer {
	return func(req *http.Request, token string) {
		req.Header.Set(name, token)
	}
}

// Executor performs one logical upstream call: it waits on the governor, attaches a
// token, sends the request and classifies the answer. It does not retry; the only
// re-issue is a single one after a 401 or 403 with a freshly exchanged token.
type Executor struct {
	logger      *zap.Logger
	http        *http.Client
	marketplace string
	tokens      TokenSource
	authorize   Authorizer
}

// New creates an Executor for marketplace.
func New(logger *zap.Logger, httpClient *http.Client, marketplace string, tokens TokenSource, authorize Authorizer) *Executor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if authorize == nil {
		authorize = BearerAuth
	}
	return &Executor{
		logger:      logger,
		http:        httpClient,
		marketplace: marketplace,
		tokens:      tokens,
		authorize:   authorize,
	}
}

// DoJSON executes req and JSON-decodes a 2xx body into out.
// Non-success outcomes come back as *UpstreamError; cancellation as ctx.Err().
// req must be replayable: no body, or GetBody set.
func (e *Executor) DoJSON(ctx context.Context, gov Throttler, op string, req *http.Request, out any) error {
	refreshed := false
	for {
		status, body, retryAfter, elapsed, err := e.once(ctx, gov, req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var te *tokenError
			if errors.As(err, &te) {
				metrics.IncUpstream(e.marketplace, op, "token_error")
				return fmt.Errorf("%s %s: %w", e.marketplace, op, te.err)
			}
			e.record(op, OutcomeTransient, elapsed)
			e.logger.Warn(e.marketplace+".http_failed",
				zap.String("op", op),
				zap.String("url", req.URL.Path),
				zap.Error(err))
			return &UpstreamError{Marketplace: e.marketplace, Op: op, Outcome: OutcomeTransient, Err: err}
		}

		outcome := Classify(status)

		if outcome == OutcomeFatal && !refreshed && e.tokens != nil {
			refreshed = true
			e.tokens.Invalidate()
			e.logger.Info(e.marketplace+".token_rejected_refreshing",
				zap.String("op", op),
				zap.Int("status", status))
			continue
		}

		e.record(op, outcome, elapsed)

		switch outcome {
		case OutcomeSuccess:
			if out != nil && len(body) > 0 {
				if err := json.Unmarshal(body, out); err != nil {
					e.logger.Warn(e.marketplace+".decode_failed",
						zap.String("op", op),
						zap.Error(err),
						zap.ByteString("body", truncate(body, 512)))
					return &UpstreamError{Marketplace: e.marketplace, Op: op, Outcome: OutcomeTransient, Status: status,
						Err: fmt.Errorf("decode failed: %w", err)}
				}
			}
			e.logger.Debug(e.marketplace+".http_success",
				zap.String("op", op),
				zap.Int("status", status),
				zap.Duration("elapsed", elapsed))
			return nil

		case OutcomeRateLimited:
			e.logger.Warn(e.marketplace+".rate_limited",
				zap.String("op", op),
				zap.Duration("retry_after", retryAfter))
		case OutcomeTransient:
			e.logger.Warn(e.marketplace+".server_error",
				zap.String("op", op),
				zap.Int("status", status),
				zap.Duration("latency", elapsed))
		case OutcomeFatal:
			e.logger.Error(e.marketplace+".access_denied",
				zap.String("op", op),
				zap.Int("status", status),
				zap.ByteString("body", truncate(body, 512)))
		}

		return &UpstreamError{
			Marketplace: e.marketplace,
			Op:          op,
			Outcome:     outcome,
			Status:      status,
			RetryAfter:  retryAfter,
			Body:        string(truncate(body, 2048)),
		}
	}
}

// once sends a single attempt and returns the raw status and body.
func (e *Executor) once(ctx context.Context, gov Throttler, orig *http.Request) (int, []byte, time.Duration, time.Duration, error) {
	if gov != nil {
		if err := gov.Throttle(ctx); err != nil {
			return 0, nil, 0, 0, fmt.Errorf("rate governor: %w", err)
		}
	}

	req := orig.Clone(ctx)
	if orig.GetBody != nil {
		b, err := orig.GetBody()
		if err != nil {
			return 0, nil, 0, 0, err
		}
		req.Body = b
	}

	if e.tokens != nil {
		token, err := e.tokens.AccessToken(ctx)
		if err != nil {
			return 0, nil, 0, 0, &tokenError{err: err}
		}
		e.authorize(req, token)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	start := time.Now()
	resp, err := e.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return 0, nil, 0, elapsed, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, 0, elapsed, fmt.Errorf("read body: %w", err)
	}

	var retryAfter time.Duration
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		if gov != nil && retryAfter > 0 {
			gov.Penalize(retryAfter)
		}
	}
	return resp.StatusCode, body, retryAfter, elapsed, nil
}

func (e *Executor) record(op string, outcome Outcome, elapsed time.Duration) {
	metrics.IncUpstream(e.marketplace, op, string(outcome))
	metrics.UpstreamRequestDuration.WithLabelValues(e.marketplace, op).Observe(elapsed.Seconds())
}

// tokenError keeps credential failures (fatal or not) out of the upstream taxonomy;
// callers inspect them with the auth package sentinels.
type tokenError struct{ err error }

func (t *tokenError) Error() string { return t.err.Error() }

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
