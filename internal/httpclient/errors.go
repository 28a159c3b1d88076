package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Outcome is the classification of one upstream call.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeFatal       Outcome = "fatal"
	OutcomeTransient   Outcome = "transient"
)

var (
	// ErrNotFound: the upstream has no record for the identifier. Not a failure.
	ErrNotFound = errors.New("upstream: not found")
	// ErrRateLimited: the upstream answered 429; back off and retry.
	ErrRateLimited = errors.New("upstream: rate limited")
	// ErrInvalid: the request was rejected as malformed for this identifier (400/422).
	ErrInvalid = errors.New("upstream: invalid request")
	// ErrFatal: authorization or permission failure on a fresh token (401/403).
	ErrFatal = errors.New("upstream: fatal")
	// ErrTransient: timeout, network failure or 5xx.
	ErrTransient = errors.New("upstream: transient")
)

// UpstreamError describes a classified non-success call.
type UpstreamError struct {
	Marketplace string
	Op          string
	Outcome     Outcome
	Status      int
	RetryAfter  time.Duration
	Body        string
	Err         error
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s", e.Marketplace, e.Op, e.Outcome)
	if e.Status > 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the outcome sentinel and the underlying cause.
func (e *UpstreamError) Unwrap() []error {
	out := []error{sentinel(e.Outcome)}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func sentinel(o Outcome) error {
	switch o {
	case OutcomeNotFound:
		return ErrNotFound
	case OutcomeRateLimited:
		return ErrRateLimited
	case OutcomeInvalid:
		return ErrInvalid
	case OutcomeFatal:
		return ErrFatal
	default:
		return ErrTransient
	}
}

// Classify maps an HTTP status to an outcome. 401 and 403 are reported as Fatal here;
// the executor re-issues once with a fresh token before accepting that verdict.
func Classify(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status == http.StatusNotFound:
		return OutcomeNotFound
	case status == http.StatusTooManyRequests:
		return OutcomeRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return OutcomeFatal
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return OutcomeInvalid
	case status >= 500, status == http.StatusRequestTimeout:
		return OutcomeTransient
	default:
		return OutcomeInvalid
	}
}

// OutcomeOf extracts the outcome from an error returned by the executor.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Outcome
	}
	return OutcomeTransient
}

// RetryAfterOf returns the server-suggested delay carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.RetryAfter
	}
	return 0
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
