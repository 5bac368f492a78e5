package gh

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-github/v71/github"
)

// DefaultRetryAfter is used when GitHub signals a rate limit without saying how long to wait.
const DefaultRetryAfter = 60 * time.Second

// RateLimitError reports that GitHub refused a request because of rate limiting.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("github rate limited, retry after %d seconds", int(e.RetryAfter.Seconds()))
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// AsRateLimit unwraps err to a *RateLimitError if it is one.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// classify turns go-github rate limit signals into *RateLimitError and wraps everything
// else with the operation name.
func classify(op string, resp *github.Response, err error) error {
	if err == nil {
		return nil
	}

	var primary *github.RateLimitError
	if errors.As(err, &primary) {
		wait := time.Until(primary.Rate.Reset.Time)
		if wait <= 0 {
			wait = DefaultRetryAfter
		}
		return &RateLimitError{RetryAfter: wait.Round(time.Second), Err: err}
	}

	var secondary *github.AbuseRateLimitError
	if errors.As(err, &secondary) {
		wait := secondary.GetRetryAfter()
		if wait <= 0 {
			wait = DefaultRetryAfter
		}
		return &RateLimitError{RetryAfter: wait, Err: err}
	}

	if resp != nil && resp.Response != nil {
		h := resp.Header
		switch {
		case resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode == http.StatusForbidden && (h.Get("Retry-After") != "" || h.Get("X-RateLimit-Remaining") == "0"):
			return &RateLimitError{RetryAfter: parseRetryAfter(h.Get("Retry-After")), Err: err}
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return DefaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait.Round(time.Second)
		}
	}
	return DefaultRetryAfter
}
