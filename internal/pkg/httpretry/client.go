// Package httpretry wraps an HTTP client with retries on transient
// failures, using capped exponential backoff with full jitter.
package httpretry

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/ignite/bidguard/internal/pkg/logger"
)

// Doer executes HTTP requests. *http.Client and *Client satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client retries requests that fail with a network error or a retryable
// status. Requests with a body must set GetBody to be retried.
type Client struct {
	doer       Doer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	minDelay   time.Duration
}

// New wraps doer. A nil doer gets an http.Client with a 10s timeout;
// maxRetries <= 0 means 3.
func New(doer Doer, maxRetries int) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 10 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		doer:       doer,
		maxRetries: maxRetries,
		baseDelay:  time.Second,
		maxDelay:   30 * time.Second,
		minDelay:   100 * time.Millisecond,
	}
}

// WithBackoff overrides the delay bounds. min is the floor applied after
// jitter.
func (c *Client) WithBackoff(base, max, min time.Duration) *Client {
	c.baseDelay, c.maxDelay, c.minDelay = base, max, min
	return c
}

// Do sends req, retrying up to maxRetries times. The last response is
// returned as-is so callers can inspect a final 5xx. Cancelling the
// request context stops retrying.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset body: %w", err)
				}
				req.Body = body
			}
			delay := c.delay(attempt)
			logger.Debug("retrying request", "attempt", attempt, "max", c.maxRetries,
				"host", req.URL.Host, "path", req.URL.Path, "wait", delay.String())
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, lastErrOr(lastErr, ctx.Err())
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, lastErrOr(lastErr, err)
		}

		resp, err := c.doer.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		if !Retryable(resp.StatusCode) || attempt == c.maxRetries {
			return resp, nil
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: %s returned %d", req.URL.Host, resp.StatusCode)
	}
	return nil, lastErr
}

// delay is random(0, min(maxDelay, baseDelay*2^(attempt-1))), floored at
// minDelay.
func (c *Client) delay(attempt int) time.Duration {
	exp := float64(c.baseDelay) * math.Pow(2, float64(attempt-1))
	if exp > float64(c.maxDelay) {
		exp = float64(c.maxDelay)
	}
	d := time.Duration(rand.Float64() * exp)
	if d < c.minDelay {
		d = c.minDelay
	}
	return d
}

// Retryable reports whether status is worth retrying: 429 and the
// gateway-style 5xx codes.
func Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func lastErrOr(last, err error) error {
	if last != nil {
		return last
	}
	return err
}
