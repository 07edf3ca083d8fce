// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared by network-bound collaborators.
package httputil

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pdiddy/customer-engine/internal/retry"
)

// RetryBaseDelay is the first backoff step on HTTP 429 responses. It doubles
// each attempt. Tests override this to avoid real sleeps.
var RetryBaseDelay = 2 * time.Second

// maxRetryAfter caps a server-supplied Retry-After so a hostile or confused
// server cannot park a worker.
const maxRetryAfter = 30 * time.Second

// DoWithRetry executes req and retries on HTTP 429 (Too Many Requests) up to
// policy.Attempts() total calls, backing off RetryBaseDelay, 2x, 4x, ...
// A Retry-After header in seconds takes precedence when present.
//
// Each call runs under its own policy.Timeout(attempt) when BaseTimeout or
// TimeoutFn is set. Transport errors are returned immediately. After the last
// attempt the final 429 response is returned so the caller can inspect it.
// Request bodies are replayed through req.GetBody on later attempts.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, policy retry.Policy) (*http.Response, error) {
	attempts := policy.Attempts()

	for attempt := 1; ; attempt++ {
		callCtx, cancel := attemptContext(ctx, policy, attempt)
		call := req.Clone(callCtx)
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				cancel()
				return nil, err
			}
			call.Body = body
		}
		resp, err := client.Do(call)
		if err != nil {
			cancel()
			return nil, err
		}

		if resp.StatusCode != http.StatusTooManyRequests || attempt >= attempts {
			resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
			return resp, nil
		}

		backoff := retryAfter(resp)
		if backoff == 0 {
			backoff = time.Duration(math.Pow(2, float64(attempt-1))) * RetryBaseDelay
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		cancel()

		if err := retry.Sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}
}

func attemptContext(ctx context.Context, policy retry.Policy, attempt int) (context.Context, context.CancelFunc) {
	if d := policy.Timeout(attempt); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}

// cancelBody releases the per-attempt context when the caller closes the body.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
