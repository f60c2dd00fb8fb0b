package controlplane

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// maxFiveXXAttempts caps 5xx retries at 3 total attempts (spec §4.1).
const maxFiveXXAttempts = 3

// baseBackoff is the capped exponential backoff's starting delay.
const baseBackoff = 1 * time.Second

// maxBackoff caps the exponential growth.
const maxBackoff = 8 * time.Second

// DoWithRetry executes send, applying spec §4.1's retry policy:
//   - network errors: retry (capped exponential, same budget as 5xx)
//   - HTTP 429: retry using Retry-After seconds; a non-negative integer is
//     required, anything else (absent/invalid/negative) means do not retry
//   - HTTP 5xx: retry with capped exponential backoff starting at 1s, at
//     most maxFiveXXAttempts attempts total
//   - any other 4xx: never retried
func DoWithRetry(ctx context.Context, send func() (*http.Response, error)) (*http.Response, error) {
	var lastErr error
	backoff := baseBackoff

	for attempt := 1; attempt <= maxFiveXXAttempts; attempt++ {
		resp, err := send()
		if err != nil {
			lastErr = err
			if attempt == maxFiveXXAttempts {
				break
			}
			if !sleep(ctx, backoff) {
				return nil, ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait, ok := retryAfterSeconds(resp.Header.Get("Retry-After"))
			resp.Body.Close()
			if !ok {
				return resp, nil
			}
			if attempt == maxFiveXXAttempts {
				return resp, nil
			}
			if !sleep(ctx, wait) {
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode/100 == 5 {
			if attempt == maxFiveXXAttempts {
				return resp, nil
			}
			resp.Body.Close()
			if !sleep(ctx, backoff) {
				return nil, ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}

		// 2xx, or a non-429 4xx: return as-is, no retry.
		return resp, nil
	}
	return nil, lastErr
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// retryAfterSeconds parses a Retry-After header per spec: only a
// non-negative integer number of seconds triggers a retry.
func retryAfterSeconds(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
