package controlplane

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestRetryAfterHonored exercises scenario S5 with a shorter wait: HTTP
// 429 with Retry-After: 1 retries exactly once, after at least 1s, and
// the total request count is 2.
func TestRetryAfterHonored(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	start := time.Now()
	resp, err := DoWithRetry(context.Background(), func() (*http.Response, error) {
		return http.Get(srv.URL)
	})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("DoWithRetry: %v", err)
	}
	resp.Body.Close()

	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if elapsed < 1*time.Second {
		t.Fatalf("elapsed %v, want >= 1s", elapsed)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestRetryAfterMissingDoesNotRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	resp, err := DoWithRetry(context.Background(), func() (*http.Response, error) {
		return http.Get(srv.URL)
	})
	if err != nil {
		t.Fatalf("DoWithRetry: %v", err)
	}
	resp.Body.Close()
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry without valid Retry-After)", calls)
	}
}

func TestRetryAfterNegativeDoesNotRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "-1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	resp, err := DoWithRetry(context.Background(), func() (*http.Response, error) {
		return http.Get(srv.URL)
	})
	if err != nil {
		t.Fatalf("DoWithRetry: %v", err)
	}
	resp.Body.Close()
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetry5xxCappedAtThreeAttempts(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	resp, err := DoWithRetry(context.Background(), func() (*http.Response, error) {
		return http.Get(srv.URL)
	})
	if err != nil {
		t.Fatalf("DoWithRetry: %v", err)
	}
	resp.Body.Close()
	if calls != maxFiveXXAttempts {
		t.Fatalf("calls = %d, want %d", calls, maxFiveXXAttempts)
	}
}

func TestRetryDoesNotRetryOther4xx(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	resp, err := DoWithRetry(context.Background(), func() (*http.Response, error) {
		return http.Get(srv.URL)
	})
	if err != nil {
		t.Fatalf("DoWithRetry: %v", err)
	}
	resp.Body.Close()
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
