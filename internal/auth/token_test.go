package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

type roundTrip func(*http.Request) (*http.Response, error)

func (rt roundTrip) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCache(t *testing.T, clock *fakeClock, fn func(*http.Request) (*http.Response, error)) *TokenCache {
	t.Helper()
	return NewTokenCache(Config{
		TokenURL:     "https://idp.test/oauth/token",
		ClientSecret: "Basic c2VjcmV0",
		HTTPClient:   &http.Client{Transport: roundTrip(fn)},
		Now:          clock.Now,
	})
}

func TestTokenFetchRequest(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cache := newCache(t, clock, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost {
			t.Errorf("method = %s", req.Method)
		}
		if got := req.Header.Get("Authorization"); got != "Basic c2VjcmV0" {
			t.Errorf("Authorization = %q", got)
		}
		if got := req.Header.Get("Content-Type"); got != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q", got)
		}
		body, _ := io.ReadAll(req.Body)
		if string(body) != "grant_type=client_credentials" {
			t.Errorf("body = %q", body)
		}
		return jsonResponse(200, `{"access_token":"tok-1","expires_in":3600}`), nil
	})

	tok, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "tok-1" {
		t.Fatalf("token = %q", tok)
	}
	if want := clock.Now().Add(time.Hour); !cache.Cached().ExpiresAt.Equal(want) {
		t.Fatalf("expires_at = %s, want %s", cache.Cached().ExpiresAt, want)
	}
}

func TestTokenCachedUntilExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	calls := 0
	cache := newCache(t, clock, func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(200, `{"access_token":"tok","expires_in":"60"}`), nil
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := cache.Token(ctx); err != nil {
			t.Fatalf("Token: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 fetch while valid, got %d", calls)
	}

	clock.Advance(59 * time.Second)
	if _, err := cache.Token(ctx); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("token refetched before expiry")
	}

	clock.Advance(time.Second)
	if _, err := cache.Token(ctx); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected refetch once now >= expires_at, got %d fetches", calls)
	}
}

func TestTokenZeroExpiryRefetches(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	calls := 0
	cache := newCache(t, clock, func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(200, `{"access_token":"tok","expires_in":0}`), nil
	})

	ctx := context.Background()
	cache.Token(ctx)
	cache.Token(ctx)
	if calls != 2 {
		t.Fatalf("expires_in=0 must be treated as expired, got %d fetches", calls)
	}
}

func TestTokenMissingExpiryRefetches(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	calls := 0
	cache := newCache(t, clock, func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(200, `{"access_token":"tok"}`), nil
	})

	ctx := context.Background()
	cache.Token(ctx)
	cache.Token(ctx)
	if calls != 2 {
		t.Fatalf("absent expires_in must be treated as expired, got %d fetches", calls)
	}
}

func TestTokenErrors(t *testing.T) {
	tests := []struct {
		name   string
		resp   *http.Response
		err    error
		status int
	}{
		{name: "network", err: errors.New("dial tcp: connection refused")},
		{name: "status", resp: jsonResponse(401, `{"error":"invalid_client"}`), status: 401},
		{name: "invalid json", resp: jsonResponse(200, `<html>`), status: 200},
		{name: "missing token", resp: jsonResponse(200, `{"expires_in":3600}`), status: 200},
		{name: "empty token", resp: jsonResponse(200, `{"access_token":"","expires_in":3600}`), status: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
			cache := newCache(t, clock, func(req *http.Request) (*http.Response, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				return tt.resp, nil
			})

			_, err := cache.Token(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrAuth) {
				t.Fatalf("expected ErrAuth, got %v", err)
			}
			var authErr *Error
			if !errors.As(err, &authErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if authErr.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", authErr.StatusCode, tt.status)
			}
			if cache.Cached().Value != "" {
				t.Fatal("failed fetch must not populate the cache")
			}
		})
	}
}

func TestTokenInvalidate(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	calls := 0
	cache := newCache(t, clock, func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(200, `{"access_token":"tok","expires_in":3600}`), nil
	})

	ctx := context.Background()
	cache.Token(ctx)
	cache.Invalidate()
	cache.Token(ctx)
	if calls != 2 {
		t.Fatalf("expected refetch after Invalidate, got %d fetches", calls)
	}
}

func TestTokenConcurrentCallersShareFetch(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var mu sync.Mutex
	calls := 0
	cache := newCache(t, clock, func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return jsonResponse(200, `{"access_token":"tok","expires_in":3600}`), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Token(context.Background()); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Fatalf("expected a single fetch for concurrent callers, got %d", calls)
	}
}
