package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/voc-classifier/backend/internal/metrics"
	"github.com/voc-classifier/backend/pkg/logger"
)

// ErrAuth is matched by every error returned from TokenCache.Token.
var ErrAuth = errors.New("auth error")

// Error reports a failed token fetch.
type Error struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *Error) Error() string {
	msg := "failed to fetch token: " + e.Reason
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrAuth }

// Token is the cached bearer credential.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token may still be used at now.
func (t Token) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

type Config struct {
	TokenURL     string
	ClientSecret string
	HTTPClient   *http.Client
	Now          func() time.Time
}

// TokenCache holds at most one bearer token and refreshes it lazily when a
// caller asks for it after expiry. Refreshes are serialized.
type TokenCache struct {
	tokenURL     string
	clientSecret string
	httpClient   *http.Client
	now          func() time.Time

	mu    sync.Mutex
	token Token
}

func NewTokenCache(cfg Config) *TokenCache {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenCache{
		tokenURL:     cfg.TokenURL,
		clientSecret: cfg.ClientSecret,
		httpClient:   cfg.HTTPClient,
		now:          cfg.Now,
	}
}

// Token returns the cached token, fetching a new one when the slot is empty
// or expired.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.Valid(c.now()) {
		logger.Debug("Using cached token")
		metrics.TokenRequests.WithLabelValues("cached").Inc()
		return c.token.Value, nil
	}

	token, err := c.fetch(ctx)
	if err != nil {
		metrics.TokenRequests.WithLabelValues("error").Inc()
		return "", err
	}
	c.token = token
	metrics.TokenRequests.WithLabelValues("fetched").Inc()
	return token.Value, nil
}

// Invalidate drops the cached token so the next call fetches a new one.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = Token{}
}

// Cached returns a copy of the current slot, which may be empty or expired.
func (c *TokenCache) Cached() Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *TokenCache) fetch(ctx context.Context) (Token, error) {
	logger.Info("Requesting new authentication token", zap.String("url", c.tokenURL))

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, &Error{Reason: "invalid request", Err: err}
	}
	req.Header.Set("Authorization", c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("Network error while fetching token", zap.Error(err))
		return Token{}, &Error{Reason: "network error", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, &Error{StatusCode: resp.StatusCode, Reason: "read body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Error("Token endpoint returned error status",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(body), 512)),
		)
		return Token{}, &Error{StatusCode: resp.StatusCode, Reason: "unexpected status"}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return Token{}, &Error{StatusCode: resp.StatusCode, Reason: "invalid JSON", Err: err}
	}

	value, _ := payload["access_token"].(string)
	if value == "" {
		return Token{}, &Error{StatusCode: resp.StatusCode, Reason: "missing access_token in response"}
	}

	now := c.now()
	expiresAt := now
	if raw, ok := payload["expires_in"]; ok && raw != nil {
		seconds, err := cast.ToFloat64E(raw)
		if err != nil {
			logger.Warn("Ignoring unparseable expires_in", zap.Any("expires_in", raw), zap.Error(err))
		} else if seconds > 0 {
			expiresAt = now.Add(time.Duration(seconds * float64(time.Second)))
		}
	}

	logger.Info("New token obtained", zap.Duration("expires_in", expiresAt.Sub(now)))

	return Token{Value: value, ExpiresAt: expiresAt}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
