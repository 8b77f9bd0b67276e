// Package reportserver talks to the upstream report server: templating feed
// URLs, fetching rendered feed documents, and parsing them into entries.
package reportserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/Azure/go-ntlmssp"

	"github.com/opsboard/reportsync/ratelimit"
)

// Config holds report-server credentials. When Username is empty the client
// sends unauthenticated requests and relies on ambient credentials at the
// transport (the usual case on a domain-joined host).
type Config struct {
	Username string
	Password string
	Domain   string
	Timeout  time.Duration
}

// ConfigFromEnv builds a Config from REPORT_SERVER_* environment variables.
func ConfigFromEnv() *Config {
	return &Config{
		Username: os.Getenv("REPORT_SERVER_USER"),
		Password: os.Getenv("REPORT_SERVER_PASS"),
		Domain:   os.Getenv("REPORT_SERVER_DOMAIN"),
		Timeout:  60 * time.Second,
	}
}

// Client fetches rendered feed documents over Windows-integrated auth.
type Client struct {
	cfg        *Config
	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

// NewClient creates a feed fetcher. A nil limiter disables pacing.
func NewClient(cfg *Config, limiter *ratelimit.Limiter) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: ntlmssp.Negotiator{
				RoundTripper: http.DefaultTransport,
			},
		},
		limiter: limiter,
	}
}

// Fetch issues one authenticated GET for a fully templated feed URL and
// returns the raw response bytes. Each call performs exactly one request;
// retry policy belongs to the caller. Only sizes and hosts are logged, never
// feed content.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create feed request: %w", err)
	}
	req.Header.Set("Accept", "application/atom+xml, application/xml, text/xml")
	if c.cfg.Username != "" {
		user := c.cfg.Username
		if c.cfg.Domain != "" {
			user = c.cfg.Domain + "\\" + user
		}
		req.SetBasicAuth(user, c.cfg.Password)
	}

	slog.Debug("Fetching feed", "host", req.URL.Host, "urlBytes", len(rawURL))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if c.limiter != nil {
			c.limiter.NoteSuccess()
		}
		slog.Debug("Feed fetched", "host", req.URL.Host, "bytes", len(body))
		return body, nil
	case http.StatusUnauthorized, http.StatusProxyAuthRequired:
		return nil, fmt.Errorf("fetching %s: %w", req.URL.Host, ErrAuthenticationFailed)
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		if c.limiter != nil {
			c.limiter.NoteThrottled()
		}
		fallthrough
	default:
		return nil, &UpstreamError{
			Status:  resp.StatusCode,
			Message: extractErrorMessage(body),
		}
	}
}
