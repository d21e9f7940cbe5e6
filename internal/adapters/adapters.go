// Package adapters holds the shared HTTP plumbing of the upstream feed
// clients. Each sub-package turns one wire format into canonical records.
package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrNotConfigured is returned without any I/O when the credential for
	// a source is missing.
	ErrNotConfigured = errors.New("upstream credential not configured")
	// ErrUpstreamStatus wraps non-2xx upstream responses.
	ErrUpstreamStatus = errors.New("unexpected upstream status")
)

// maxBodySize caps upstream payloads. Full SIRI-SX deliveries are a few MB.
const maxBodySize = 64 << 20

// Config is the per-source client configuration.
type Config struct {
	APIKey    string
	UserAgent string
	Timeout   time.Duration
}

// Client is an authenticated HTTP client for one upstream source.
type Client struct {
	apiKey     string
	userAgent  string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiKey:    cfg.APIKey,
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Configured reports whether a credential is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Do sends req with the bearer token and user agent set. The caller owns
// the response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", req.URL.Redacted(), err)
	}
	return resp, nil
}

// Get fetches url and returns the body of a 2xx response.
func (c *Client) Get(ctx context.Context, url, accept string) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return c.read(req)
}

// Post sends body to url and returns the body of a 2xx response.
func (c *Client) Post(ctx context.Context, url, contentType string, body []byte, headers map[string]string) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.read(req)
}

func (c *Client) read(req *http.Request) ([]byte, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := CheckStatus(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// CheckStatus returns an ErrUpstreamStatus error for non-2xx responses.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("%w: %d from %s", ErrUpstreamStatus, resp.StatusCode, resp.Request.URL.Redacted())
}
