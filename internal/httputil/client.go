// Package httputil provides a security-hardened HTTP client and input sanitization utilities.
package httputil

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"
)

// DefaultUserAgent is sent when no browser user agent is configured.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/121.0"

// NewClient creates a hardened HTTP client with secure defaults.
// Media fetches can run long, so the per-request timeout is generous; callers
// bound individual operations with a context.
func NewClient() *http.Client {
	return &http.Client{
		Timeout: 5 * time.Minute,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          32,
			IdleConnTimeout:       30 * time.Second,
			MaxIdleConnsPerHost:   8,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

// Request describes a GET with the headers a player would send.
type Request struct {
	URL       string
	Referer   string
	UserAgent string
	Accept    string
	Range     string // Optional "bytes=a-b" header value
}

// Get performs a GET request with standard browser-like headers.
// Non-2xx responses are returned as *StatusError with the body closed.
func Get(ctx context.Context, client *http.Client, r Request) (*http.Response, error) {
	if err := ValidateURL(r.URL); err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	ua := r.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	accept := r.Accept
	if accept == "" {
		accept = "*/*"
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	if r.Referer != "" {
		req.Header.Set("Referer", r.Referer)
	}
	if r.Range != "" {
		req.Header.Set("Range", r.Range)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{URL: r.URL, Code: resp.StatusCode}
	}
	return resp, nil
}

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// Temporary reports whether retrying might help (5xx, 408, 429).
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests
}
