// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the HTTP client for the multimodal chat backend.
//
// JSON endpoints return decoded values. Streaming endpoints return the raw
// response body for stream.Ingestor; the caller owns closing it.
//
// The client never retries: a failure is reported once and any retry is up
// to the user.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/mmchat/internal/logging"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize bounds JSON response bodies.
	MaxResponseSize = 10 * 1024 * 1024

	userAgent = "mmchat/1.0"
)

// Options configure a Client.
type Options struct {
	BaseURL string
	Token   string

	// Timeout applies to non-streaming requests. Zero means DefaultTimeout.
	Timeout time.Duration

	// RatePerSec limits outgoing requests. Zero or less disables limiting.
	RatePerSec float64

	// HTTPClient replaces the default transport, mainly for tests.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client talks to one backend.
type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	mu    sync.RWMutex
	token string
}

// New creates a Client.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	plain := *base
	plain.Timeout = timeout
	// Streams are bounded by the caller's context only.
	streaming := *base
	streaming.Timeout = 0

	limit := rate.Inf
	burst := 1
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
		burst = max(1, int(opts.RatePerSec))
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    &plain,
		stream:  &streaming,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logging.OrDefault(opts.Logger),
		token:   opts.Token,
	}
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

// send waits for the limiter, performs req and converts error statuses.
// On success the caller owns resp.Body.
func (c *Client) send(client *http.Client, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		c.logger.Debug("API_REQUEST_FAILED", "method", req.Method, "path", req.URL.Path, "error", err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.logger.Debug("API_RESPONSE", "method", req.Method, "path", req.URL.Path,
		"status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, parseError(resp.StatusCode, req.URL.Path, body)
	}
	return resp, nil
}

// do sends a JSON request and decodes the JSON response into out, if set.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := c.newRequest(ctx, method, path, query, body, contentType)
	if err != nil {
		return err
	}
	return c.roundTrip(req, out)
}

func (c *Client) roundTrip(req *http.Request, out any) error {
	resp, err := c.send(c.http, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := readResponse(resp.Body)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		*raw = data
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", req.URL.Path, err)
	}
	return nil
}

// openStream sends req on the streaming client and returns the body.
func (c *Client) openStream(req *http.Request) (io.ReadCloser, error) {
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := c.send(c.stream, req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// readResponse reads a body with a size limit.
func readResponse(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return data, nil
}

func pathID(id string) string {
	return url.PathEscape(id)
}
