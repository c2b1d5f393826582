// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/usagepulse/internal/model"
)

// Configuration constants for the event source client.
const (
	// DefaultBaseURL is the default event source address.
	DefaultBaseURL = "http://localhost:3001"

	// DefaultTimeout bounds a single polling request.
	DefaultTimeout = 10 * time.Second

	// MaxResponseSize caps a polling response body.
	MaxResponseSize = 10 * 1024 * 1024

	DefaultMetricsPath = "/api/metrics"
	DefaultStreamPath  = "/api/stream"
	DefaultWSPath      = "/api/ws"
)

var (
	// sharedHTTPClient pools connections for polling requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient has no timeout; streams are bounded by context.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
)

// =============================================================================
// INTERFACES
// =============================================================================

// Batch is the decoded result of one polling fetch.
type Batch struct {
	Events        []model.MetricEvent
	Dropped       int
	NextPollAfter time.Duration
}

// Fetcher performs one polling request. A nil since omits the cursor.
type Fetcher interface {
	Fetch(ctx context.Context, since *time.Time) (Batch, error)
}

// Stream yields one raw message per call to Next. Next must return promptly
// once ctx is cancelled.
type Stream interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a push stream.
type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the event source over HTTP: polling requests and SSE.
type Client struct {
	baseURL     string
	metricsPath string
	streamPath  string
	httpClient  *http.Client
	sseClient   *http.Client
	userAgent   string
	logger      *zap.Logger
}

// NewClient creates a client for the event source at baseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		metricsPath: DefaultMetricsPath,
		streamPath:  DefaultStreamPath,
		httpClient:  sharedHTTPClient,
		sseClient:   sharedStreamingClient,
		userAgent:   "usagepulse/0.1",
		logger:      zap.NewNop(),
	}
}

// WithTimeout sets the polling request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient = &http.Client{
		Transport: sharedHTTPClient.Transport,
		Timeout:   timeout,
	}
	return c
}

// WithHTTPClient replaces both the polling and the streaming client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	c.sseClient = hc
	return c
}

// WithPaths overrides the metrics and stream endpoint paths. Empty values
// keep the current path.
func (c *Client) WithPaths(metrics, stream string) *Client {
	if metrics != "" {
		c.metricsPath = metrics
	}
	if stream != "" {
		c.streamPath = stream
	}
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(logger *zap.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// BaseURL returns the event source address.
func (c *Client) BaseURL() string { return c.baseURL }

// MetricsURL builds the polling URL for the given cursor.
func (c *Client) MetricsURL(since *time.Time) string {
	u := c.baseURL + c.metricsPath
	if since != nil {
		u += "?since=" + url.QueryEscape(model.FormatTimestamp(*since))
	}
	return u
}

// Fetch performs one polling request. Events that fail validation are
// dropped and counted; the rest of the batch is kept.
func (c *Client) Fetch(ctx context.Context, since *time.Time) (Batch, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.MetricsURL(since), nil)
	if err != nil {
		return Batch{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Batch{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return Batch{}, fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug("poll response",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Batch{}, &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}
	return c.decodeBatch(body)
}

func (c *Client) decodeBatch(body []byte) (Batch, error) {
	var raw struct {
		Metrics       []json.RawMessage `json:"metrics"`
		NextPollAfter int64             `json:"nextPollAfter"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Batch{}, fmt.Errorf("failed to parse response: %w", err)
	}

	batch := Batch{
		Events:        make([]model.MetricEvent, 0, len(raw.Metrics)),
		NextPollAfter: time.Duration(raw.NextPollAfter) * time.Millisecond,
	}
	for _, msg := range raw.Metrics {
		ev, err := model.DecodeEvent(msg)
		if err != nil {
			batch.Dropped++
			c.logger.Warn("dropping invalid event", zap.Error(err))
			continue
		}
		batch.Events = append(batch.Events, ev)
	}
	return batch, nil
}

// Dial opens the SSE stream.
func (c *Client) Dial(ctx context.Context) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.streamPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.sseClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}
	return newSSEStream(resp.Body), nil
}
