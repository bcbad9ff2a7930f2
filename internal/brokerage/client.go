// Package brokerage is the thin proxy client for the external
// brokerage API. It forwards dashboard requests upstream with the
// caller's own bearer credentials and hands back the upstream body
// and status untouched; interpreting order payloads and executing
// orders belong to the execution workflow, not this service.
package brokerage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrUpstreamUnreachable wraps transport-level failures reaching the
// brokerage API (after retries).
var ErrUpstreamUnreachable = errors.New("brokerage api unreachable")

// maxResponseBytes caps proxied response bodies. Brokerage payloads
// are small JSON documents; anything larger is a misbehaving upstream.
const maxResponseBytes = 1 << 20

// Client forwards requests to the brokerage API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a brokerage client with retry/backoff tuned the
// same way as the rest of the service's outbound HTTP: 3 retries,
// linear jitter, 30 second request timeout.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Backoff = retryablehttp.LinearJitterBackoff
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = 30 * time.Second

	return &Client{
		httpClient: retryClient.StandardClient(),
		baseURL:    baseURL,
		logger:     logger.With(slog.String("component", "brokerage")),
	}
}

// Response is a proxied upstream reply.
type Response struct {
	Status int
	Body   []byte
}

// GetAccount fetches account holdings/balances for the given account,
// authenticated as the calling user.
func (c *Client) GetAccount(ctx context.Context, accountID, bearer string) (*Response, error) {
	url := fmt.Sprintf("%s/accounts/%s", c.baseURL, accountID)
	return c.forward(ctx, "GET", url, bearer, nil)
}

// PreviewOrder forwards an order-preview request body verbatim.
func (c *Client) PreviewOrder(ctx context.Context, bearer string, body []byte) (*Response, error) {
	url := c.baseURL + "/orders/preview"
	return c.forward(ctx, "POST", url, bearer, body)
}

func (c *Client) forward(ctx context.Context, method, url, bearer string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create brokerage request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("forwarding brokerage request",
		slog.String("method", method),
		slog.String("url", url),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read brokerage response: %w", err)
	}

	return &Response{Status: resp.StatusCode, Body: data}, nil
}
