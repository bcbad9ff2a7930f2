// Package timesource supplies the reference instant for all schedule
// math from the platform's authoritative clock rather than the local
// system clock. A host with a skewed clock must not compute (or
// render) an incorrect next-run instant.
//
// The source fetches the platform time endpoint with go-retryablehttp,
// derives a local-to-server offset, and caches it for a short TTL so
// that a dashboard refreshing every few seconds does not hammer the
// endpoint. When the fetch fails the source falls back to the local
// clock and marks the stamp Approximate so callers can label the
// result instead of silently trusting it.
package timesource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultTTL is how long a fetched offset is reused before the
// endpoint is consulted again.
const DefaultTTL = 30 * time.Second

// Stamp is a reference instant plus its provenance.
type Stamp struct {
	// Time is the reference instant, always UTC.
	Time time.Time

	// Approximate is true when the trusted endpoint was unreachable
	// and Time came from the local clock instead.
	Approximate bool
}

// Source fetches and caches the authoritative clock offset.
type Source struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	ttl        time.Duration
	logger     *slog.Logger

	mu        sync.Mutex
	offset    time.Duration
	fetchedAt time.Time
}

// New creates a Source against the platform base URL. The endpoint is
// GET {baseURL}/v1/time authenticated with the service API key.
func New(baseURL, apiKey string, ttl time.Duration, logger *slog.Logger) *Source {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 250 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Backoff = retryablehttp.LinearJitterBackoff
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = 5 * time.Second

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Source{
		httpClient: retryClient.StandardClient(),
		baseURL:    baseURL,
		apiKey:     apiKey,
		ttl:        ttl,
		logger:     logger.With(slog.String("component", "timesource")),
	}
}

// Now returns the current trusted instant. Repeated calls within the
// TTL reuse the cached offset; they are independent, idempotent reads
// with no ordering requirement between them.
func (s *Source) Now(ctx context.Context) Stamp {
	local := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fetchedAt.IsZero() && local.Sub(s.fetchedAt) < s.ttl {
		return Stamp{Time: local.Add(s.offset).UTC()}
	}

	offset, err := s.fetchOffset(ctx, local)
	if err != nil {
		s.logger.Warn("trusted time fetch failed, falling back to local clock",
			slog.String("error", err.Error()),
		)
		// Keep the stale fetchedAt so the next call retries rather
		// than reusing a failed state for a full TTL.
		return Stamp{Time: local.UTC(), Approximate: true}
	}

	s.offset = offset
	s.fetchedAt = local
	return Stamp{Time: local.Add(offset).UTC()}
}

// timeResponse is the platform time endpoint payload.
type timeResponse struct {
	ServerTime time.Time `json:"server_time"`
}

func (s *Source) fetchOffset(ctx context.Context, local time.Time) (time.Duration, error) {
	url := s.baseURL + "/v1/time"

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return 0, fmt.Errorf("create time request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("time request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("time endpoint returned status %d", resp.StatusCode)
	}

	var payload timeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode time response: %w", err)
	}
	if payload.ServerTime.IsZero() {
		return 0, fmt.Errorf("time endpoint returned empty server_time")
	}

	offset := payload.ServerTime.Sub(local)
	s.logger.Debug("trusted time refreshed",
		slog.Time("server_time", payload.ServerTime),
		slog.Duration("offset", offset),
	)
	return offset, nil
}
