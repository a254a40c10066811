// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package feed

import (
	"bytes"
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

	"github.com/omahs/zupass/internal/resilience"
	"github.com/omahs/zupass/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/time/rate"
)

// HTTPOptions configures HTTPClient.
type HTTPOptions struct {
	Timeout          time.Duration
	RateLimit        rate.Limit // requests per second per provider
	RateLimitBurst   int
	BreakerThreshold int
	BreakerReset     time.Duration
	UserAgent        string
	MaxResponseBytes int64
}

const (
	defaultTimeout          = 10 * time.Second
	defaultRateLimit        = 5
	defaultRateLimitBurst   = 10
	defaultBreakerThreshold = 5
	defaultBreakerReset     = 30 * time.Second
	defaultMaxResponseBytes = 8 << 20
)

func normalizeHTTPOptions(opts HTTPOptions) HTTPOptions {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(defaultRateLimit)
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateLimitBurst
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = defaultBreakerThreshold
	}
	if opts.BreakerReset <= 0 {
		opts.BreakerReset = defaultBreakerReset
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "zupass-feed-client"
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = defaultMaxResponseBytes
	}
	return opts
}

type providerGuard struct {
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// HTTPClient implements API over HTTP. Each provider gets its own rate
// limiter and circuit breaker; credential rejections do not trip the breaker.
type HTTPClient struct {
	client *http.Client
	opts   HTTPOptions

	mu     sync.Mutex
	guards map[string]*providerGuard
}

func NewHTTPClient(opts HTTPOptions) *HTTPClient {
	opts = normalizeHTTPOptions(opts)
	return &HTTPClient{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		guards: make(map[string]*providerGuard),
	}
}

func (c *HTTPClient) guard(providerURL string) *providerGuard {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.guards[providerURL]
	if !ok {
		g = &providerGuard{
			limiter: rate.NewLimiter(c.opts.RateLimit, c.opts.RateLimitBurst),
			breaker: resilience.NewCircuitBreaker("feed:"+providerURL, c.opts.BreakerThreshold, c.opts.BreakerReset,
				resilience.WithFailureFilter(IsTransient)),
		}
		c.guards[providerURL] = g
	}
	return g
}

func (c *HTTPClient) ListFeeds(ctx context.Context, providerURL string) (*ListFeedsResponse, error) {
	var out ListFeedsResponse
	if err := c.do(ctx, providerURL, http.MethodGet, "feeds", nil, &out); err != nil {
		return nil, err
	}
	if out.Feeds == nil {
		return nil, fmt.Errorf("%w: missing feeds", ErrBadResponse)
	}
	return &out, nil
}

func (c *HTTPClient) PollFeed(ctx context.Context, providerURL string, req PollRequest) (*PollResponse, error) {
	var out PollResponse
	path := "feeds/" + url.PathEscape(req.FeedID) + "/poll"
	if err := c.do(ctx, providerURL, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) do(ctx context.Context, providerURL, method, path string, body, out any) error {
	base, err := url.Parse(strings.TrimRight(providerURL, "/") + "/")
	if err != nil {
		return fmt.Errorf("feed: invalid provider url %q: %w", providerURL, err)
	}
	target := base.JoinPath(path).String()

	g := c.guard(providerURL)
	ctx, span := telemetry.StartSpan(ctx, tracerName, "feed.http "+method)
	var status int
	err = g.breaker.Execute(func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		var rtErr error
		status, rtErr = c.roundTrip(ctx, method, target, body, out)
		return rtErr
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		err = fmt.Errorf("feed: %s: %w until %s", providerURL, err, g.breaker.RetryAt().UTC().Format(time.RFC3339))
	}
	span.SetAttributes(telemetry.HTTPAttributes(method, path, target, status)...)
	telemetry.EndSpan(span, err, errorType(err))
	return err
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, target string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("feed: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("feed: %s %s: %w", method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	limited := io.LimitReader(resp.Body, c.opts.MaxResponseBytes)
	if resp.StatusCode != http.StatusOK {
		var problem struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(limited)
		if json.Unmarshal(raw, &problem) != nil || problem.Error == "" {
			problem.Error = strings.TrimSpace(string(raw))
		}
		return resp.StatusCode, &StatusError{StatusCode: resp.StatusCode, Message: problem.Error}
	}

	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return resp.StatusCode, nil
}

func errorType(err error) string {
	switch {
	case err == nil:
		return ""
	case IsAuthError(err):
		return "unauthorized"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrBadResponse):
		return "bad_response"
	default:
		return string(ErrorTypeFetch)
	}
}
