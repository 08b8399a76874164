// Package transport provides the rate-limited, retrying HTTP client used
// by both marketplace clients (C2). It owns the process-wide pacing
// clock, the exponential-backoff retry policy, and late-bound credential
// injection; request shape (GET-with-query vs POST-with-body) is the
// caller's concern.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	skerrors "github.com/skinarb/skinarb/pkg/errors"
	"github.com/skinarb/skinarb/pkg/logger"
)

const (
	defaultMaxRetries     = 5
	defaultBaseDelay      = 1 * time.Second
	defaultMaxDelay       = 10 * time.Second
	defaultRequestTimeout = 30 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultMaxConnsPerHost = 4
)

// CredentialsFunc returns the headers and cookies to attach to a request,
// read fresh on every call so rotated tokens take effect without a
// client restart.
type CredentialsFunc func(ctx context.Context) (headers map[string]string, cookies map[string]string, err error)

// Doer is satisfied by *http.Client; tests substitute a fake to avoid
// real network I/O.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Metrics is the minimal surface transport reports retry/rate-limit
// telemetry through; *instrumentation.Collector implements it.
type Metrics interface {
	ObserveRetry(marketplace string)
	ObserveRateLimited(marketplace string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRetry(string)      {}
func (noopMetrics) ObserveRateLimited(string) {}

// Client is one marketplace's HTTP transport: pooled connection, global
// pacing clock, and bounded retries.
type Client struct {
	httpClient  Doer
	baseURL     string
	marketplace string
	userAgent   string
	pacing      *PacingLimiter
	breaker     *CircuitBreaker
	credsFunc   CredentialsFunc
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
	metrics     Metrics
	log         logger.Logger
}

// Option configures a Client at construction time.
type Option func(*Client)

func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

func WithCredentials(fn CredentialsFunc) Option {
	return func(c *Client) { c.credsFunc = fn }
}

func WithRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
		c.maxDelay = maxDelay
	}
}

func WithMetrics(m Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithHTTPDoer overrides the underlying HTTP transport, primarily for tests.
func WithHTTPDoer(doer Doer) Option {
	return func(c *Client) { c.httpClient = doer }
}

// NewClient builds a marketplace transport client with a pooled
// connection (bounded per-host concurrency, keep-alive on) and the given
// pacing clock. The dialer is a plain net.Dialer; DNS lookups are not
// cached.
func NewClient(marketplaceID string, baseURL string, pacing *PacingLimiter, opts ...Option) *Client {
	dialer := &net.Dialer{Timeout: defaultConnectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxConnsPerHost:     defaultMaxConnsPerHost,
		MaxIdleConnsPerHost: defaultMaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   false,
	}

	c := &Client{
		httpClient:  &http.Client{Transport: transport, Timeout: defaultRequestTimeout},
		baseURL:     strings.TrimRight(baseURL, "/"),
		marketplace: marketplaceID,
		userAgent:   "skinarb/1.0",
		pacing:      pacing,
		maxRetries:  defaultMaxRetries,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		metrics:     noopMetrics{},
	}
	c.log = logger.Component("transport").With(logger.Fields{"marketplace": marketplaceID})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes one logical request, retrying transient failures under
// the pacing clock until it succeeds, exhausts retries, or ctx is
// cancelled. dest, if non-nil, receives the unmarshalled JSON body of a
// 2xx response.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any, dest any) error {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	payload, err := marshalBody(body)
	if err != nil {
		return err
	}

	var lastErr error
	forbiddenRetries := 0

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.pacing.Wait(ctx); err != nil {
			return skerrors.Wrap(skerrors.CodeCancelled, "pacing wait cancelled", err)
		}
		if ctx.Err() != nil {
			return skerrors.Wrap(skerrors.CodeCancelled, "request cancelled", ctx.Err())
		}

		status, respBody, reqErr := c.attempt(ctx, method, u, payload)

		if reqErr == nil && status >= 200 && status < 300 {
			if dest != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, dest); err != nil {
					return fmt.Errorf("unmarshal response: %w", err)
				}
			}
			return nil
		}

		if reqErr != nil {
			lastErr = reqErr
			c.log.Warn("attempt %d/%d connection error: %v", attempt, c.maxRetries, reqErr)
		} else if status == 401 || status == 403 {
			forbiddenRetries++
			lastErr = skerrors.New(skerrors.CodeAuthFailed, fmt.Sprintf("status %d from %s", status, path))
			if forbiddenRetries > 1 {
				return lastErr
			}
			c.log.Warn("attempt %d/%d auth error %d, retrying once", attempt, c.maxRetries, status)
		} else if status == 429 {
			c.metrics.ObserveRateLimited(c.marketplace)
			lastErr = skerrors.New(skerrors.CodeRateLimited, fmt.Sprintf("status 429 from %s", path))
			c.log.Warn("attempt %d/%d rate limited", attempt, c.maxRetries)
		} else {
			lastErr = &APIError{Marketplace: c.marketplace, StatusCode: status, Method: method, URL: u, Body: respBody}
			c.log.Warn("attempt %d/%d non-2xx status %d", attempt, c.maxRetries, status)
		}

		if attempt == c.maxRetries {
			break
		}
		c.metrics.ObserveRetry(c.marketplace)

		wait := backoff(c.baseDelay, c.maxDelay, attempt)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return skerrors.Wrap(skerrors.CodeCancelled, "retry wait cancelled", ctx.Err())
		}
		timer.Stop()
	}

	return lastErr
}

func (c *Client) attempt(ctx context.Context, method, u string, payload []byte) (status int, respBody []byte, err error) {
	do := func() error {
		var reqBody io.Reader
		if len(payload) > 0 {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")
		if len(payload) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}

		if c.credsFunc != nil {
			headers, cookies, err := c.credsFunc(ctx)
			if err != nil {
				return err
			}
			for k, v := range headers {
				req.Header.Set(k, v)
			}
			for name, value := range cookies {
				req.AddCookie(&http.Cookie{Name: name, Value: value})
			}
		}

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()

		b, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return readErr
		}
		status = resp.StatusCode
		respBody = b
		return nil
	}

	if c.breaker != nil {
		// A 5xx response counts as a breaker failure; it is still
		// reported to Do as a status, not as a request error.
		var upstreamErr error
		err = c.breaker.Call(func() error {
			if doErr := do(); doErr != nil {
				return doErr
			}
			if status >= 500 {
				upstreamErr = fmt.Errorf("upstream status %d", status)
				return upstreamErr
			}
			return nil
		})
		if upstreamErr != nil && err == upstreamErr {
			err = nil
		}
		return
	}
	err = do()
	return
}

// backoff computes min(base * 2^(attempt-1) * U(1,2), max).
func backoff(base, max time.Duration, attempt int) time.Duration {
	mult := float64(uint64(1) << uint(attempt-1))
	jitter := 1 + rand.Float64()
	d := time.Duration(float64(base) * mult * jitter)
	if d > max {
		d = max
	}
	return d
}

func marshalBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	switch v := body.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(body)
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values, dest any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, dest)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any, dest any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, dest)
}
