package apiclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	defaultAgent   = "cloudferry/0.1"
)

// TokenSource provides the opaque auth token sent with every broker request.
// Defined at the consumer per Go convention "accept interfaces, return
// structs". How tokens are obtained (OAuth, session cookie exchange) is out
// of scope — the broker owns authentication.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource returning a fixed string. Useful for tests
// and for environments where the token is injected externally.
type StaticToken string

func (s StaticToken) Token() (string, error) {
	return string(s), nil
}

// Client is an HTTP client for the broker REST API. It handles request
// construction, authentication, retry with exponential backoff, rate
// limiting, and error classification.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	userAgent  string
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// Option customizes a Client at construction time.
type Option func(*Client)

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithRateLimit wraps the client's transport so every request waits for the
// limiter's permission first. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			return
		}

		if burst <= 0 {
			burst = 1
		}

		base := c.httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}

		// Shallow copy so the caller's client is not mutated.
		limited := *c.httpClient
		limited.Transport = &rateLimitedTransport{
			base:    base,
			limiter: rate.NewLimiter(rate.Limit(rps), burst),
		}
		c.httpClient = &limited
	}
}

// rateLimitedTransport waits for limiter permission before each request.
type rateLimitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	return t.base.RoundTrip(req)
}

// NewClient creates a broker API client. baseURL is the broker origin, e.g.
// "https://app.example.com" — paths passed to Do are appended to it.
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		userAgent:  defaultAgent,
		logger:     logger,
		sleepFunc:  timeSleep,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the broker origin the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do executes an HTTP request against the broker API. The path is appended
// to the client's base URL. For non-nil bodies, Content-Type is set to
// application/json. The caller is responsible for closing the response body
// on success.
//
// Retries are transport-level only (network errors and retryable status
// codes); the session protocol and adapters never retry on their own — a
// failed operation surfaces to the orchestrator, which compensates.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	url := c.baseURL + path

	var attempt int
	for {
		resp, err := c.doOnce(ctx, method, url, body)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("apiclient: request canceled: %w", ctx.Err())
			}

			// Network errors are retryable — but only when the body can be
			// replayed (nil body requests; everything else goes through
			// DoOnce paths that disallow retry).
			if body == nil && attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("apiclient: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("apiclient: %s %s failed: %w", method, path, err)
		}

		// 2xx — success.
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		// Read and close body for error responses.
		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = nil
		}

		if body == nil && isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("apiclient: request canceled: %w", err)
			}

			attempt++

			continue
		}

		statusErr := newStatusError(resp.StatusCode, errBody)

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, statusErr
	}
}

// DoJSON executes a request and reads the full 2xx response body, checking
// it for a partial-failure error list. Returns the raw body bytes.
func (c *Client) DoJSON(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: reading response body: %w", err)
	}

	if err := checkPartialFailure(data); err != nil {
		return nil, err
	}

	return data, nil
}

// DoRaw executes a single non-JSON request (raw bytes body, custom
// Content-Type and extra headers) and reads the full 2xx response body.
// Never retried: the body reader cannot be replayed.
func (c *Client) DoRaw(
	ctx context.Context, method, path string, body io.Reader, contentType string, headers map[string]string,
) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("apiclient: obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", contentType)

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apiclient: %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, newStatusError(resp.StatusCode, data)
	}

	if readErr != nil {
		return nil, fmt.Errorf("apiclient: reading response body: %w", readErr)
	}

	return data, nil
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", c.userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
