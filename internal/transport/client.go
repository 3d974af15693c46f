// Package transport sends reports to the remote service over HTTP with bounded
// retries. Authentication failures are never retried.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/bobch27/signupwatch/internal/models"
)

// Endpoint paths on the remote service.
const (
	PathSignups     = "/v1/signups"
	PathActivity    = "/v1/activity"
	PathUsers       = "/v1/users"
	PathConversions = "/v1/conversions"
	PathValidate    = "/v1/validate"
)

const (
	UserAgent      = "signupwatch/1.0"
	MaxResponseLen = 64 * 1024
)

// ErrUnauthorized is returned when the service rejects the API key.
var ErrUnauthorized = errors.New("transport: unauthorized")

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: unexpected status %d: %s", e.Code, e.Body)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string

	// Timeout bounds each attempt.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// RequestsPerSecond caps outgoing calls; zero disables the limit.
	RequestsPerSecond float64
	Burst             int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultOptions returns the options used for zero fields.
func DefaultOptions() Options {
	return Options{
		Timeout:           10 * time.Second,
		MaxRetries:        3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		RequestsPerSecond: 5,
		Burst:             10,
	}
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a client. BaseURL and APIKey are required.
func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("transport: API key is required")
	}
	if opts.BaseURL == "" {
		return nil, errors.New("transport: base URL is required")
	}

	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = def.InitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = def.MaxBackoff
	}
	if opts.Burst <= 0 {
		opts.Burst = def.Burst
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst)
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		opts:    opts,
		http:    httpClient,
		limiter: limiter,
		logger:  logger.With("component", "transport"),
	}, nil
}

// Response is a successful reply.
type Response struct {
	StatusCode int
	Body       []byte
}

// Post sends body as JSON.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, payload)
}

// Get sends a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (*Response, error) {
	backoff := retry.NewExponential(c.opts.InitialBackoff)
	backoff = retry.WithCappedDuration(c.opts.MaxBackoff, backoff)
	backoff = retry.WithJitterPercent(10, backoff)
	backoff = retry.WithMaxRetries(c.opts.MaxRetries, backoff)

	var resp *Response
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		r, err := c.attempt(ctx, method, path, payload)
		if err == nil {
			resp = r
			return nil
		}

		if isRetryable(err) {
			c.logger.Debug("request failed, retrying",
				"method", method,
				"path", path,
				"attempt", attempt,
				"error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s failed after %d attempt(s): %w", method, path, attempt, err)
	}

	return resp, nil
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &networkError{err: err}
	}
	defer func() { _ = res.Body.Close() }()

	data, _ := io.ReadAll(io.LimitReader(res.Body, MaxResponseLen))

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case res.StatusCode < 200 || res.StatusCode >= 300:
		return nil, &StatusError{Code: res.StatusCode, Body: string(data)}
	}

	return &Response{StatusCode: res.StatusCode, Body: data}, nil
}

type networkError struct {
	err error
}

func (e *networkError) Error() string { return "request failed: " + e.err.Error() }
func (e *networkError) Unwrap() error { return e.err }

// isRetryable reports whether a failed attempt may be repeated: network errors,
// rate limiting and server errors are, authentication and other client errors are not.
func isRetryable(err error) bool {
	if errors.Is(err, ErrUnauthorized) {
		return false
	}

	var netErr *networkError
	if errors.As(err, &netErr) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}

	return false
}

// RegisterSignup reports a signup.
func (c *Client) RegisterSignup(ctx context.Context, s models.Signup) error {
	_, err := c.Post(ctx, PathSignups, s)
	return err
}

// TrackActivity reports engagement metrics.
func (c *Client) TrackActivity(ctx context.Context, a models.Activity) error {
	_, err := c.Post(ctx, PathActivity, a)
	return err
}

// UpdateUser updates the display name stored for an email.
func (c *Client) UpdateUser(ctx context.Context, u models.UserUpdate) error {
	_, err := c.Post(ctx, PathUsers, u)
	return err
}

// TrackConversion reports a business conversion.
func (c *Client) TrackConversion(ctx context.Context, conv models.Conversion) error {
	_, err := c.Post(ctx, PathConversions, conv)
	return err
}

// ValidateKey asks the service whether the API key is valid. A 2xx reply without a
// "valid" field counts as valid.
func (c *Client) ValidateKey(ctx context.Context) (bool, error) {
	resp, err := c.Get(ctx, PathValidate)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return false, nil
		}
		return false, err
	}

	valid := gjson.GetBytes(resp.Body, "valid")
	if !valid.Exists() {
		return true, nil
	}
	return valid.Bool(), nil
}
