// Package handshake fetches the single-use conversation URL from the trusted
// intermediary (see cmd/coachd). The client never sees the provider's API
// key; it only learns a short-lived signed URL.
package handshake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/careerdeck/voiceinterview/internal/observe"
	"github.com/careerdeck/voiceinterview/internal/resilience"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

// ErrNoURL is returned when the intermediary answered successfully but did
// not include a usable signed URL.
var ErrNoURL = errors.New("handshake: response did not contain a signed url")

// maxBody bounds the intermediary's response.
const maxBody = 64 << 10

// Response is the JSON body served by the intermediary. Exactly one of the
// fields is set.
type Response struct {
	SignedURL string `json:"signedUrl,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StatusError is a non-success answer from the intermediary.
type StatusError struct {
	// StatusCode is the HTTP status.
	StatusCode int
	// Message is the intermediary's "error" field, if any.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("handshake: intermediary returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("handshake: intermediary returned status %d: %s", e.StatusCode, e.Message)
}

// UserMessage returns the intermediary's message, which is written for the
// end user.
func (e *StatusError) UserMessage() string { return e.Message }

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for the request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithHeader adds a header to every request, e.g. the caller's session
// cookie or bearer token for the intermediary.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Add(key, value) }
}

// Client requests signed URLs from the intermediary. It is safe for
// concurrent use.
type Client struct {
	endpoint   string
	httpClient *http.Client
	breaker    *resilience.Breaker
	header     http.Header
}

// New returns a Client for the intermediary endpoint, an absolute http(s)
// URL such as https://coach.example.com/api/interview/signed-url.
func New(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("handshake: parse endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("handshake: endpoint %q must be an absolute http(s) URL", endpoint)
	}
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		header:     make(http.Header),
	}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewBreaker(resilience.BreakerConfig{
			Name:      "credentials",
			IsFailure: IsUnavailable,
		})
	}
	return c, nil
}

// IsUnavailable reports whether err means the intermediary itself is
// unhealthy (network failure or 5xx), as opposed to refusing this caller.
func IsUnavailable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	return !errors.Is(err, ErrNoURL)
}

// SignedURL fetches a fresh signed conversation URL. While the intermediary
// is known to be down the call fails fast with an error wrapping
// [resilience.ErrCircuitOpen]. There is no retry.
func (c *Client) SignedURL(ctx context.Context) (string, error) {
	var signed string
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		signed, err = c.fetch(ctx)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		slog.Debug("credential request rejected by circuit breaker", "endpoint", c.endpoint)
		return "", fmt.Errorf("handshake: intermediary unavailable: %w", err)
	}
	return signed, err
}

func (c *Client) fetch(ctx context.Context) (signed string, err error) {
	ctx, span := observe.StartSpan(ctx, "handshake.SignedURL")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("handshake: build request: %w", err)
	}
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(req.Header))
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("handshake: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("handshake: read response: %w", err)
	}

	var r Response
	// A non-JSON error page still yields a StatusError with no message.
	jsonErr := json.Unmarshal(body, &r)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Message: r.Error}
	}
	if jsonErr != nil {
		return "", fmt.Errorf("handshake: decode response: %w", jsonErr)
	}
	if r.SignedURL == "" {
		return "", ErrNoURL
	}
	u, err := url.Parse(r.SignedURL)
	if err != nil || (u.Scheme != "wss" && u.Scheme != "ws") {
		return "", fmt.Errorf("%w: %q is not a websocket URL", ErrNoURL, r.SignedURL)
	}
	return r.SignedURL, nil
}
