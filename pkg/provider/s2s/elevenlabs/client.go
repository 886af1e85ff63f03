package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAPIBaseURL = "https://api.elevenlabs.io"
	signedURLPath     = "/v1/convai/conversation/get_signed_url"
)

// ErrEmptySignedURL is returned when the API answered successfully but did
// not include a signed URL.
var ErrEmptySignedURL = errors.New("elevenlabs: response did not contain a signed url")

// APIError is a non-200 answer from the REST API.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("elevenlabs: signed url: unexpected status %d", e.StatusCode)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// IsUnavailable reports whether err means the API could not serve the
// request at all: a transport failure, a 5xx or rate limiting. Rejections
// caused by the request itself, such as a bad key or unknown agent, are not.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode >= 500 || ae.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, ErrEmptySignedURL)
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithBaseURL overrides the REST API base URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client calls the ElevenLabs REST API with the account's private key. It
// belongs on the trusted intermediary only; browsers and terminal clients
// never see the key.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client. apiKey must be non-empty.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultAPIBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// signedURLResponse is the body of GET /v1/convai/conversation/get_signed_url.
type signedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

// apiError is the error body shape used by the REST API.
type apiError struct {
	Detail json.RawMessage `json:"detail"`
}

// SignedURL mints a single-use websocket URL for a conversation with agentID.
func (c *Client) SignedURL(ctx context.Context, agentID string) (string, error) {
	if agentID == "" {
		return "", errors.New("elevenlabs: agentID must not be empty")
	}
	endpoint := c.baseURL + signedURLPath + "?agent_id=" + url.QueryEscape(agentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("elevenlabs: signed url: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("elevenlabs: signed url HTTP: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("elevenlabs: signed url read: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Detail: errorDetail(body)}
	}

	var sr signedURLResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("elevenlabs: signed url decode: %w", err)
	}
	if sr.SignedURL == "" {
		return "", ErrEmptySignedURL
	}
	return sr.SignedURL, nil
}

// errorDetail extracts a short message from an API error body.
func errorDetail(body []byte) string {
	var ae apiError
	if err := json.Unmarshal(body, &ae); err != nil || len(ae.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(ae.Detail, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(ae.Detail, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return ""
}
