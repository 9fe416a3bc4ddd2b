package connection

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds one admin request.
const DefaultTimeout = 30 * time.Second

// envelope is the node's response wrapper.
type envelope struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Details   any             `json:"details"`
}

// APIError is an error answer from the node.
type APIError struct {
	Status    int
	Code      string
	Message   string
	Details   any
	RequestID string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != nil {
		msg += fmt.Sprintf(": %v", e.Details)
	}
	return msg
}

// HTTPClient talks to the admin API of one node.
type HTTPClient struct {
	baseURL   string
	client    *http.Client
	token     string
	userAgent string
}

// UnixScheme prefixes a server given as a Unix socket path.
const UnixScheme = "unix://"

// Option configures an HTTPClient.
type Option func(*http.Transport)

// WithTLS sets the TLS configuration used for https servers.
func WithTLS(cfg *tls.Config) Option {
	return func(t *http.Transport) { t.TLSClientConfig = cfg }
}

// NewHTTPClient creates a client for server, authenticating with the
// bearer token when one is given. A server of the form unix:///path
// reaches the node's admin socket.
func NewHTTPClient(server, token string, opts ...Option) *HTTPClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	for _, opt := range opts {
		opt(transport)
	}

	var baseURL string
	if path, ok := strings.CutPrefix(server, UnixScheme); ok {
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		}
		baseURL = "http://localhost"
	} else {
		baseURL = strings.TrimRight(server, "/")
		if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
			baseURL = "http://" + baseURL
		}
	}
	return &HTTPClient{
		baseURL:   baseURL,
		token:     token,
		userAgent: "dtnmesh-cli/1.0",
		client:    &http.Client{Timeout: DefaultTimeout, Transport: transport},
	}
}

// BaseURL returns the base URL of the client.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Get fetches path and decodes the data member into out.
func (c *HTTPClient) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post sends body as JSON and decodes the data member into out.
func (c *HTTPClient) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Delete removes the resource at path.
func (c *HTTPClient) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}

// Do performs one request. out may be nil.
func (c *HTTPClient) Do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return ParseResponse(resp, out)
}

// ParseResponse unwraps the envelope of resp into out and closes the body.
func ParseResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode), Message: "request failed"}
		}
		return fmt.Errorf("parse response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &APIError{
			Status:    resp.StatusCode,
			Code:      env.Code,
			Message:   env.Message,
			Details:   env.Details,
			RequestID: env.RequestID,
		}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("parse response data: %w", err)
	}
	return nil
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == code
}
