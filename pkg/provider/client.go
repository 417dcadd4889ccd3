package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/debug"
)

// DefaultTimeout bounds non-streaming upstream calls.
const DefaultTimeout = 120 * time.Second

// Authorizer attaches vendor credentials to an outgoing request.
type Authorizer func(req *http.Request, secret string)

// ClientConfig configures the shared upstream client.
type ClientConfig struct {
	// BaseURL is the vendor API root, without a trailing slash.
	BaseURL string

	// Timeout applies to validate, model listing and non-streaming chat.
	// Streams are bounded by their context only.
	Timeout time.Duration

	// Transport overrides the HTTP transport (nil uses the default).
	Transport http.RoundTripper

	// Headers are sent with every request.
	Headers map[string]string
}

// Client performs HTTP calls against one vendor API. Adapters embed it and
// supply the vendor's Authorizer.
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	baseURL      string
	authorize    Authorizer
	headers      map[string]string
	vendor       ID
}

// NewClient creates a Client for vendor using cfg.
func NewClient(vendor ID, cfg ClientConfig, authorize Authorizer) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient:   &http.Client{Timeout: timeout, Transport: cfg.Transport},
		streamClient: &http.Client{Transport: cfg.Transport},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		authorize:    authorize,
		headers:      cfg.Headers,
		vendor:       vendor,
	}
}

// BaseURL returns the vendor API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetJSON issues a GET to path and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, secret, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, secret, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// PostJSON issues a POST of body to path and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, secret, path string, body, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, secret, body)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// OpenStream issues a streaming POST of body to path. On a 2xx response it
// returns the open body, which the caller must close. Non-2xx responses are
// mapped to an *api.APIError before the body is returned.
func (c *Client) OpenStream(ctx context.Context, secret, path string, body any) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, secret, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, MapNetworkError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, MapHTTPError(resp)
	}
	debug.Log("providers", "stream opened", "vendor", c.vendor, "path", path, "status", resp.StatusCode)
	return resp.Body, nil
}

func (c *Client) newRequest(ctx context.Context, method, path, secret string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, api.NewInternalError(fmt.Sprintf("failed to marshal request: %s", err.Error()))
		}
		if debug.TraceIsEnabled("providers") {
			debug.Raw("providers", fmt.Sprintf(">>> %s %s%s\n%s", method, c.baseURL, path, data))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, api.NewInternalError(fmt.Sprintf("failed to create HTTP request: %s", err.Error()))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.authorize != nil {
		c.authorize(req, secret)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return MapNetworkError(req.Context(), err)
	}
	defer resp.Body.Close()

	debug.Log("providers", "upstream response",
		"vendor", c.vendor,
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return MapHTTPError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return api.NewUpstreamError(resp.StatusCode, fmt.Sprintf("malformed upstream response: %s", err.Error()))
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	c.streamClient.CloseIdleConnections()
	return nil
}
