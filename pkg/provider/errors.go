package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/provider/sse"
)

// maxErrorBody bounds how much of a non-2xx body is read.
const maxErrorBody = 1 << 20

// MapHTTPError converts a non-2xx response into an *api.APIError. The raw
// body text becomes the message so it can be classified downstream.
func MapHTTPError(resp *http.Response) *api.APIError {
	var text string
	if resp.Body != nil {
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err == nil {
			text = strings.TrimSpace(string(data))
		}
	}
	return api.NewUpstreamError(resp.StatusCode, text)
}

// MapNetworkError converts a transport-level failure (connection refused,
// DNS, timeout) into an *api.APIError. A cancelled context is reported as
// the context error so callers can tell it apart from a vendor failure.
func MapNetworkError(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return ctx.Err()
	}
	apiErr := api.NewUpstreamError(0, "network error: "+err.Error())
	apiErr.Code = api.CodeUpstreamNetwork
	apiErr.Retryable = true
	return apiErr
}

// MapStreamError converts a failure reading an open stream body. A dropped
// connection is a retryable network failure; an oversized frame is a
// protocol failure and is not retried.
func MapStreamError(err error) *api.APIError {
	apiErr := api.NewUpstreamError(0, "stream read error: "+err.Error())
	if errors.Is(err, sse.ErrFrameTooLarge) {
		apiErr.Code = api.CodeUpstreamUnknown
		apiErr.Retryable = false
		return apiErr
	}
	apiErr.Code = api.CodeUpstreamNetwork
	apiErr.Retryable = true
	return apiErr
}

// AsAPIError returns err as an *api.APIError, wrapping unknown errors as
// upstream failures.
func AsAPIError(err error) *api.APIError {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return api.NewUpstreamError(0, err.Error())
}
