package api

import (
	"fmt"
	"net/http"
)

// ErrorCode classifies an error for clients and for HTTP status mapping.
type ErrorCode string

const (
	CodeInvalidCredential       ErrorCode = "invalid_credential"
	CodeInsufficientPermissions ErrorCode = "insufficient_permissions"
	CodeUpstreamRateLimited     ErrorCode = "upstream_rate_limited"
	CodeUpstreamBilling         ErrorCode = "upstream_billing"
	CodeUpstreamNetwork         ErrorCode = "upstream_network"
	CodeUpstreamUnknown         ErrorCode = "upstream_unknown"
	CodeValidation              ErrorCode = "validation_error"
	CodeNotFound                ErrorCode = "not_found"
	CodeRateLimited             ErrorCode = "rate_limited"
	CodeUnauthenticated         ErrorCode = "unauthenticated"
	CodeInternal                ErrorCode = "internal"
)

// IsUpstream reports whether the code describes a vendor-side failure.
func (c ErrorCode) IsUpstream() bool {
	switch c {
	case CodeInvalidCredential, CodeInsufficientPermissions, CodeUpstreamRateLimited,
		CodeUpstreamBilling, CodeUpstreamNetwork, CodeUpstreamUnknown:
		return true
	}
	return false
}

// APIError is the structured error returned to clients.
type APIError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`

	// Status is the upstream HTTP status when the error came from a vendor.
	Status int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Code, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus maps the error code to the status returned to clients.
func (e *APIError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeInvalidCredential, CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeInsufficientPermissions:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUpstreamRateLimited, CodeUpstreamBilling, CodeUpstreamNetwork, CodeUpstreamUnknown:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse wraps an APIError as the top-level JSON error body.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// NewValidationError creates an APIError for malformed caller input.
func NewValidationError(param, message string) *APIError {
	return &APIError{Code: CodeValidation, Param: param, Message: message}
}

// NewNotFoundError creates an APIError for a missing thread, key or message.
func NewNotFoundError(message string) *APIError {
	return &APIError{Code: CodeNotFound, Message: message}
}

// NewRateLimitedError creates an APIError for local rate limiter denials.
func NewRateLimitedError(message string) *APIError {
	return &APIError{Code: CodeRateLimited, Message: message, Retryable: true}
}

// NewInternalError creates an APIError for server faults.
func NewInternalError(message string) *APIError {
	return &APIError{Code: CodeInternal, Message: message}
}

// NewUpstreamError creates an APIError from raw vendor error text. The code is
// derived from the text with ClassifyUpstream, falling back to the HTTP status
// when the text matches no rule.
func NewUpstreamError(status int, text string) *APIError {
	code := ClassifyUpstream(text)
	if code == CodeUpstreamUnknown {
		code = CodeFromStatus(status)
	}
	if text == "" {
		text = fmt.Sprintf("upstream request failed (HTTP %d)", status)
	}
	return &APIError{
		Code:      code,
		Message:   text,
		Status:    status,
		Retryable: code == CodeUpstreamRateLimited || code == CodeUpstreamNetwork || status >= 500,
	}
}
