package api

import (
	"net/http"
	"strings"
)

// classifyRule maps any of its substrings to an error code.
type classifyRule struct {
	code    ErrorCode
	needles []string
}

// classifyRules is evaluated in order; the first matching rule wins.
var classifyRules = []classifyRule{
	{CodeInvalidCredential, []string{"unauthorized", "invalid api key", "invalid x-api-key", "api key", "invalid"}},
	{CodeInsufficientPermissions, []string{"permission", "forbidden", "access"}},
	{CodeUpstreamRateLimited, []string{"rate limit", "rate_limit", "too many requests"}},
	{CodeUpstreamBilling, []string{"quota", "billing", "insufficient", "credit"}},
	{CodeUpstreamNetwork, []string{"timeout", "timed out", "network", "unavailable", "connection"}},
}

// ClassifyUpstream maps raw vendor error text to an error code using
// case-insensitive substring matching. Unmatched text is CodeUpstreamUnknown.
func ClassifyUpstream(text string) ErrorCode {
	lower := strings.ToLower(text)
	for _, rule := range classifyRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return rule.code
			}
		}
	}
	return CodeUpstreamUnknown
}

// CodeFromStatus maps an upstream HTTP status to an error code. It is used
// only when the response text did not classify.
func CodeFromStatus(status int) ErrorCode {
	switch {
	case status == http.StatusUnauthorized:
		return CodeInvalidCredential
	case status == http.StatusForbidden:
		return CodeInsufficientPermissions
	case status == http.StatusTooManyRequests:
		return CodeUpstreamRateLimited
	case status == http.StatusPaymentRequired:
		return CodeUpstreamBilling
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout,
		status == http.StatusServiceUnavailable:
		return CodeUpstreamNetwork
	default:
		return CodeUpstreamUnknown
	}
}
