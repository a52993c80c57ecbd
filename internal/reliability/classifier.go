package reliability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Kind is the coarse class of a provider failure.
type Kind string

const (
	KindNone     Kind = ""
	KindQuota    Kind = "quota"
	KindTimeout  Kind = "timeout"
	KindCanceled Kind = "canceled"
	KindGeneric  Kind = "generic"
)

// StatusError is returned by plain HTTP provider adapters for non-2xx replies.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return e.Provider + " returned HTTP " + http.StatusText(e.StatusCode) + ": " + e.Body
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

var quotaMarkers = []string{
	"insufficient_quota",
	"exceeded your current quota",
	"billing",
	"resource_exhausted",
	"quota",
}

// Classify maps a provider error onto a Kind. Context errors win over any
// provider payload so a disconnecting caller is never reported as an outage.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if isQuotaCode(apiErr.Code) || isQuotaCode(apiErr.Type) || apiErr.HTTPStatusCode == http.StatusPaymentRequired {
			return KindQuota
		}
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests && hasQuotaMarker(apiErr.Message) {
			return KindQuota
		}
		return KindGeneric
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusPaymentRequired {
		return KindQuota
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusPaymentRequired:
			return KindQuota
		case statusErr.StatusCode == http.StatusGatewayTimeout || statusErr.StatusCode == http.StatusRequestTimeout:
			return KindTimeout
		case statusErr.StatusCode == http.StatusTooManyRequests && hasQuotaMarker(statusErr.Body):
			return KindQuota
		}
		return KindGeneric
	}

	// Gemini reports quota exhaustion through its status string.
	if hasQuotaMarker(err.Error()) {
		return KindQuota
	}
	return KindGeneric
}

// ShouldFallback reports whether a secondary provider is worth trying after err.
func ShouldFallback(err error) bool {
	switch Classify(err) {
	case KindNone, KindCanceled:
		return false
	}
	if code := httpStatusOf(err); code > 0 && code < 500 {
		return code == http.StatusPaymentRequired || IsRetryableHTTPStatus(code)
	}
	return true
}

// httpStatusOf extracts the upstream HTTP status carried by err, or 0.
func httpStatusOf(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func isQuotaCode(code any) bool {
	s, ok := code.(string)
	if !ok {
		return false
	}
	return hasQuotaMarker(s)
}

func hasQuotaMarker(s string) bool {
	s = strings.ToLower(s)
	for _, marker := range quotaMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
