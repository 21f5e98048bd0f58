package provider

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAuthExchangeFailed means the authorization code was rejected.
	ErrAuthExchangeFailed = errors.New("auth exchange failed")
	// ErrProviderRequestFailed matches every non-2xx API response.
	ErrProviderRequestFailed = errors.New("provider request failed")
	// ErrForeignURI is returned for links that point outside the API host.
	ErrForeignURI = errors.New("uri outside provider api")
)

type RequestError struct {
	Method     string
	URL        string
	StatusCode int
	Message    string
	// RetryAfter is the provider's Retry-After hint, 0 when absent.
	RetryAfter time.Duration
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider %s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("provider %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
}

func (e *RequestError) Is(target error) bool {
	return target == ErrProviderRequestFailed
}

// StatusCode extracts the HTTP status from a provider error, or 0.
func StatusCode(err error) int {
	var re *RequestError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}
