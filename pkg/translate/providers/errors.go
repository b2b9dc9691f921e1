package providers

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from a backend.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d)", e.Provider, e.StatusCode)
}

// IsTransient reports whether an error is worth one retry: timeouts,
// connection failures and 5xx/429 responses. Client errors (4xx other than
// 429) and validation failures are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError ||
			apiErr.StatusCode == http.StatusTooManyRequests
	}

	// Anything that is not an API-level rejection is a network-layer
	// failure and may succeed on retry.
	return true
}
