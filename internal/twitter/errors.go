package twitter

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is any non-2xx response from the remote service. StatusCode
// distinguishes the interesting cases: 401 during a token probe means the
// delegated registration is missing or revoked, 400 with an exhausted quota
// means rate limiting, 503 is the capacity whale.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("twitter: HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("twitter: HTTP %d", e.StatusCode)
}

// IsUnauthorized reports whether err is an HTTP 401 from the remote service.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsOverCapacity reports whether err is an HTTP 503, which the remote service
// returns when it is over capacity.
func IsOverCapacity(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable
}
