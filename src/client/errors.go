package client

import (
	"fmt"
	"net/http"
	"time"
)

// HTTPError is a non-2xx API response.
type HTTPError struct {
	StatusCode int
	Code       int
	Message    string
	RetryAfter time.Duration
	Global     bool
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != 0 {
		return fmt.Sprintf("discord api: %d %s (code %d)", e.StatusCode, msg, e.Code)
	}
	return fmt.Sprintf("discord api: %d %s", e.StatusCode, msg)
}

// Temporary reports whether retrying the request may succeed: rate
// limits and server errors are transient, every other 4xx is permanent.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
