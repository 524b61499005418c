package webhook

import (
	"fmt"
	"net/http"
)

// ConfigError is returned when the URL for a purpose is not configured.
type ConfigError struct {
	Name string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("webhook %s: url is not configured", e.Name)
}

func (e *ConfigError) Retryable() bool { return false }

type StatusError struct {
	Name       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook %s: status %d: %s", e.Name, e.StatusCode, truncate(e.Body, 200))
}

func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// MalformedError is a 2xx answer whose body does not have the expected shape.
type MalformedError struct {
	Name   string
	Reason string
	Body   string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("webhook %s: malformed response: %s", e.Name, e.Reason)
}

func (e *MalformedError) Retryable() bool { return false }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
