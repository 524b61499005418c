package carrier

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is matched by lookups that returned no candidates.
var ErrNotFound = errors.New("carrier: not found")

// ConfigError reports a missing setting. Retrying cannot fix it.
type ConfigError struct {
	Setting string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("carrier: %s is not configured", e.Setting)
}

func (e *ConfigError) Retryable() bool { return false }

// APIError is a non-2xx answer from the carrier.
type APIError struct {
	StatusCode int
	Body       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("carrier: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("carrier: status %d", e.StatusCode)
}

// Retryable is true for server errors and rate limiting; 4xx answers are payload
// problems such as an unknown city.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// LookupError is returned when a county or city name has no match.
type LookupError struct {
	Kind string
	Name string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("carrier: %s %q not found", e.Kind, e.Name)
}

func (e *LookupError) Unwrap() error { return ErrNotFound }

func (e *LookupError) Retryable() bool { return false }

// carrierMessage extracts the carrier's own error text from a response body.
func carrierMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
		Errors  any    `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if parsed.Message != "" {
		return parsed.Message
	}
	switch e := parsed.Error.(type) {
	case string:
		return e
	case map[string]any:
		if m, ok := e["message"].(string); ok {
			return m
		}
	}
	if parsed.Errors != nil {
		raw, _ := json.Marshal(parsed.Errors)
		return string(raw)
	}
	return ""
}
