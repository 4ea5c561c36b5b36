// Package tool provides the plumbing graph nodes use to call external
// services: a named Tool identity and a rate-limited JSON-over-HTTP client.
package tool

import (
	"fmt"
	"net/http"
)

// Tool is an external collaborator a node calls.
//
// The name appears in errors, logs and events so that a failed lookup can be
// traced to the service that caused it.
type Tool interface {
	Name() string
}

// StatusError reports a non-2xx response from a tool's upstream service.
type StatusError struct {
	Tool       string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s: %s returned %d: %s", e.Tool, e.URL, e.StatusCode, body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
