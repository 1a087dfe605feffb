package agent

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNoAPIKey is returned when the chat endpoint has no credentials.
	ErrNoAPIKey = errors.New("agent: llm api key not configured")

	// ErrNoChoices is returned when the model response has no choices.
	ErrNoChoices = errors.New("agent: model returned no choices")

	// ErrTurnLimit is returned when the model keeps calling tools past the turn budget.
	ErrTurnLimit = errors.New("agent: turn limit reached without a final answer")

	// ErrNoConnection is returned when RunAgent is handed a session whose
	// tool connection has been closed.
	ErrNoConnection = errors.New("agent: no tool connection for session")
)

// StatusError is a non-200 answer from the chat endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat completion failed with status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the request may succeed if sent again.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return errors.Is(err, errTransport)
}

// errTransport marks failures to reach the endpoint at all.
var errTransport = errors.New("agent: transport failure")
