// Package gateway provides resilient access to upstream text generation.
//
// This file defines the error taxonomy surfaced by the gateway. Only
// these errors escape Generate; per-backend failures are absorbed by
// the fallback walk.
package gateway

import (
	"errors"
	"fmt"
)

// ErrBreakerOpen is returned when the circuit breaker is open and the
// call was short-circuited without any network attempt.
var ErrBreakerOpen = errors.New("generation circuit breaker is open")

// ExhaustedError is returned when every backend in the fallback chain
// failed. Last carries the final underlying error.
type ExhaustedError struct {
	Last error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return "all generation backends failed"
	}
	return fmt.Sprintf("all generation backends failed: %v", e.Last)
}

// Unwrap exposes the last underlying backend error to errors.Is/As.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}
