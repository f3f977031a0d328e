// Package provider holds types shared across the STT, LLM, and TTS provider
// adapter families.
package provider

import (
	"errors"
	"fmt"
)

// Error is the uniform failure type returned by provider adapters for non-2xx
// responses and network timeouts. The session engine treats it as a
// recoverable per-turn failure rather than a session-fatal error.
type Error struct {
	// Provider is the vendor name (e.g., "deepgram", "openai").
	Provider string

	// Stage is the pipeline stage: "stt", "llm", "tts", or "tool".
	Stage string

	// StatusCode is the HTTP status of the failed request, or 0 for
	// transport-level failures.
	StatusCode int

	// Err is the underlying cause. May be nil when StatusCode alone
	// describes the failure.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: unexpected status %d", e.Provider, e.Stage, e.StatusCode)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// IsError reports whether err is (or wraps) a provider *Error.
func IsError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}
