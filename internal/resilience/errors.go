package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps an I/O or backend error that is safe to retry
// (e.g., 429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// TimeoutError marks an attempt aborted by the job's hard timeout. It is
// retryable like any other fatal failure and consumes one attempt.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	return "attempt timed out: " + e.Err.Error()
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// NewTimeoutError wraps an error as a hard-timeout failure.
func NewTimeoutError(err error) *TimeoutError {
	return &TimeoutError{Err: err}
}

// ProviderError marks an OCR or AI backend failure. Retryable up to the
// job's attempt budget.
type ProviderError struct {
	Err      error
	Provider string
	Model    string
}

func (e *ProviderError) Error() string {
	return e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps a backend failure with its provider and model.
func NewProviderError(err error, provider, model string) *ProviderError {
	return &ProviderError{Err: err, Provider: provider, Model: model}
}

// ValidationError marks extracted data that failed structural validation.
// Terminal: the document moves to validation_failed and is never retried.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Errors, "; ")
}

// NewValidationError creates a ValidationError from individual findings.
func NewValidationError(findings []string) *ValidationError {
	return &ValidationError{Errors: findings}
}

// ConfigError marks a missing or invalid session configuration. Terminal
// and surfaced immediately without consuming a queue retry.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError wraps a configuration failure.
func NewConfigError(err error) *ConfigError {
	return &ConfigError{Err: err}
}

// IsRetryable reports whether a fatal attempt failure should consume a
// retry from the job's attempt budget. Validation and configuration
// failures are terminal; everything else (provider crashes, timeouts,
// transient I/O, unclassified surprises) is retried until the budget is
// exhausted.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return false
	}

	return true
}

// IsTimeout reports whether the error chain contains a hard-timeout
// failure or a context deadline expiry.
func IsTimeout(err error) bool {
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns (network
// timeouts, connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
