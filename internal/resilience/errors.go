// Package resilience wraps single network operations with retry, backoff and
// error classification.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// Error codes for the collection error taxonomy.
const (
	CodeRetryableNetwork  = "E_RETRYABLE_NETWORK"
	CodeTerminalRequest   = "E_TERMINAL_REQUEST"
	CodeCostExceeded      = "E_COST_EXCEEDED"
	CodeParse             = "E_PARSE"
	CodeExhaustedRetries  = "E_EXHAUSTED_RETRIES"
	CodeSourceUnavailable = "E_SOURCE_UNAVAILABLE"
)

// Error carries an error code and retryability hint.
type Error struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error         { return e.Err }
func (e *Error) CodeValue() string     { return e.Code }
func (e *Error) RetryableStatus() bool { return e.Retryable }

// CodedError exposes error metadata for classification and run manifests.
type CodedError interface {
	error
	CodeValue() string
	RetryableStatus() bool
}

// RetryAfterHinter is implemented by errors that carry a server-supplied
// Retry-After delay (HTTP 429 responses).
type RetryAfterHinter interface {
	RetryAfterHint() (time.Duration, bool)
}

// RetryableNetwork tags a transient failure (timeout, 429, 5xx, reset).
func RetryableNetwork(err error) *Error {
	return &Error{Code: CodeRetryableNetwork, Retryable: true, Err: err}
}

// TerminalRequest tags a permanent failure (404, malformed query, bad auth).
func TerminalRequest(err error) *Error {
	return &Error{Code: CodeTerminalRequest, Retryable: false, Err: err}
}

// CostExceeded tags a budget violation on a metered backend. Never retried.
func CostExceeded(err error) *Error {
	return &Error{Code: CodeCostExceeded, Retryable: false, Err: err}
}

// Parse tags a malformed payload. Adapter-local, never retried.
func Parse(err error) *Error {
	return &Error{Code: CodeParse, Retryable: false, Err: err}
}

// SourceUnavailable tags total source failure: pre-flight health check
// failed, or every unit in a run failed. The only error that fails a run.
func SourceUnavailable(err error) *Error {
	return &Error{Code: CodeSourceUnavailable, Retryable: false, Err: err}
}

// exhausted wraps the last error after the retry budget is spent.
func exhausted(attempts int, err error) *Error {
	return &Error{
		Code:      CodeExhaustedRetries,
		Retryable: false,
		Err:       fmt.Errorf("%d attempts: %w", attempts, err),
	}
}

// Code extracts the taxonomy code from an error, defaulting to
// CodeTerminalRequest for unclassified errors.
func Code(err error) string {
	var ce CodedError
	if errors.As(err, &ce) {
		return ce.CodeValue()
	}
	return CodeTerminalRequest
}

// IsRetryable classifies an error as retryable or terminal. Pure function:
// coded errors carry their own hint; otherwise timeouts, connection resets
// and cancelled deadlines count as retryable.
func IsRetryable(err error) bool {
	var ce CodedError
	if errors.As(err, &ce) {
		return ce.RetryableStatus()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// retryAfter extracts a server-supplied backoff hint if present.
func retryAfter(err error) (time.Duration, bool) {
	var h RetryAfterHinter
	if errors.As(err, &h) {
		return h.RetryAfterHint()
	}
	return 0, false
}
