// Package coreerr defines the typed error taxonomy shared across the core:
// every error that can reach a gateway caller carries a wire-visible Code()
// in addition to its Go error chain, so handlers never need a switch over
// error strings to answer "what code goes on the wire for this".
package coreerr

import "errors"

// Code is one of the wire error.code values from the wire protocol.
type Code string

const (
	CodeInvalidRequest   Code = "invalid-request"
	CodeUnknownMethod    Code = "unknown-method"
	CodeUnauthorized     Code = "unauthorized"
	CodeUnauthorizedRole Code = "unauthorized-role"
	CodeMissingScope     Code = "missing-scope"
	CodeProtocolVersion  Code = "protocol-version"
	CodePayloadTooLarge  Code = "payload-too-large"
	CodeRateLimited      Code = "rate-limited"
	CodeTimeout          Code = "timeout"
	CodeContextOverflow  Code = "context-overflow"
	CodeNotFound         Code = "not-found"
	CodeConflict         Code = "conflict"
	CodeLockTimeout      Code = "lock-timeout"
	CodeCorruptStore     Code = "corrupt-store"
	CodeInternal         Code = "internal"
)

// CodedError is implemented by every sentinel in this package, and by any
// error a handler wants mapped to a specific wire code.
type CodedError interface {
	error
	Code() Code
}

type codedError struct {
	code Code
	msg  string
}

func (e *codedError) Error() string { return e.msg }
func (e *codedError) Code() Code    { return e.code }

func newSentinel(code Code, msg string) error {
	return &codedError{code: code, msg: msg}
}

// Sentinels for the core-specific and facade-surfaced kinds named in the
// error taxonomy (§4.H). AuthError, RateLimitError, BillingError,
// TimeoutError and ContextOverflowError are surfaced from the Agent Executor
// Facade; the rest originate in the core itself.
var (
	ErrAuth            = newSentinel(CodeUnauthorized, "authentication failed")
	ErrRateLimited     = newSentinel(CodeRateLimited, "rate limited")
	ErrBilling         = newSentinel(CodeInternal, "billing error")
	ErrTimeout         = newSentinel(CodeTimeout, "operation timed out")
	ErrContextOverflow = newSentinel(CodeContextOverflow, "context window exceeded")
	ErrProtocol        = newSentinel(CodeProtocolVersion, "protocol error")
	ErrUnauthorized    = newSentinel(CodeUnauthorized, "unauthorized")
	ErrUnauthorizedRole = newSentinel(CodeUnauthorizedRole, "role is not permitted to invoke this method")
	ErrMissingScope    = newSentinel(CodeMissingScope, "missing required scope")
	ErrNotFound        = newSentinel(CodeNotFound, "not found")
	ErrConflict        = newSentinel(CodeConflict, "conflict")
	ErrLockTimeout     = newSentinel(CodeLockTimeout, "lock acquisition timed out")
	ErrCorruptStore    = newSentinel(CodeCorruptStore, "store file is corrupt")
	ErrUnknownMethod   = newSentinel(CodeUnknownMethod, "unknown method")
	ErrInvalidRequest  = newSentinel(CodeInvalidRequest, "invalid request")
	ErrPayloadTooLarge = newSentinel(CodePayloadTooLarge, "payload too large")
)

// CodeOf maps any error to a wire code, defaulting to "internal" when the
// error does not implement CodedError and is not wrapping one.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ce CodedError
	if errors.As(err, &ce) {
		return ce.Code()
	}
	return CodeInternal
}

// New constructs an ad-hoc coded error, for call sites that need a specific
// wire code without a package-level sentinel (e.g. a handler rejecting a
// malformed params object).
func New(code Code, msg string) error {
	return newSentinel(code, msg)
}
