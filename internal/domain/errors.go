package domain

import (
	"errors"
	"fmt"
)

// Application error codes. The string values are part of the wire format:
// they appear verbatim in the "error" field of terminal stream events.
const (
	EINVALID             = "invalid_request"        // Malformed body or missing fields
	EUNAUTHENTICATED     = "unauthenticated"        // Missing or invalid bearer token
	ENOTFOUND            = "subscription_not_found" // Tenant has no subscription
	EINACTIVE            = "subscription_inactive"  // Subscription expired or suspended
	EMODELNOTALLOWED     = "model_not_allowed"      // Model outside the tenant's allow-list
	ERATELIMIT           = "rate_limited"           // Per-minute ceiling reached
	EINSUFFICIENTCREDITS = "insufficient_credits"   // Balance cannot cover the request
	EUPSTREAM            = "upstream_error"         // Provider failure
	EINTERNAL            = "internal_error"         // Orchestration bug
)

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "ledger.deduct")
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new Error with the given code, operation, and formatted message.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code, op, message string) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the code of the root error, or EINTERNAL if none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns the human-readable message of the error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		// For internal errors, return generic message
		if e.Code == EINTERNAL {
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}
	return "An internal error occurred. Please try again later."
}

// ErrorOp returns the operation of the root error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Convenience constructors for common error types

// Invalid creates a validation error.
func Invalid(op, message string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Unauthenticated creates an authentication error.
func Unauthenticated(op, message string) *Error {
	return &Error{
		Code:    EUNAUTHENTICATED,
		Op:      op,
		Message: message,
	}
}

// SubscriptionNotFound reports a tenant without a subscription row.
func SubscriptionNotFound(op, tenantID string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("no subscription for tenant %q", tenantID),
	}
}

// SubscriptionInactive reports a subscription whose status is not active.
func SubscriptionInactive(op string, status SubscriptionStatus) *Error {
	return &Error{
		Code:    EINACTIVE,
		Op:      op,
		Message: fmt.Sprintf("subscription is %s", status),
	}
}

// ModelNotAllowed reports a model outside the tenant's allow-list.
func ModelNotAllowed(op, model string) *Error {
	return &Error{
		Code:    EMODELNOTALLOWED,
		Op:      op,
		Message: fmt.Sprintf("model %s not allowed", model),
	}
}

// RateLimit creates a rate limit error.
func RateLimit(op string) *Error {
	return &Error{
		Code:    ERATELIMIT,
		Op:      op,
		Message: "Too many requests. Please try again later.",
	}
}

// InsufficientCredits reports a balance that cannot cover the charge.
func InsufficientCredits(op string, need, have int64) *Error {
	return &Error{
		Code:    EINSUFFICIENTCREDITS,
		Op:      op,
		Message: fmt.Sprintf("need %d credits, have %d", need, have),
	}
}

// Upstream wraps a provider failure. The provider's own message is kept so
// callers see what the upstream actually said.
func Upstream(err error, op string) *Error {
	msg := "upstream provider failed"
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Code:    EUPSTREAM,
		Op:      op,
		Message: msg,
		Err:     err,
	}
}

// Internal creates an internal error, wrapping the underlying error.
func Internal(err error, op, message string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}
