package apperr

import (
	"context"
	"errors"
	"fmt"
)

// AppError is the error shape that crosses the orchestrator boundary.
// Reason is a stable snake_case code for clients, Message a short summary.
// Cause is kept for logs only.
type AppError struct {
	Code    Code   `json:"code"`
	Reason  string `json:"error"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

func New(code Code, reason, message string) error {
	return &AppError{Code: code, Reason: reason, Message: message}
}

func Wrap(code Code, reason, message string, cause error) error {
	return &AppError{Code: code, Reason: reason, Message: message, Cause: cause}
}

func InvalidArg(reason, msg string) error {
	return New(CodeInvalidArgument, reason, msg)
}

func Unauthenticated(reason, msg string) error {
	return New(CodeUnauthenticated, reason, msg)
}

func Forbidden(reason, msg string) error {
	return New(CodePermissionDenied, reason, msg)
}

func NotFound(reason, msg string) error {
	return New(CodeNotFound, reason, msg)
}

// Unavailable wraps a backing store failure. The cause never reaches clients.
func Unavailable(cause error) error {
	return Wrap(CodeUnavailable, "service_unavailable", "service temporarily unavailable", cause)
}

func Internal(cause error) error {
	return Wrap(CodeInternal, "server_error", "internal server error", cause)
}

// From returns the AppError in err's chain, or an Internal error wrapping err.
// Context deadline failures are reported as Unavailable.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		errors.As(Unavailable(err), &appErr)
		return appErr
	}
	errors.As(Internal(err), &appErr)
	return appErr
}

// CodeOf reports the code of err, CodeUnknown when err is not an AppError.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}
