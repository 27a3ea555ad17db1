// Package ciraerr defines the error taxonomy from spec.md §7: typed errors
// distinguishing expected failure modes (validation, state conflicts,
// transient/permanent operational faults) from bugs. Modeled directly on
// the teacher's internal/types/errors.go sentinel+wrapper pattern.
package ciraerr

import (
	"errors"
	"fmt"
)

// Code is a stable external-facing error category. Only Code, Error(), and
// Details are ever surfaced to callers of the control interface — retry
// counts and internal causes stay server-side.
type Code string

const (
	CodeValidation   Code = "validation_error"
	CodeNotFound     Code = "not_found"
	CodeInvalidState Code = "invalid_state"
	CodeTransient    Code = "transient"
	CodePermanent    Code = "permanent"
	CodeFatal        Code = "fatal"
	CodeCancelled    Code = "cancelled"
)

// Error is the taxonomy's single concrete type. Every error the control
// interface returns can be unwrapped to one of these via errors.As.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, ciraerr.New(CodeX, "")) to match on Code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New builds a taxonomy error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds a taxonomy error around an existing cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithDetails attaches structured detail fields and returns the receiver
// for chaining at the call site.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Validation, NotFound, InvalidState, Fatal, Cancelled are convenience
// constructors for the non-retryable categories.
func Validation(format string, args ...any) *Error {
	return New(CodeValidation, fmt.Sprintf(format, args...))
}

func NotFound(kind, id string) *Error {
	return New(CodeNotFound, fmt.Sprintf("%s %q not found", kind, id))
}

func InvalidState(op, current string) *Error {
	return New(CodeInvalidState, fmt.Sprintf("cannot %s: current state is %q", op, current))
}

func Fatal(message string, cause error) *Error {
	return Wrap(CodeFatal, message, cause)
}

func Cancelled(reason string) *Error {
	return New(CodeCancelled, reason)
}

// Transient and Permanent classify operational faults surfaced by the
// fetcher, robots cache, and LLM client.
type Transient struct {
	Op    string
	Cause error
}

func (e *Transient) Error() string { return fmt.Sprintf("transient error in %s: %v", e.Op, e.Cause) }
func (e *Transient) Unwrap() error { return e.Cause }

type Permanent struct {
	Op    string
	Cause error
}

func (e *Permanent) Error() string { return fmt.Sprintf("permanent error in %s: %v", e.Op, e.Cause) }
func (e *Permanent) Unwrap() error { return e.Cause }

// RateLimited is a Transient specialization carrying a server-advised
// backoff (e.g. HTTP 429 Retry-After, or an LLM provider's rate-limit
// response).
type RateLimited struct {
	Op         string
	Cause      error
	RetryAfter float64 // seconds; 0 if unspecified
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("rate limited in %s (retry_after=%.1fs): %v", e.Op, e.RetryAfter, e.Cause)
}
func (e *RateLimited) Unwrap() error { return e.Cause }

// IsRetryable reports whether err represents a condition the caller's own
// retry loop should attempt again. Recognizes both the Transient/
// RateLimited struct wrappers and an *Error carrying CodeTransient, since
// most call sites build the latter via Wrap rather than a struct literal.
func IsRetryable(err error) bool {
	var t *Transient
	var r *RateLimited
	if errors.As(err, &t) || errors.As(err, &r) {
		return true
	}
	var e *Error
	return errors.As(err, &e) && e.Code == CodeTransient
}

// Timeout is returned by RateGate.Acquire when a blocking acquire exceeds
// its deadline without being granted a slot.
var Timeout = errors.New("acquire timed out")
