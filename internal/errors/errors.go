package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodeAlreadyExists      = Code(codes.AlreadyExists)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodePermissionDenied   = Code(codes.PermissionDenied)
	CodeUnavailable        = Code(codes.Unavailable)
	CodeInternal           = Code(codes.Internal)
	CodeUnauthenticated    = Code(codes.Unauthenticated)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodeFailedPrecondition: http.StatusConflict,
	CodePermissionDenied:   http.StatusForbidden,
	CodeUnavailable:        http.StatusServiceUnavailable,
	CodeInternal:           http.StatusInternalServerError,
	CodeUnauthenticated:    http.StatusUnauthorized,
}

// Reasons narrow a code down to one failure of the assessment flow.
const (
	ReasonInvalidDefinition   = "INVALID_DEFINITION"
	ReasonMalformedSubmission = "MALFORMED_SUBMISSION"
	ReasonDuplicateSubmission = "DUPLICATE_SUBMISSION"
	ReasonPersistenceFailure  = "PERSISTENCE_FAILURE"
	ReasonSessionNotActive    = "SESSION_NOT_ACTIVE"
	ReasonTimeOver            = "TIME_OVER"
)

// Sentinels for errors.Is. Matching compares code and reason only, so any error
// built with the same code and reason matches regardless of message or cause.
var (
	ErrInvalidDefinition   = New(CodeFailedPrecondition, WithReason(ReasonInvalidDefinition))
	ErrMalformedSubmission = New(CodeInvalidArgument, WithReason(ReasonMalformedSubmission))
	ErrDuplicateSubmission = New(CodeAlreadyExists, WithReason(ReasonDuplicateSubmission))
	ErrPersistenceFailure  = New(CodeUnavailable, WithReason(ReasonPersistenceFailure))
	ErrSessionNotActive    = New(CodeFailedPrecondition, WithReason(ReasonSessionNotActive))
	ErrTimeOver            = New(CodeFailedPrecondition, WithReason(ReasonTimeOver))
)

type Error struct {
	Code    Code   `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.Reason != "" {
		s += fmt.Sprintf(", reason: %s", e.Reason)
	}
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return e.Code == t.Code && e.Reason == t.Reason
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

// Is reports whether err carries the same code and reason as target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}

func WithReason(reason string) Option {
	return optionFunc(func(e *Error) {
		e.Reason = reason
	})
}

// From derives a new error from a sentinel, keeping its code and reason.
func From(sentinel *Error, opts ...Option) *Error {
	e := New(sentinel.Code, WithReason(sentinel.Reason))
	e.Message = sentinel.Message

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}
