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
	CodeInvalidArgument  = Code(codes.InvalidArgument)
	CodeNotFound         = Code(codes.NotFound)
	CodeAlreadyExists    = Code(codes.AlreadyExists)
	CodePermissionDenied = Code(codes.PermissionDenied)
	CodeInternal         = Code(codes.Internal)
	CodeUnauthenticated  = Code(codes.Unauthenticated)
)

// Reasons refine a code into the failure kinds reported to live quiz clients.
const (
	ReasonPermissionDenied  = "PERMISSION_DENIED"
	ReasonNotFound          = "NOT_FOUND"
	ReasonOwnershipMismatch = "OWNERSHIP_MISMATCH"
	ReasonInvalidCode       = "INVALID_CODE"
	ReasonInvalidCredential = "INVALID_CREDENTIAL"
	ReasonInvalidArgument   = "INVALID_ARGUMENT"
	ReasonAlreadyExists     = "ALREADY_EXISTS"
	ReasonInternal          = "INTERNAL"
)

var code2http = map[Code]int{
	CodeInvalidArgument:  http.StatusBadRequest,
	CodeNotFound:         http.StatusNotFound,
	CodeAlreadyExists:    http.StatusConflict,
	CodePermissionDenied: http.StatusForbidden,
	CodeInternal:         http.StatusInternalServerError,
	CodeUnauthenticated:  http.StatusUnauthorized,
}

var code2reason = map[Code]string{
	CodeInvalidArgument:  ReasonInvalidArgument,
	CodeNotFound:         ReasonNotFound,
	CodeAlreadyExists:    ReasonAlreadyExists,
	CodePermissionDenied: ReasonPermissionDenied,
	CodeInternal:         ReasonInternal,
	CodeUnauthenticated:  ReasonInvalidCredential,
}

type Error struct {
	Code    Code   `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Reason:  code2reason[code],
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	if e.Reason == "" {
		e.Reason = ReasonInternal
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, reason: %s, message: %s", e.Code, e.Reason, e.Message)
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
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

// Is reports whether err carries the given reason.
func Is(err error, reason string) bool {
	var e *Error
	return errors.As(err, &e) && e.Reason == reason
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

func AlreadyExists(err error, format string, args ...any) *Error {
	return New(CodeAlreadyExists, WithMessagef(format, args...), WithCause(err))
}

func PermissionDenied(format string, args ...any) *Error {
	return New(CodePermissionDenied, WithMessagef(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, WithMessagef(format, args...))
}

func OwnershipMismatch(format string, args ...any) *Error {
	return New(CodePermissionDenied, WithReason(ReasonOwnershipMismatch), WithMessagef(format, args...))
}

func InvalidCode(format string, args ...any) *Error {
	return New(CodeNotFound, WithReason(ReasonInvalidCode), WithMessagef(format, args...))
}

func InvalidCredential(err error) *Error {
	return New(CodeUnauthenticated, WithMessagef("invalid credential"), WithCause(err))
}

func InvalidArgument(format string, args ...any) *Error {
	return New(CodeInvalidArgument, WithMessagef(format, args...))
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
