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
	// CodeInvalidArgument covers malformed create/vote requests. Rejected
	// before any state is touched.
	CodeInvalidArgument = Code(codes.InvalidArgument)
	// CodeNotFound covers operations on a poll id that does not exist.
	CodeNotFound = Code(codes.NotFound)
	// CodeAlreadyExists covers duplicate vote submissions.
	CodeAlreadyExists = Code(codes.AlreadyExists)
	// CodeFailedPrecondition covers votes against a poll that is no longer
	// accepting them.
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	// CodeOutOfRange covers option indexes outside the poll's option list.
	CodeOutOfRange = Code(codes.OutOfRange)
	// CodeUnavailable covers infrastructure failures the caller may retry.
	CodeUnavailable = Code(codes.Unavailable)
	CodeInternal    = Code(codes.Internal)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodeFailedPrecondition: http.StatusConflict,
	CodeOutOfRange:         http.StatusConflict,
	CodeUnavailable:        http.StatusServiceUnavailable,
	CodeInternal:           http.StatusInternalServerError,
}

// Error is a typed result, not an exception: validation and conflict outcomes
// are routine and must stay distinguishable for the caller. Message is the
// human-readable reason shown to the participant.
type Error struct {
	Code    Code   `json:"code"`
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

// Convert returns err as an *Error, wrapping unknown errors as internal.
func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

// IsCode reports whether err is an *Error carrying the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

// Unavailable marks an infrastructure failure as retryable for the caller.
func Unavailable(err error) *Error {
	return New(CodeUnavailable,
		WithMessagef("storage temporarily unavailable"),
		WithCause(err),
	)
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
