package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/ironsheep/page-tiler/internal/imaging"
)

// ErrClosed is returned by operations on a closed channel.
var ErrClosed = errors.New("transport channel closed")

// Code classifies an Error.
type Code string

const (
	// CodeInit marks a worker that never acknowledged Init. It is fatal
	// for the client; recovery means starting a new worker.
	CodeInit            Code = "init"
	CodeClosed          Code = "closed"
	CodeDecode          Code = "decode"
	CodeOutOfBounds     Code = "out_of_bounds"
	CodeUseAfterClose   Code = "use_after_close"
	CodeUnknownImage    Code = "unknown_image"
	CodeInvalidArgument Code = "invalid_argument"
	CodeCanceled        Code = "canceled"
	CodeProtocol        Code = "protocol"
	CodeInternal        Code = "internal"
)

// Error is both the Error response body and the error returned to the
// caller awaiting it.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (*Error) Kind() Kind { return KindError }

func (e *Error) Error() string {
	return fmt.Sprintf("transport error (%s): %s", e.Code, e.Message)
}

// Unwrap maps codes back onto the sentinel errors they were created from,
// so errors.Is works on both sides of the transport.
func (e *Error) Unwrap() error {
	switch e.Code {
	case CodeUseAfterClose, CodeUnknownImage:
		return imaging.ErrUseAfterClose
	case CodeOutOfBounds:
		return imaging.ErrOutOfBounds
	case CodeInvalidArgument:
		return imaging.ErrInvalidArgument
	case CodeCanceled:
		return context.Canceled
	case CodeClosed:
		return ErrClosed
	default:
		return nil
	}
}

// errorFrom converts a worker-side failure into an Error response.
func errorFrom(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	var decodeErr *imaging.DecodeError
	code := CodeInternal
	switch {
	case errors.As(err, &decodeErr):
		code = CodeDecode
	case errors.Is(err, imaging.ErrOutOfBounds):
		code = CodeOutOfBounds
	case errors.Is(err, imaging.ErrUseAfterClose):
		code = CodeUseAfterClose
	case errors.Is(err, imaging.ErrInvalidArgument):
		code = CodeInvalidArgument
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = CodeCanceled
	}
	return &Error{Code: code, Message: err.Error()}
}

func unexpected(resp Body) *Error {
	return &Error{Code: CodeProtocol, Message: fmt.Sprintf("unexpected response %s", resp.Kind())}
}
