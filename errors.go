package stgstress

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/stgstress/internal/scsi"
	"github.com/ehrlich-b/stgstress/internal/transport"
	"github.com/ehrlich-b/stgstress/internal/wire"
)

// ErrorCode classifies a failure for callers that dispatch on class
// rather than message text.
type ErrorCode int

const (
	// ErrCodeUnknown covers failures outside the named classes. The
	// originating errno, when there is one, travels in Error.Errno.
	ErrCodeUnknown ErrorCode = iota

	// ErrCodeInvalidParameters marks malformed input: bad target syntax,
	// malformed requests, out-of-range operation parameters.
	ErrCodeInvalidParameters

	// ErrCodeNoResources marks allocation failure.
	ErrCodeNoResources

	// ErrCodeIODevice marks device-level failure: non-GOOD status, short
	// transfer, content verification mismatch, lost correlation, or a
	// reported geometry that violates the open-time invariants.
	ErrCodeIODevice

	// ErrCodeBusy marks a transiently unavailable target.
	ErrCodeBusy

	// ErrCodeUnsupported marks an operation the backend cannot perform.
	ErrCodeUnsupported
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeInvalidParameters:
		return "invalid parameters"
	case ErrCodeNoResources:
		return "no resources"
	case ErrCodeIODevice:
		return "i/o device failure"
	case ErrCodeBusy:
		return "target busy"
	case ErrCodeUnsupported:
		return "operation not supported"
	default:
		return "unknown failure"
	}
}

// Error is the uniform failure record. Addr and Count are meaningful
// only when the failure is tied to a specific block range.
type Error struct {
	Op     string
	Target string
	Addr   uint64
	Count  uint32
	Code   ErrorCode
	Errno  unix.Errno
	Msg    string
	Inner  error
}

func (e *Error) Error() string {
	s := e.Op
	if e.Target != "" {
		s += " " + e.Target
	}
	if e.Count != 0 {
		s += fmt.Sprintf(" [%d+%d]", e.Addr, e.Count)
	}
	s += ": " + e.Code.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Inner != nil {
		s += ": " + e.Inner.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// NewError builds an Error with an explicit code.
func NewError(op, target string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Target: target, Code: code, Msg: msg}
}

// WrapError classifies err into the taxonomy and attaches the operation
// context. A nil err returns nil.
func WrapError(op, target string, err error) *Error {
	if err == nil {
		return nil
	}
	var stgErr *Error
	if errors.As(err, &stgErr) {
		return stgErr
	}

	e := &Error{Op: op, Target: target, Inner: err, Code: classify(err)}
	var errno unix.Errno
	if errors.As(err, &errno) {
		e.Errno = errno
	}
	return e
}

func classify(err error) ErrorCode {
	switch {
	case errors.Is(err, transport.ErrUnsupported):
		return ErrCodeUnsupported
	case errors.Is(err, transport.ErrDesync),
		errors.Is(err, transport.ErrShortTransfer),
		errors.Is(err, transport.ErrProbe),
		errors.Is(err, wire.ErrInvalidGeometry),
		errors.Is(err, scsi.ErrShortData):
		return ErrCodeIODevice
	case errors.Is(err, transport.ErrInvalidRequest),
		errors.Is(err, wire.ErrBadKind),
		errors.Is(err, wire.ErrShortBuffer):
		return ErrCodeInvalidParameters
	}

	var errno unix.Errno
	if errors.As(err, &errno) {
		return errnoCode(errno)
	}
	return ErrCodeUnknown
}

func errnoCode(errno unix.Errno) ErrorCode {
	switch errno {
	case unix.ECONNREFUSED, unix.EAGAIN, unix.EBUSY, unix.ETIMEDOUT:
		return ErrCodeBusy
	case unix.ENOMEM:
		return ErrCodeNoResources
	case unix.EINVAL, unix.E2BIG:
		return ErrCodeInvalidParameters
	case unix.EIO:
		return ErrCodeIODevice
	default:
		return ErrCodeUnknown
	}
}

// IsCode reports whether err carries the given classification.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
