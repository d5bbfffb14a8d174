package usbip

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/ehrlich-b/go-usbip/internal/errs"
)

// Error represents a structured usbip error with context and errno mapping
type Error struct {
	Op      string        // Operation that failed (e.g., "LISTEN", "ADD_DEVICE")
	BusID   string        // Device bus id ("" if not applicable)
	Session string        // Client session id ("" if not applicable)
	Code    ErrorCode     // High-level error category
	Errno   syscall.Errno // Errno (0 if not applicable)
	Msg     string        // Human-readable message
	Inner   error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.BusID != "" {
		parts = append(parts, fmt.Sprintf("busid=%s", e.BusID))
	}
	if e.Session != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.Session))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("usbip: %s (%s)", msg, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("usbip: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches another *Error by code
func (e *Error) Is(target error) bool {
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeInvalidArgument   ErrorCode = "invalid argument"
	ErrCodeOutOfMemory       ErrorCode = "out of memory"
	ErrCodeNotFound          ErrorCode = "not found"
	ErrCodeNotSupported      ErrorCode = "not supported"
	ErrCodeProtocolViolation ErrorCode = "protocol violation"
	ErrCodeTransient         ErrorCode = "transient failure"
	ErrCodeConnectionFatal   ErrorCode = "connection failed"
	ErrCodeListenerFatal     ErrorCode = "listener failed"
)

// Sentinel errors for errors.Is comparisons against a category
var (
	ErrInvalidArgument   = &Error{Code: ErrCodeInvalidArgument}
	ErrOutOfMemory       = &Error{Code: ErrCodeOutOfMemory}
	ErrNotFound          = &Error{Code: ErrCodeNotFound}
	ErrNotSupported      = &Error{Code: ErrCodeNotSupported}
	ErrProtocolViolation = &Error{Code: ErrCodeProtocolViolation}
	ErrListenerFatal     = &Error{Code: ErrCodeListenerFatal}
)

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Code: code,
		Msg:  msg,
	}
}

// NewErrorWithErrno creates a new structured error with errno
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{
		Op:    op,
		Code:  code,
		Errno: errno,
		Msg:   errno.Error(),
	}
}

// NewDeviceError creates a new device-specific error
func NewDeviceError(op string, busID string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:    op,
		BusID: busID,
		Code:  code,
		Msg:   msg,
	}
}

// WrapError wraps an existing error with usbip context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	var ue *Error
	if errors.As(inner, &ue) {
		return &Error{
			Op:      op,
			BusID:   ue.BusID,
			Session: ue.Session,
			Code:    ue.Code,
			Errno:   ue.Errno,
			Msg:     ue.Msg,
			Inner:   ue.Inner,
		}
	}

	var errno syscall.Errno
	if errors.As(inner, &errno) {
		code := mapErrnoToCode(errno)
		if c, ok := mapSentinel(inner); ok {
			code = c
		}
		return &Error{
			Op:    op,
			Code:  code,
			Errno: errno,
			Msg:   inner.Error(),
			Inner: inner,
		}
	}

	code, ok := mapSentinel(inner)
	if !ok {
		code = ErrCodeTransient
	}
	return &Error{
		Op:    op,
		Code:  code,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// mapSentinel maps the internal error taxonomy to codes
func mapSentinel(err error) (ErrorCode, bool) {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return ErrCodeInvalidArgument, true
	case errors.Is(err, errs.ErrOutOfMemory), errors.Is(err, errs.ErrNoSpace),
		errors.Is(err, errs.ErrFull), errors.Is(err, errs.ErrTooLarge):
		return ErrCodeOutOfMemory, true
	case errors.Is(err, errs.ErrNotFound):
		return ErrCodeNotFound, true
	case errors.Is(err, errs.ErrNotSupported):
		return ErrCodeNotSupported, true
	case errors.Is(err, errs.ErrProtocol):
		return ErrCodeProtocolViolation, true
	case errors.Is(err, errs.ErrWouldBlock):
		return ErrCodeTransient, true
	case errors.Is(err, errs.ErrListener):
		return ErrCodeListenerFatal, true
	case errors.Is(err, errs.ErrConnection):
		return ErrCodeConnectionFatal, true
	}
	return "", false
}

// mapErrnoToCode maps syscall errno to usbip error codes
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT, syscall.ENODEV:
		return ErrCodeNotFound
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidArgument
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeNotSupported
	case syscall.ENOMEM, syscall.ENOBUFS, syscall.ENOSPC:
		return ErrCodeOutOfMemory
	case syscall.EAGAIN, syscall.EINTR:
		return ErrCodeTransient
	case syscall.EADDRINUSE, syscall.EACCES, syscall.EBADF:
		return ErrCodeListenerFatal
	case syscall.ECONNRESET, syscall.EPIPE, syscall.ETIMEDOUT:
		return ErrCodeConnectionFatal
	default:
		return ErrCodeTransient
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Errno == errno
	}
	return false
}
