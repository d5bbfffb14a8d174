// Package errs holds the error taxonomy shared by the internal packages.
// The public usbip package maps these onto structured error codes.
package errs

// Error is a sentinel error string.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	ErrInvalidArgument Error = "invalid argument"
	ErrOutOfMemory     Error = "out of memory"
	ErrNoSpace         Error = "no buffer space"
	ErrTooLarge        Error = "message too large"
	ErrFull            Error = "queue full"
	ErrEmpty           Error = "queue empty"
	ErrNotFound        Error = "not found"
	ErrNotSupported    Error = "not supported"
	ErrProtocol        Error = "protocol violation"
	ErrWouldBlock      Error = "operation would block"
	ErrConnection      Error = "connection failed"
	ErrListener        Error = "listener failed"
)
