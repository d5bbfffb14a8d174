package usb

import "golang.org/x/sys/unix"

// URB status values are negated Linux errnos, as carried in RET_SUBMIT.
const (
	StatusOK           int32 = 0
	StatusInvalid            = -int32(unix.EINVAL)
	StatusNoMemory           = -int32(unix.ENOMEM)
	StatusNotSupported       = -int32(unix.EOPNOTSUPP)
	StatusConnReset          = -int32(unix.ECONNRESET)
	StatusNoDevice           = -int32(unix.ENODEV)
	StatusStall              = -int32(unix.EPIPE)
)

// ISOPacket is one isochronous packet descriptor.
type ISOPacket struct {
	Offset       uint32
	Length       uint32
	ActualLength uint32
	Status       int32
}

// URB is one transfer request and, once complete, its response.
type URB struct {
	SeqNum        uint32
	Pipe          Pipe
	TransferFlags uint32

	// Buffer holds OUT data on submission and receives IN data. Its
	// length is the requested transfer length.
	Buffer       []byte
	ActualLength int

	Setup [SetupPacketSize]byte

	Status          int32
	StartFrame      uint32
	NumberOfPackets uint32
	Interval        uint32
	ErrorCount      uint32
	ISO             []ISOPacket

	// Complete is called exactly once unless the URB is unlinked first.
	Complete func(*URB)
	Context  any

	Canceled bool
}

// SetupPacket decodes Setup.
func (u *URB) SetupPacket() SetupPacket { return ParseSetup(u.Setup) }

// Data returns the transferred portion of Buffer.
func (u *URB) Data() []byte {
	n := min(max(u.ActualLength, 0), len(u.Buffer))
	return u.Buffer[:n]
}

// Fail completes the URB with an error status and no data.
func (u *URB) Fail(status int32) {
	u.Status = status
	u.ActualLength = 0
}

// TransferHandler services the non-control endpoints of a device.
type TransferHandler interface {
	// HandleTransfer processes urb and reports whether it is complete,
	// with Status and ActualLength set. An incomplete URB stays pending
	// and is offered again on each controller pass until it completes or
	// is unlinked.
	HandleTransfer(urb *URB) bool
}

// TransferHandlerFunc adapts a function to TransferHandler.
type TransferHandlerFunc func(urb *URB) bool

func (f TransferHandlerFunc) HandleTransfer(urb *URB) bool { return f(urb) }

// ControlHandler is implemented by handlers that answer class or vendor
// control requests on endpoint 0. Standard requests never reach it.
type ControlHandler interface {
	HandleControl(urb *URB) bool
}

// Canceler is implemented by handlers that keep per-URB state and need to
// drop it when a pending URB is unlinked.
type Canceler interface {
	CancelTransfer(urb *URB)
}
