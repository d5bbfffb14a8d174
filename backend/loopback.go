// Package backend provides standard transfer handlers for exported devices
package backend

import (
	"encoding/binary"
	"sync"

	"github.com/ehrlich-b/go-usbip/internal/ring"
	"github.com/ehrlich-b/go-usbip/usb"
)

// Vendor requests understood by Loopback on endpoint 0.
const (
	// VendorRequestReset drops every buffered byte. No data stage.
	VendorRequestReset = 0x01
	// VendorRequestQueued returns the bytes buffered for endpoint wIndex
	// as a little-endian uint32.
	VendorRequestQueued = 0x02
)

// Loopback echoes data written to an OUT endpoint back on the IN endpoint
// with the same number. IN URBs stay pending until data is available.
type Loopback struct {
	capacity int

	mu      sync.Mutex
	streams [16]*ring.Stream
	stats   LoopbackStats
}

// LoopbackStats counts handled transfers
type LoopbackStats struct {
	Writes   uint64 `json:"writes"`
	Reads    uint64 `json:"reads"`
	BytesIn  uint64 `json:"bytes_in"`
	BytesOut uint64 `json:"bytes_out"`
	Canceled uint64 `json:"canceled"`
	Rejected uint64 `json:"rejected"`
}

// NewLoopback creates a loopback handler buffering up to capacity bytes
// per endpoint.
func NewLoopback(capacity int) *Loopback {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Loopback{capacity: capacity}
}

func (l *Loopback) stream(ep uint8) *ring.Stream {
	s := l.streams[ep&0x0f]
	if s == nil {
		// capacity > 0, so NewStream cannot fail
		s, _ = ring.NewStream(make([]byte, l.capacity))
		l.streams[ep&0x0f] = s
	}
	return s
}

// HandleTransfer implements usb.TransferHandler
func (l *Loopback) HandleTransfer(urb *usb.URB) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch urb.Pipe.Type() {
	case usb.TransferBulk, usb.TransferInterrupt:
	default:
		l.stats.Rejected++
		urb.Fail(usb.StatusNotSupported)
		return true
	}

	s := l.stream(urb.Pipe.Endpoint())

	if urb.Pipe.Direction() == usb.DirOut {
		n := min(len(urb.Buffer), s.Free())
		if n == 0 && len(urb.Buffer) > 0 {
			return false
		}
		if err := s.Push(urb.Buffer[:n]); err != nil {
			urb.Fail(usb.StatusNoMemory)
			return true
		}
		urb.ActualLength = n
		l.stats.Writes++
		l.stats.BytesIn += uint64(n)
		return true
	}

	if s.Len() == 0 {
		return false
	}
	n := s.Pop(urb.Buffer)
	urb.ActualLength = n
	l.stats.Reads++
	l.stats.BytesOut += uint64(n)
	return true
}

// CancelTransfer implements usb.Canceler. Loopback holds no per-URB
// state, so it only counts.
func (l *Loopback) CancelTransfer(*usb.URB) {
	l.mu.Lock()
	l.stats.Canceled++
	l.mu.Unlock()
}

// HandleControl implements usb.ControlHandler for the vendor requests
func (l *Loopback) HandleControl(urb *usb.URB) bool {
	setup := urb.SetupPacket()
	if setup.Kind() != usb.RequestKindVendor {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch setup.Request {
	case VendorRequestReset:
		for _, s := range l.streams {
			if s != nil {
				s.Discard(s.Len())
			}
		}
		return true

	case VendorRequestQueued:
		if len(urb.Buffer) < 4 {
			urb.Fail(usb.StatusInvalid)
			return true
		}
		var n int
		if s := l.streams[setup.Index&0x0f]; s != nil {
			n = s.Len()
		}
		binary.LittleEndian.PutUint32(urb.Buffer, uint32(n))
		urb.ActualLength = 4
		return true
	}
	return false
}

// Queued returns the bytes buffered for endpoint number ep
func (l *Loopback) Queued(ep uint8) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s := l.streams[ep&0x0f]; s != nil {
		return s.Len()
	}
	return 0
}

// Stats returns a copy of the transfer counters
func (l *Loopback) Stats() LoopbackStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// LoopbackDevice returns a full-speed vendor-specific device with one
// configuration, one interface and a bulk IN/OUT pair on endpoint 1.
func LoopbackDevice(vendorID, productID uint16) *usb.Device {
	return &usb.Device{
		USBVersion:        0x0200,
		Class:             usb.ClassVendor,
		SubClass:          usb.ClassVendor,
		Protocol:          usb.ClassVendor,
		MaxPacketSize0:    64,
		VendorID:          vendorID,
		ProductID:         productID,
		BCDDevice:         0x0100,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		SerialIndex:       3,
		Speed:             usb.SpeedFull,
		LangID:            usb.LangIDEnglishUS,
		Strings: map[uint8]string{
			1: "go-usbip",
			2: "Loopback",
			3: "0001",
		},
		Configurations: []*usb.Configuration{{
			Value:      1,
			Attributes: usb.ConfigAttrReserved,
			MaxPower:   50,
			Interfaces: []*usb.InterfaceGroup{{
				Number: 0,
				Alternates: []*usb.Interface{{
					Class:    usb.ClassVendor,
					SubClass: usb.ClassVendor,
					Protocol: usb.ClassVendor,
					Endpoints: []*usb.Endpoint{
						{Address: usb.NewEndpointAddress(1, usb.DirIn), Attributes: usb.EndpointAttributes(usb.TransferBulk), MaxPacketSize: 64},
						{Address: usb.NewEndpointAddress(1, usb.DirOut), Attributes: usb.EndpointAttributes(usb.TransferBulk), MaxPacketSize: 64},
					},
				}},
			}},
		}},
	}
}

// Compile-time interface checks
var (
	_ usb.TransferHandler = (*Loopback)(nil)
	_ usb.Canceler        = (*Loopback)(nil)
	_ usb.ControlHandler  = (*Loopback)(nil)
)
