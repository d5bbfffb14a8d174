package vhci

import (
	"github.com/ehrlich-b/go-usbip/internal/list"
	"github.com/ehrlich-b/go-usbip/usb"
)

// Device is a registered virtual device.
type Device struct {
	Desc    *usb.Device
	Handler usb.TransferHandler

	BusNum uint32
	DevNum uint32
	Path   string
	BusID  string

	owner   string
	pending *list.List[*usb.URB]
}

// Owner returns the session that imported the device, or "".
func (d *Device) Owner() string { return d.owner }

// Imported reports whether a client holds the device.
func (d *Device) Imported() bool { return d.owner != "" }

// Claim records session as the importer. It fails if another session
// already holds the device.
func (d *Device) Claim(session string) bool {
	if d.owner != "" && d.owner != session {
		return false
	}
	d.owner = session
	return true
}

// Pending returns the number of URBs waiting on the handler.
func (d *Device) Pending() int { return d.pending.Len() }

// Speed returns the wire speed code.
func (d *Device) Speed() uint32 { return uint32(d.Desc.Speed) }
