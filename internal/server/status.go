package server

import (
	"fmt"
	"time"

	"github.com/ehrlich-b/go-usbip/internal/vhci"
)

// DeviceStatus describes one exported device.
type DeviceStatus struct {
	BusID         string `json:"busid"`
	Path          string `json:"path"`
	BusNum        uint32 `json:"busnum"`
	DevNum        uint32 `json:"devnum"`
	VendorID      string `json:"vendor_id"`
	ProductID     string `json:"product_id"`
	Speed         uint32 `json:"speed"`
	Configuration uint8  `json:"configuration"`
	Interfaces    int    `json:"interfaces"`
	Imported      bool   `json:"imported"`
	Owner         string `json:"owner,omitempty"`
	PendingURBs   int    `json:"pending_urbs"`
}

// ClientStatus describes one connected client.
type ClientStatus struct {
	Session     string    `json:"session"`
	RemoteAddr  string    `json:"remote_addr"`
	State       string    `json:"state"`
	BusID       string    `json:"busid,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	InFlight    int       `json:"in_flight"`
	Outbound    int       `json:"outbound_bytes"`
}

// Status is a point-in-time view of the server. It is published by the
// poll loop and safe to read from other goroutines.
type Status struct {
	Listening bool           `json:"listening"`
	Port      int            `json:"port"`
	Devices   []DeviceStatus `json:"devices"`
	Clients   []ClientStatus `json:"clients"`
}

// Device returns the status of busID.
func (s Status) Device(busID string) (DeviceStatus, bool) {
	for _, d := range s.Devices {
		if d.BusID == busID {
			return d, true
		}
	}
	return DeviceStatus{}, false
}

func deviceStatus(d *vhci.Device) DeviceStatus {
	return DeviceStatus{
		BusID:         d.BusID,
		Path:          d.Path,
		BusNum:        d.BusNum,
		DevNum:        d.DevNum,
		VendorID:      fmt.Sprintf("%04x", d.Desc.VendorID),
		ProductID:     fmt.Sprintf("%04x", d.Desc.ProductID),
		Speed:         d.Speed(),
		Configuration: d.Desc.ConfigurationValue(),
		Interfaces:    d.Desc.InterfaceCount(),
		Imported:      d.Imported(),
		Owner:         d.Owner(),
		PendingURBs:   d.Pending(),
	}
}

func (c *client) status() ClientStatus {
	st := ClientStatus{
		Session:     c.id,
		RemoteAddr:  c.conn.RemoteAddr(),
		State:       c.state.String(),
		ConnectedAt: c.connectedAt,
		InFlight:    c.inflight,
		Outbound:    c.out.Len(),
	}
	if c.dev != nil {
		st.BusID = c.dev.BusID
	}
	return st
}

// publish refreshes the snapshot returned by Status.
func (s *Server) publish() {
	st := Status{
		Listening: s.ln != nil,
		Port:      s.port,
		Devices:   make([]DeviceStatus, 0, s.vhci.Len()),
		Clients:   make([]ClientStatus, 0, s.clients.Len()),
	}
	for _, d := range s.vhci.Devices() {
		st.Devices = append(st.Devices, deviceStatus(d))
	}
	for _, c := range s.clients.Values() {
		st.Clients = append(st.Clients, c.status())
	}

	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
	s.dirty = false
}

// Status returns the latest published snapshot.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
