// Package usb models the descriptor tree of an emulated USB device and
// the request blocks exchanged with it.
package usb

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/ehrlich-b/go-usbip/internal/errs"
)

// Descriptor types (USB 2.0 Table 9-5).
const (
	DescriptorTypeDevice           = 0x01
	DescriptorTypeConfiguration    = 0x02
	DescriptorTypeString           = 0x03
	DescriptorTypeInterface        = 0x04
	DescriptorTypeEndpoint         = 0x05
	DescriptorTypeDeviceQualifier  = 0x06
	DescriptorTypeOtherSpeedConfig = 0x07
	DescriptorTypeInterfacePower   = 0x08
)

// Serialized descriptor sizes.
const (
	DeviceDescriptorSize        = 18
	ConfigurationDescriptorSize = 9
	InterfaceDescriptorSize     = 9
	EndpointDescriptorSize      = 7
)

// Class codes used by this package's callers.
const (
	ClassPerInterface = 0x00
	ClassHID          = 0x03
	ClassVendor       = 0xFF
)

// LangIDEnglishUS is the default string descriptor language.
const LangIDEnglishUS = 0x0409

// Configuration attribute bits.
const (
	ConfigAttrReserved     = 0x80 // must be set
	ConfigAttrSelfPowered  = 0x40
	ConfigAttrRemoteWakeup = 0x20
)

// Speed follows the Linux usb_device_speed numbering used on the wire.
type Speed uint32

const (
	SpeedUnknown Speed = iota
	SpeedLow
	SpeedFull
	SpeedHigh
	SpeedWireless
	SpeedSuper
)

// Device is the root of a descriptor tree. The tree is read-mostly; only
// the active configuration and the alternate settings change at runtime.
type Device struct {
	USBVersion        uint16 // bcdUSB
	Class             uint8
	SubClass          uint8
	Protocol          uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	BCDDevice         uint16
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialIndex       uint8
	Speed             Speed

	LangID  uint16
	Strings map[uint8]string

	Configurations []*Configuration

	current uint8
}

// Configuration is one selectable configuration.
type Configuration struct {
	Value       uint8 // bConfigurationValue
	StringIndex uint8
	Attributes  uint8
	MaxPower    uint8 // 2mA units

	Interfaces []*InterfaceGroup
}

// InterfaceGroup holds the alternate settings of one interface number.
type InterfaceGroup struct {
	Number     uint8
	Alternates []*Interface

	current uint8
}

// Interface is one alternate setting.
type Interface struct {
	AlternateSetting uint8
	Class            uint8
	SubClass         uint8
	Protocol         uint8
	StringIndex      uint8

	Endpoints []*Endpoint
}

// Endpoint describes a non-zero endpoint.
type Endpoint struct {
	Address       EndpointAddress
	Attributes    EndpointAttributes
	MaxPacketSize MaxPacket
	Interval      uint8
}

// ConfigurationValue returns the active bConfigurationValue, 0 when
// unconfigured.
func (d *Device) ConfigurationValue() uint8 { return d.current }

// Config returns the configuration with bConfigurationValue value.
func (d *Device) Config(value uint8) *Configuration {
	for _, c := range d.Configurations {
		if c.Value == value {
			return c
		}
	}
	return nil
}

// ActiveConfig returns the selected configuration, or nil when unconfigured.
func (d *Device) ActiveConfig() *Configuration {
	if d.current == 0 {
		return nil
	}
	return d.Config(d.current)
}

// SetConfiguration selects a configuration. Zero returns the device to the
// unconfigured state. Alternate settings reset to zero.
func (d *Device) SetConfiguration(value uint8) error {
	if value == 0 {
		d.current = 0
		return nil
	}
	c := d.Config(value)
	if c == nil {
		return fmt.Errorf("configuration %d: %w", value, errs.ErrNotFound)
	}
	for _, g := range c.Interfaces {
		g.current = 0
	}
	d.current = value
	return nil
}

// Interface looks up an alternate setting in configuration cfg.
func (d *Device) Interface(cfg, number, alt uint8) *Interface {
	c := d.Config(cfg)
	if c == nil {
		return nil
	}
	g := c.Group(number)
	if g == nil {
		return nil
	}
	return g.Alternate(alt)
}

// Endpoint finds addr among the current alternate settings of the active
// configuration.
func (d *Device) Endpoint(addr EndpointAddress) *Endpoint {
	c := d.ActiveConfig()
	if c == nil {
		return nil
	}
	for _, g := range c.Interfaces {
		alt := g.Current()
		if alt == nil {
			continue
		}
		for _, ep := range alt.Endpoints {
			if ep.Address == addr {
				return ep
			}
		}
	}
	return nil
}

// String returns string descriptor i.
func (d *Device) String(i uint8) (string, bool) {
	s, ok := d.Strings[i]
	return s, ok
}

// Group returns the interface group numbered n.
func (c *Configuration) Group(n uint8) *InterfaceGroup {
	for _, g := range c.Interfaces {
		if g.Number == n {
			return g
		}
	}
	return nil
}

// Alternate returns alternate setting alt.
func (g *InterfaceGroup) Alternate(alt uint8) *Interface {
	for _, a := range g.Alternates {
		if a.AlternateSetting == alt {
			return a
		}
	}
	return nil
}

// AlternateSetting returns the selected alternate setting number.
func (g *InterfaceGroup) AlternateSetting() uint8 { return g.current }

// Current returns the selected alternate setting.
func (g *InterfaceGroup) Current() *Interface { return g.Alternate(g.current) }

// SetAlternate selects an alternate setting.
func (g *InterfaceGroup) SetAlternate(alt uint8) error {
	if g.Alternate(alt) == nil {
		return fmt.Errorf("interface %d alternate %d: %w", g.Number, alt, errs.ErrNotFound)
	}
	g.current = alt
	return nil
}

// MarshalTo writes the 18-byte device descriptor. buf must hold
// DeviceDescriptorSize bytes.
func (d *Device) MarshalTo(buf []byte) int {
	if len(buf) < DeviceDescriptorSize {
		return 0
	}
	buf[0] = DeviceDescriptorSize
	buf[1] = DescriptorTypeDevice
	binary.LittleEndian.PutUint16(buf[2:4], d.USBVersion)
	buf[4] = d.Class
	buf[5] = d.SubClass
	buf[6] = d.Protocol
	buf[7] = d.MaxPacketSize0
	binary.LittleEndian.PutUint16(buf[8:10], d.VendorID)
	binary.LittleEndian.PutUint16(buf[10:12], d.ProductID)
	binary.LittleEndian.PutUint16(buf[12:14], d.BCDDevice)
	buf[14] = d.ManufacturerIndex
	buf[15] = d.ProductIndex
	buf[16] = d.SerialIndex
	buf[17] = uint8(len(d.Configurations))
	return DeviceDescriptorSize
}

// TotalLength is wTotalLength: the configuration descriptor plus every
// interface and endpoint descriptor beneath it.
func (c *Configuration) TotalLength() int {
	n := ConfigurationDescriptorSize
	for _, g := range c.Interfaces {
		for _, alt := range g.Alternates {
			n += InterfaceDescriptorSize + len(alt.Endpoints)*EndpointDescriptorSize
		}
	}
	return n
}

// MarshalTree serializes the configuration and everything beneath it.
// When buf runs out it returns the bytes written so far together with an
// ErrOutOfMemory-wrapped error.
func (c *Configuration) MarshalTree(buf []byte) (int, error) {
	n := 0
	short := func(need int) error {
		return fmt.Errorf("configuration %d: need %d bytes at offset %d of %d: %w",
			c.Value, need, n, len(buf), errs.ErrOutOfMemory)
	}

	if len(buf) < ConfigurationDescriptorSize {
		return 0, short(ConfigurationDescriptorSize)
	}
	n += c.marshalHeader(buf)

	for _, g := range c.Interfaces {
		for _, alt := range g.Alternates {
			if len(buf)-n < InterfaceDescriptorSize {
				return n, short(InterfaceDescriptorSize)
			}
			n += alt.marshalTo(buf[n:], g.Number)

			for _, ep := range alt.Endpoints {
				if len(buf)-n < EndpointDescriptorSize {
					return n, short(EndpointDescriptorSize)
				}
				n += ep.marshalTo(buf[n:])
			}
		}
	}
	return n, nil
}

// MarshalHeader writes only the 9-byte configuration descriptor.
func (c *Configuration) MarshalHeader(buf []byte) int {
	if len(buf) < ConfigurationDescriptorSize {
		return 0
	}
	return c.marshalHeader(buf)
}

func (c *Configuration) marshalHeader(buf []byte) int {
	buf[0] = ConfigurationDescriptorSize
	buf[1] = DescriptorTypeConfiguration
	binary.LittleEndian.PutUint16(buf[2:4], uint16(c.TotalLength()))
	buf[4] = uint8(len(c.Interfaces))
	buf[5] = c.Value
	buf[6] = c.StringIndex
	buf[7] = c.Attributes | ConfigAttrReserved
	buf[8] = c.MaxPower
	return ConfigurationDescriptorSize
}

func (i *Interface) marshalTo(buf []byte, number uint8) int {
	buf[0] = InterfaceDescriptorSize
	buf[1] = DescriptorTypeInterface
	buf[2] = number
	buf[3] = i.AlternateSetting
	buf[4] = uint8(len(i.Endpoints))
	buf[5] = i.Class
	buf[6] = i.SubClass
	buf[7] = i.Protocol
	buf[8] = i.StringIndex
	return InterfaceDescriptorSize
}

func (e *Endpoint) marshalTo(buf []byte) int {
	buf[0] = EndpointDescriptorSize
	buf[1] = DescriptorTypeEndpoint
	buf[2] = uint8(e.Address)
	buf[3] = uint8(e.Attributes)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(e.MaxPacketSize))
	buf[6] = e.Interval
	return EndpointDescriptorSize
}

// MarshalString writes string descriptor i. Index 0 is the language list.
func (d *Device) MarshalString(i uint8, buf []byte) (int, error) {
	if i == 0 {
		if len(buf) < 4 {
			return 0, fmt.Errorf("language descriptor: %w", errs.ErrOutOfMemory)
		}
		buf[0] = 4
		buf[1] = DescriptorTypeString
		binary.LittleEndian.PutUint16(buf[2:4], d.LangID)
		return 4, nil
	}

	s, ok := d.String(i)
	if !ok {
		return 0, fmt.Errorf("string %d: %w", i, errs.ErrNotFound)
	}

	units := utf16.Encode([]rune(s))
	if limit := (255 - 2) / 2; len(units) > limit {
		units = units[:limit]
	}
	size := 2 + 2*len(units)
	if len(buf) < size {
		return 0, fmt.Errorf("string %d: need %d bytes, have %d: %w", i, size, len(buf), errs.ErrOutOfMemory)
	}

	buf[0] = uint8(size)
	buf[1] = DescriptorTypeString
	for k, u := range units {
		binary.LittleEndian.PutUint16(buf[2+2*k:], u)
	}
	return size, nil
}

// InterfaceCount returns bNumInterfaces of the active configuration, or of
// the first configuration while unconfigured.
func (d *Device) InterfaceCount() int {
	if c := d.summaryConfig(); c != nil {
		return len(c.Interfaces)
	}
	return 0
}

// InterfaceClasses returns the class triple of each interface's current
// alternate setting, in the order listed by InterfaceCount.
func (d *Device) InterfaceClasses() [][3]uint8 {
	c := d.summaryConfig()
	if c == nil {
		return nil
	}
	out := make([][3]uint8, 0, len(c.Interfaces))
	for _, g := range c.Interfaces {
		var cls [3]uint8
		if alt := g.Current(); alt != nil {
			cls = [3]uint8{alt.Class, alt.SubClass, alt.Protocol}
		}
		out = append(out, cls)
	}
	return out
}

func (d *Device) summaryConfig() *Configuration {
	if c := d.ActiveConfig(); c != nil {
		return c
	}
	if len(d.Configurations) > 0 {
		return d.Configurations[0]
	}
	return nil
}
