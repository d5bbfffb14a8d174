package usb

import "encoding/binary"

// Standard request codes (USB 2.0 Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// bmRequestType fields.
const (
	RequestTypeDirectionMask = 0x80
	RequestTypeTypeMask      = 0x60
	RequestTypeTypeShift     = 5
	RequestTypeRecipientMask = 0x1F
)

// Request kinds.
const (
	RequestKindStandard = 0
	RequestKindClass    = 1
	RequestKindVendor   = 2
)

// Recipients.
const (
	RecipientDevice    = 0
	RecipientInterface = 1
	RecipientEndpoint  = 2
	RecipientOther     = 3
)

// SetupPacketSize is the size of a control setup stage.
const SetupPacketSize = 8

// SetupPacket is the setup stage of a control transfer. On the wire its
// fields are little-endian regardless of the enclosing protocol.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// ParseSetup decodes 8 setup bytes.
func ParseSetup(b [SetupPacketSize]byte) SetupPacket {
	return SetupPacket{
		RequestType: b[0],
		Request:     b[1],
		Value:       binary.LittleEndian.Uint16(b[2:4]),
		Index:       binary.LittleEndian.Uint16(b[4:6]),
		Length:      binary.LittleEndian.Uint16(b[6:8]),
	}
}

// Bytes encodes the packet.
func (s SetupPacket) Bytes() [SetupPacketSize]byte {
	var b [SetupPacketSize]byte
	b[0] = s.RequestType
	b[1] = s.Request
	binary.LittleEndian.PutUint16(b[2:4], s.Value)
	binary.LittleEndian.PutUint16(b[4:6], s.Index)
	binary.LittleEndian.PutUint16(b[6:8], s.Length)
	return b
}

func (s SetupPacket) Direction() Direction {
	if s.RequestType&RequestTypeDirectionMask != 0 {
		return DirIn
	}
	return DirOut
}

func (s SetupPacket) Kind() uint8 {
	return (s.RequestType & RequestTypeTypeMask) >> RequestTypeTypeShift
}

func (s SetupPacket) Recipient() uint8 { return s.RequestType & RequestTypeRecipientMask }

// DescriptorType is the high byte of wValue in GET_DESCRIPTOR.
func (s SetupPacket) DescriptorType() uint8 { return uint8(s.Value >> 8) }

// DescriptorIndex is the low byte of wValue in GET_DESCRIPTOR.
func (s SetupPacket) DescriptorIndex() uint8 { return uint8(s.Value) }
