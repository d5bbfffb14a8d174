package usb

import "fmt"

// Direction of a transfer. The values match the USB/IP direction field.
type Direction uint8

const (
	DirOut Direction = 0
	DirIn  Direction = 1
)

func (d Direction) String() string {
	if d == DirIn {
		return "in"
	}
	return "out"
}

// TransferType uses the endpoint bmAttributes encoding.
type TransferType uint8

const (
	TransferControl     TransferType = 0
	TransferIsochronous TransferType = 1
	TransferBulk        TransferType = 2
	TransferInterrupt   TransferType = 3
)

func (t TransferType) String() string {
	switch t {
	case TransferControl:
		return "control"
	case TransferIsochronous:
		return "isochronous"
	case TransferBulk:
		return "bulk"
	default:
		return "interrupt"
	}
}

// EndpointAddress is bEndpointAddress: bit 7 direction, bits 0-3 number.
type EndpointAddress uint8

const (
	endpointDirBit     = 0x80
	endpointNumberMask = 0x0f
)

// NewEndpointAddress builds an address from a number and direction.
func NewEndpointAddress(number uint8, dir Direction) EndpointAddress {
	a := EndpointAddress(number & endpointNumberMask)
	if dir == DirIn {
		a |= endpointDirBit
	}
	return a
}

func (a EndpointAddress) Number() uint8 { return uint8(a) & endpointNumberMask }

func (a EndpointAddress) Direction() Direction {
	if uint8(a)&endpointDirBit != 0 {
		return DirIn
	}
	return DirOut
}

func (a EndpointAddress) String() string {
	return fmt.Sprintf("ep%d%s", a.Number(), a.Direction())
}

// EndpointAttributes is bmAttributes of an endpoint descriptor.
type EndpointAttributes uint8

const (
	attrTypeMask   = 0x03
	attrSyncShift  = 2
	attrSyncMask   = 0x03
	attrUsageShift = 4
	attrUsageMask  = 0x03
)

func (a EndpointAttributes) TransferType() TransferType { return TransferType(uint8(a) & attrTypeMask) }
func (a EndpointAttributes) SyncType() uint8            { return (uint8(a) >> attrSyncShift) & attrSyncMask }
func (a EndpointAttributes) UsageType() uint8           { return (uint8(a) >> attrUsageShift) & attrUsageMask }

// MaxPacket is wMaxPacketSize: bits 0-10 size, bits 11-12 additional
// transactions per microframe.
type MaxPacket uint16

const (
	maxPacketSizeMask = 0x07ff
	maxPacketTxShift  = 11
	maxPacketTxMask   = 0x03
)

func (m MaxPacket) Size() int         { return int(m & maxPacketSizeMask) }
func (m MaxPacket) Transactions() int { return int((m>>maxPacketTxShift)&maxPacketTxMask) + 1 }

// Pipe packs endpoint, direction and transfer type:
// bit 0 direction, bits 1-2 transfer type, bits 3-6 endpoint number.
type Pipe uint32

const (
	pipeDirMask       = 0x1
	pipeTypeShift     = 1
	pipeTypeMask      = 0x3
	pipeEndpointShift = 3
	pipeEndpointMask  = 0xf
)

// NewPipe packs a pipe.
func NewPipe(endpoint uint8, dir Direction, typ TransferType) Pipe {
	return Pipe(uint32(dir)&pipeDirMask |
		(uint32(typ)&pipeTypeMask)<<pipeTypeShift |
		(uint32(endpoint)&pipeEndpointMask)<<pipeEndpointShift)
}

func (p Pipe) Direction() Direction { return Direction(uint32(p) & pipeDirMask) }
func (p Pipe) Type() TransferType   { return TransferType((uint32(p) >> pipeTypeShift) & pipeTypeMask) }
func (p Pipe) Endpoint() uint8      { return uint8((uint32(p) >> pipeEndpointShift) & pipeEndpointMask) }

// Address returns the endpoint address the pipe targets.
func (p Pipe) Address() EndpointAddress { return NewEndpointAddress(p.Endpoint(), p.Direction()) }

func (p Pipe) String() string {
	return fmt.Sprintf("%s/%s", p.Address(), p.Type())
}
