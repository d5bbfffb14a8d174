// Package wire provides the USB/IP wire format: operation and command
// frames, all big-endian.
package wire

// Protocol version
const USBIP_VERSION = 0x0111

// Operation codes exchanged before import
const (
	OP_REQUEST = 0x80 << 8
	OP_REPLY   = 0x00 << 8

	OP_DEVLIST     = 0x05
	OP_REQ_DEVLIST = OP_REQUEST | OP_DEVLIST
	OP_REP_DEVLIST = OP_REPLY | OP_DEVLIST

	OP_IMPORT     = 0x03
	OP_REQ_IMPORT = OP_REQUEST | OP_IMPORT
	OP_REP_IMPORT = OP_REPLY | OP_IMPORT
)

// Operation status
const (
	ST_OK    = 0x00
	ST_NA    = 0x01
	ST_ERROR = 0x02
)

// Commands exchanged after import
const (
	USBIP_CMD_SUBMIT = 0x0001
	USBIP_CMD_UNLINK = 0x0002
	USBIP_RET_SUBMIT = 0x0003
	USBIP_RET_UNLINK = 0x0004
)

// USB/IP directions
const (
	USBIP_DIR_OUT = 0x00
	USBIP_DIR_IN  = 0x01
)

// Frame sizes
const (
	OpHeaderSize        = 8
	DeviceRecordSize    = 312
	InterfaceRecordSize = 4
	BusIDSize           = 32
	PathSize            = 256
	DevlistCountSize    = 4

	CmdHeaderSize = 20
	CmdBodySize   = 28
	CmdFrameSize  = CmdHeaderSize + CmdBodySize

	ISODescriptorSize = 16
)

// NoISOPackets is number_of_packets for non-isochronous transfers.
const NoISOPackets = 0xffffffff
