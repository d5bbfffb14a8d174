package wire

// OpHeader starts every request and reply before import.
//
//	struct op_common {
//	  __u16 version;
//	  __u16 code;
//	  __u32 status;
//	};
type OpHeader struct {
	Version uint16
	Code    uint16
	Status  uint32
}

// DeviceRecord describes an exported device (312 bytes).
type DeviceRecord struct {
	Path               string // NUL-padded to 256 bytes
	BusID              string // NUL-padded to 32 bytes
	BusNum             uint32
	DevNum             uint32
	Speed              uint32
	IDVendor           uint16
	IDProduct          uint16
	BCDDevice          uint16
	DeviceClass        uint8
	DeviceSubClass     uint8
	DeviceProtocol     uint8
	ConfigurationValue uint8
	NumConfigurations  uint8
	NumInterfaces      uint8
}

// InterfaceRecord follows a DeviceRecord in a devlist reply, once per
// interface.
type InterfaceRecord struct {
	Class    uint8
	SubClass uint8
	Protocol uint8
}

// CmdHeader starts every command and return frame.
//
//	struct usbip_header_basic {
//	  __u32 command;
//	  __u32 seqnum;
//	  __u32 devid;     // busnum << 16 | devnum
//	  __u32 direction;
//	  __u32 ep;
//	};
type CmdHeader struct {
	Command   uint32
	SeqNum    uint32
	BusNum    uint16
	DevNum    uint16
	Direction uint32
	Endpoint  uint32
}

// CmdSubmit is the body of USBIP_CMD_SUBMIT.
type CmdSubmit struct {
	TransferFlags        uint32
	TransferBufferLength int32
	StartFrame           int32
	NumberOfPackets      int32
	Interval             int32
	Setup                [8]byte
}

// ISOPackets returns the number of ISO descriptors that follow the frame.
func (c *CmdSubmit) ISOPackets() int {
	if c.NumberOfPackets <= 0 || uint32(c.NumberOfPackets) == NoISOPackets {
		return 0
	}
	return int(c.NumberOfPackets)
}

// RetSubmit is the body of USBIP_RET_SUBMIT.
type RetSubmit struct {
	Status          int32
	ActualLength    int32
	StartFrame      int32
	NumberOfPackets int32
	ErrorCount      int32
}

// CmdUnlink is the body of USBIP_CMD_UNLINK.
type CmdUnlink struct {
	UnlinkSeqNum uint32
}

// RetUnlink is the body of USBIP_RET_UNLINK.
type RetUnlink struct {
	Status int32
}

// ISODescriptor follows the transfer buffer for isochronous transfers.
type ISODescriptor struct {
	Offset       uint32
	Length       uint32
	ActualLength uint32
	Status       int32
}
