package wire

import (
	"bytes"
	"encoding/binary"
)

// Marshal encodes a frame in network byte order.
func Marshal(v interface{}) []byte {
	switch val := v.(type) {
	case *OpHeader:
		return marshalOpHeader(val)
	case *DeviceRecord:
		return marshalDeviceRecord(val)
	case *InterfaceRecord:
		return []byte{val.Class, val.SubClass, val.Protocol, 0}
	case *CmdHeader:
		return marshalCmdHeader(val)
	case *CmdSubmit:
		return marshalCmdSubmit(val)
	case *RetSubmit:
		return marshalRetSubmit(val)
	case *CmdUnlink:
		buf := make([]byte, CmdBodySize)
		binary.BigEndian.PutUint32(buf[0:4], val.UnlinkSeqNum)
		return buf
	case *RetUnlink:
		buf := make([]byte, CmdBodySize)
		binary.BigEndian.PutUint32(buf[0:4], uint32(val.Status))
		return buf
	case *ISODescriptor:
		return marshalISODescriptor(val)
	default:
		panic(ErrInvalidType)
	}
}

// Unmarshal decodes a frame in network byte order.
func Unmarshal(data []byte, v interface{}) error {
	switch val := v.(type) {
	case *OpHeader:
		return unmarshalOpHeader(data, val)
	case *DeviceRecord:
		return unmarshalDeviceRecord(data, val)
	case *InterfaceRecord:
		if len(data) < InterfaceRecordSize {
			return ErrInsufficientData
		}
		val.Class, val.SubClass, val.Protocol = data[0], data[1], data[2]
		return nil
	case *CmdHeader:
		return unmarshalCmdHeader(data, val)
	case *CmdSubmit:
		return unmarshalCmdSubmit(data, val)
	case *RetSubmit:
		return unmarshalRetSubmit(data, val)
	case *CmdUnlink:
		if len(data) < CmdBodySize {
			return ErrInsufficientData
		}
		val.UnlinkSeqNum = binary.BigEndian.Uint32(data[0:4])
		return nil
	case *RetUnlink:
		if len(data) < CmdBodySize {
			return ErrInsufficientData
		}
		val.Status = int32(binary.BigEndian.Uint32(data[0:4]))
		return nil
	case *ISODescriptor:
		return unmarshalISODescriptor(data, val)
	default:
		return ErrInvalidType
	}
}

func marshalOpHeader(h *OpHeader) []byte {
	buf := make([]byte, OpHeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.Version)
	binary.BigEndian.PutUint16(buf[2:4], h.Code)
	binary.BigEndian.PutUint32(buf[4:8], h.Status)
	return buf
}

func unmarshalOpHeader(data []byte, h *OpHeader) error {
	if len(data) < OpHeaderSize {
		return ErrInsufficientData
	}
	h.Version = binary.BigEndian.Uint16(data[0:2])
	h.Code = binary.BigEndian.Uint16(data[2:4])
	h.Status = binary.BigEndian.Uint32(data[4:8])
	return nil
}

func marshalDeviceRecord(r *DeviceRecord) []byte {
	buf := make([]byte, DeviceRecordSize)
	PutBusID(buf[0:PathSize], r.Path)
	PutBusID(buf[PathSize:PathSize+BusIDSize], r.BusID)

	o := PathSize + BusIDSize
	binary.BigEndian.PutUint32(buf[o:o+4], r.BusNum)
	binary.BigEndian.PutUint32(buf[o+4:o+8], r.DevNum)
	binary.BigEndian.PutUint32(buf[o+8:o+12], r.Speed)
	binary.BigEndian.PutUint16(buf[o+12:o+14], r.IDVendor)
	binary.BigEndian.PutUint16(buf[o+14:o+16], r.IDProduct)
	binary.BigEndian.PutUint16(buf[o+16:o+18], r.BCDDevice)
	buf[o+18] = r.DeviceClass
	buf[o+19] = r.DeviceSubClass
	buf[o+20] = r.DeviceProtocol
	buf[o+21] = r.ConfigurationValue
	buf[o+22] = r.NumConfigurations
	buf[o+23] = r.NumInterfaces
	return buf
}

func unmarshalDeviceRecord(data []byte, r *DeviceRecord) error {
	if len(data) < DeviceRecordSize {
		return ErrInsufficientData
	}
	r.Path = BusID(data[0:PathSize])
	r.BusID = BusID(data[PathSize : PathSize+BusIDSize])

	o := PathSize + BusIDSize
	r.BusNum = binary.BigEndian.Uint32(data[o : o+4])
	r.DevNum = binary.BigEndian.Uint32(data[o+4 : o+8])
	r.Speed = binary.BigEndian.Uint32(data[o+8 : o+12])
	r.IDVendor = binary.BigEndian.Uint16(data[o+12 : o+14])
	r.IDProduct = binary.BigEndian.Uint16(data[o+14 : o+16])
	r.BCDDevice = binary.BigEndian.Uint16(data[o+16 : o+18])
	r.DeviceClass = data[o+18]
	r.DeviceSubClass = data[o+19]
	r.DeviceProtocol = data[o+20]
	r.ConfigurationValue = data[o+21]
	r.NumConfigurations = data[o+22]
	r.NumInterfaces = data[o+23]
	return nil
}

func marshalCmdHeader(h *CmdHeader) []byte {
	buf := make([]byte, CmdHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Command)
	binary.BigEndian.PutUint32(buf[4:8], h.SeqNum)
	binary.BigEndian.PutUint16(buf[8:10], h.BusNum)
	binary.BigEndian.PutUint16(buf[10:12], h.DevNum)
	binary.BigEndian.PutUint32(buf[12:16], h.Direction)
	binary.BigEndian.PutUint32(buf[16:20], h.Endpoint)
	return buf
}

func unmarshalCmdHeader(data []byte, h *CmdHeader) error {
	if len(data) < CmdHeaderSize {
		return ErrInsufficientData
	}
	h.Command = binary.BigEndian.Uint32(data[0:4])
	h.SeqNum = binary.BigEndian.Uint32(data[4:8])
	h.BusNum = binary.BigEndian.Uint16(data[8:10])
	h.DevNum = binary.BigEndian.Uint16(data[10:12])
	h.Direction = binary.BigEndian.Uint32(data[12:16])
	h.Endpoint = binary.BigEndian.Uint32(data[16:20])
	return nil
}

func marshalCmdSubmit(c *CmdSubmit) []byte {
	buf := make([]byte, CmdBodySize)
	binary.BigEndian.PutUint32(buf[0:4], c.TransferFlags)
	binary.BigEndian.PutUint32(buf[4:8], uint32(c.TransferBufferLength))
	binary.BigEndian.PutUint32(buf[8:12], uint32(c.StartFrame))
	binary.BigEndian.PutUint32(buf[12:16], uint32(c.NumberOfPackets))
	binary.BigEndian.PutUint32(buf[16:20], uint32(c.Interval))
	// setup keeps USB byte order
	copy(buf[20:28], c.Setup[:])
	return buf
}

func unmarshalCmdSubmit(data []byte, c *CmdSubmit) error {
	if len(data) < CmdBodySize {
		return ErrInsufficientData
	}
	c.TransferFlags = binary.BigEndian.Uint32(data[0:4])
	c.TransferBufferLength = int32(binary.BigEndian.Uint32(data[4:8]))
	c.StartFrame = int32(binary.BigEndian.Uint32(data[8:12]))
	c.NumberOfPackets = int32(binary.BigEndian.Uint32(data[12:16]))
	c.Interval = int32(binary.BigEndian.Uint32(data[16:20]))
	copy(c.Setup[:], data[20:28])
	return nil
}

func marshalRetSubmit(r *RetSubmit) []byte {
	buf := make([]byte, CmdBodySize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(r.Status))
	binary.BigEndian.PutUint32(buf[4:8], uint32(r.ActualLength))
	binary.BigEndian.PutUint32(buf[8:12], uint32(r.StartFrame))
	binary.BigEndian.PutUint32(buf[12:16], uint32(r.NumberOfPackets))
	binary.BigEndian.PutUint32(buf[16:20], uint32(r.ErrorCount))
	return buf
}

func unmarshalRetSubmit(data []byte, r *RetSubmit) error {
	if len(data) < CmdBodySize {
		return ErrInsufficientData
	}
	r.Status = int32(binary.BigEndian.Uint32(data[0:4]))
	r.ActualLength = int32(binary.BigEndian.Uint32(data[4:8]))
	r.StartFrame = int32(binary.BigEndian.Uint32(data[8:12]))
	r.NumberOfPackets = int32(binary.BigEndian.Uint32(data[12:16]))
	r.ErrorCount = int32(binary.BigEndian.Uint32(data[16:20]))
	return nil
}

func marshalISODescriptor(d *ISODescriptor) []byte {
	buf := make([]byte, ISODescriptorSize)
	binary.BigEndian.PutUint32(buf[0:4], d.Offset)
	binary.BigEndian.PutUint32(buf[4:8], d.Length)
	binary.BigEndian.PutUint32(buf[8:12], d.ActualLength)
	binary.BigEndian.PutUint32(buf[12:16], uint32(d.Status))
	return buf
}

func unmarshalISODescriptor(data []byte, d *ISODescriptor) error {
	if len(data) < ISODescriptorSize {
		return ErrInsufficientData
	}
	d.Offset = binary.BigEndian.Uint32(data[0:4])
	d.Length = binary.BigEndian.Uint32(data[4:8])
	d.ActualLength = binary.BigEndian.Uint32(data[8:12])
	d.Status = int32(binary.BigEndian.Uint32(data[12:16]))
	return nil
}

// PutBusID writes s NUL-padded into dst, truncating to leave a terminator.
func PutBusID(dst []byte, s string) {
	clear(dst)
	n := copy(dst[:len(dst)-1], s)
	dst[n] = 0
}

// BusID decodes a NUL-padded string.
func BusID(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// MarshalError is a wire codec error.
type MarshalError string

func (e MarshalError) Error() string {
	return string(e)
}

const (
	ErrInsufficientData MarshalError = "insufficient data for unmarshaling"
	ErrInvalidType      MarshalError = "invalid type for marshaling"
)
