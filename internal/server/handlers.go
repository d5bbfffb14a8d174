package server

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ehrlich-b/go-usbip/internal/constants"
	"github.com/ehrlich-b/go-usbip/internal/errs"
	"github.com/ehrlich-b/go-usbip/internal/vhci"
	"github.com/ehrlich-b/go-usbip/internal/wire"
	"github.com/ehrlich-b/go-usbip/usb"
)

// transfer is the per-URB context linking a completion back to its client.
type transfer struct {
	client     *client
	start      time.Time
	reserve    int
	numPackets int32
}

func protocolError(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errs.ErrProtocol)
}

// parse handles every complete frame in c's inbound stream. A frame that
// has not fully arrived, or whose reply does not fit yet, stays buffered
// for a later pass.
func (s *Server) parse(c *client) error {
	for c.err == nil {
		var (
			n   int
			err error
		)
		if c.state == StateAwaitingRequest {
			n, err = s.parseOp(c)
		} else {
			n, err = s.parseCmd(c)
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

func (s *Server) parseOp(c *client) (int, error) {
	if c.in.Len() < wire.OpHeaderSize {
		return 0, nil
	}
	c.in.Peek(s.frame[:wire.OpHeaderSize])

	var hdr wire.OpHeader
	if err := wire.Unmarshal(s.frame[:wire.OpHeaderSize], &hdr); err != nil {
		return 0, err
	}
	if hdr.Version != wire.USBIP_VERSION {
		return 0, protocolError("op version %#04x", hdr.Version)
	}

	switch hdr.Code {
	case wire.OP_REQ_DEVLIST:
		reply := s.devlistReply()
		if len(reply) > c.out.Cap() {
			return 0, fmt.Errorf("devlist reply of %d bytes: %w", len(reply), errs.ErrTooLarge)
		}
		if len(reply) > c.out.Free() {
			return 0, nil
		}
		c.in.Discard(wire.OpHeaderSize)
		if err := c.out.Push(reply); err != nil {
			return 0, err
		}
		c.log.Debug("devlist", "devices", s.vhci.Len())
		s.obs.ObserveDevlist()
		return wire.OpHeaderSize, nil

	case wire.OP_REQ_IMPORT:
		const size = wire.OpHeaderSize + wire.BusIDSize
		if c.in.Len() < size {
			return 0, nil
		}
		if c.out.Free() < wire.OpHeaderSize+wire.DeviceRecordSize {
			return 0, nil
		}
		c.in.Pop(s.frame[:size])
		if err := s.importDevice(c, wire.BusID(s.frame[wire.OpHeaderSize:size])); err != nil {
			return 0, err
		}
		return size, nil

	default:
		return 0, protocolError("unexpected op code %#04x", hdr.Code)
	}
}

func (s *Server) devlistReply() []byte {
	devices := s.vhci.Devices()

	reply := wire.Marshal(&wire.OpHeader{Version: wire.USBIP_VERSION, Code: wire.OP_REP_DEVLIST, Status: wire.ST_OK})
	reply = append(reply, 0, 0, 0, 0)
	binary.BigEndian.PutUint32(reply[wire.OpHeaderSize:], uint32(len(devices)))

	for _, d := range devices {
		reply = append(reply, wire.Marshal(deviceRecord(d))...)
		for _, cls := range d.Desc.InterfaceClasses() {
			reply = append(reply, wire.Marshal(&wire.InterfaceRecord{Class: cls[0], SubClass: cls[1], Protocol: cls[2]})...)
		}
	}
	return reply
}

func deviceRecord(d *vhci.Device) *wire.DeviceRecord {
	return &wire.DeviceRecord{
		Path:               d.Path,
		BusID:              d.BusID,
		BusNum:             d.BusNum,
		DevNum:             d.DevNum,
		Speed:              d.Speed(),
		IDVendor:           d.Desc.VendorID,
		IDProduct:          d.Desc.ProductID,
		BCDDevice:          d.Desc.BCDDevice,
		DeviceClass:        d.Desc.Class,
		DeviceSubClass:     d.Desc.SubClass,
		DeviceProtocol:     d.Desc.Protocol,
		ConfigurationValue: d.Desc.ConfigurationValue(),
		NumConfigurations:  uint8(len(d.Desc.Configurations)),
		NumInterfaces:      uint8(d.Desc.InterfaceCount()),
	}
}

// importDevice answers OP_REQ_IMPORT. A failed import leaves the client
// in the awaiting state so it may retry or ask for the device list.
func (s *Server) importDevice(c *client, busID string) error {
	log := c.log.WithDevice(busID)

	dev := s.vhci.FindByBusID(busID)
	ok := dev != nil && dev.Claim(c.id)

	hdr := wire.OpHeader{Version: wire.USBIP_VERSION, Code: wire.OP_REP_IMPORT, Status: wire.ST_OK}
	if !ok {
		hdr.Status = wire.ST_NA
		if dev == nil {
			log.Info("import of unknown device")
		} else {
			log.Info("import of busy device", "owner", dev.Owner())
		}
		s.obs.ObserveImport(false)
		return c.out.Push(wire.Marshal(&hdr))
	}

	reply := append(wire.Marshal(&hdr), wire.Marshal(deviceRecord(dev))...)
	if err := c.out.Push(reply); err != nil {
		return err
	}

	c.state = StateImported
	c.dev = dev
	c.busNum, c.devNum = dev.BusNum, dev.DevNum
	c.log = c.log.WithDevice(dev.BusID)
	c.log.Info("device imported")
	s.obs.ObserveImport(true)
	s.dirty = true
	return nil
}

func (s *Server) parseCmd(c *client) (int, error) {
	if c.in.Len() < wire.CmdFrameSize {
		return 0, nil
	}
	c.in.Peek(s.frame[:wire.CmdFrameSize])

	var hdr wire.CmdHeader
	if err := wire.Unmarshal(s.frame[:wire.CmdHeaderSize], &hdr); err != nil {
		return 0, err
	}
	if hdr.Direction != wire.USBIP_DIR_OUT && hdr.Direction != wire.USBIP_DIR_IN {
		return 0, protocolError("seq %d: direction %d", hdr.SeqNum, hdr.Direction)
	}
	if hdr.Endpoint > 0x0f {
		return 0, protocolError("seq %d: endpoint %d", hdr.SeqNum, hdr.Endpoint)
	}

	switch hdr.Command {
	case wire.USBIP_CMD_SUBMIT:
		return s.parseSubmit(c, hdr)
	case wire.USBIP_CMD_UNLINK:
		return s.parseUnlink(c, hdr)
	default:
		return 0, protocolError("seq %d: unexpected command %#x", hdr.SeqNum, hdr.Command)
	}
}

func (s *Server) parseSubmit(c *client, hdr wire.CmdHeader) (int, error) {
	var body wire.CmdSubmit
	if err := wire.Unmarshal(s.frame[wire.CmdHeaderSize:wire.CmdFrameSize], &body); err != nil {
		return 0, err
	}

	length := int(body.TransferBufferLength)
	if length < 0 || length > s.cfg.MaxTransferSize {
		return 0, protocolError("seq %d: transfer length %d", hdr.SeqNum, body.TransferBufferLength)
	}
	if body.NumberOfPackets < 0 && uint32(body.NumberOfPackets) != wire.NoISOPackets {
		return 0, protocolError("seq %d: number of packets %d", hdr.SeqNum, body.NumberOfPackets)
	}
	packets := body.ISOPackets()
	if packets > constants.MaxISOPackets {
		return 0, protocolError("seq %d: %d iso packets", hdr.SeqNum, packets)
	}

	outLen, inLen := length, 0
	if hdr.Direction == wire.USBIP_DIR_IN {
		outLen, inLen = 0, length
	}
	isoLen := packets * wire.ISODescriptorSize

	frameLen := wire.CmdFrameSize + outLen + isoLen
	if c.in.Len() < frameLen {
		return 0, nil
	}
	replyMax := wire.CmdFrameSize + inLen + isoLen
	if !c.reserve(replyMax) {
		// reply -ENOMEM without waiting for queue space
		if !c.fits(wire.CmdFrameSize) {
			return 0, nil
		}
		c.in.Pop(s.frame[:frameLen])
		c.log.WithURB(hdr.SeqNum, uint8(hdr.Endpoint)).Warn("completion queue full, rejecting submit",
			"reply", replyMax, "reserved", c.reserved)
		if err := s.replySubmit(c, hdr.SeqNum, body, usb.StatusNoMemory); err != nil {
			return 0, err
		}
		return frameLen, nil
	}
	c.in.Pop(s.frame[:frameLen])

	data := s.frame[wire.CmdFrameSize : wire.CmdFrameSize+outLen]
	iso := s.frame[wire.CmdFrameSize+outLen : frameLen]
	if err := s.submit(c, hdr, body, data, iso, replyMax); err != nil {
		return 0, err
	}
	return frameLen, nil
}

// submit builds a URB from a received frame and hands it to the
// controller. replyMax bytes of completion queue are already reserved.
func (s *Server) submit(c *client, hdr wire.CmdHeader, body wire.CmdSubmit, data, iso []byte, replyMax int) error {
	log := c.log.WithURB(hdr.SeqNum, uint8(hdr.Endpoint))

	dev := s.lookup(c, hdr)
	if dev == nil {
		log.Debug("submit to detached device", "busnum", hdr.BusNum, "devnum", hdr.DevNum)
		return s.rejectSubmit(c, hdr.SeqNum, body, replyMax, usb.StatusNoDevice)
	}

	packets := make([]usb.ISOPacket, body.ISOPackets())
	for i := range packets {
		var d wire.ISODescriptor
		if err := wire.Unmarshal(iso[i*wire.ISODescriptorSize:], &d); err != nil {
			c.release(replyMax)
			return err
		}
		if uint64(d.Offset)+uint64(d.Length) > uint64(body.TransferBufferLength) {
			c.release(replyMax)
			return protocolError("seq %d: iso packet %d outside buffer", hdr.SeqNum, i)
		}
		packets[i] = usb.ISOPacket{Offset: d.Offset, Length: d.Length}
	}

	var buf []byte
	if body.TransferBufferLength > 0 {
		var err error
		buf, err = s.buffers.Alloc(int(body.TransferBufferLength))
		if err != nil {
			log.WithError(err).Warn("transfer buffer allocation failed", "length", body.TransferBufferLength)
			return s.rejectSubmit(c, hdr.SeqNum, body, replyMax, usb.StatusNoMemory)
		}
		copy(buf, data)
	}

	dir := usb.DirOut
	if hdr.Direction == wire.USBIP_DIR_IN {
		dir = usb.DirIn
	}
	ep := uint8(hdr.Endpoint)

	urb := &usb.URB{
		SeqNum:          hdr.SeqNum,
		Pipe:            usb.NewPipe(ep, dir, transferType(dev, ep, dir)),
		TransferFlags:   body.TransferFlags,
		Buffer:          buf,
		Setup:           body.Setup,
		StartFrame:      uint32(body.StartFrame),
		NumberOfPackets: uint32(len(packets)),
		Interval:        uint32(body.Interval),
		ISO:             packets,
		Complete:        s.completeURB,
		Context: &transfer{
			client:     c,
			start:      time.Now(),
			reserve:    replyMax,
			numPackets: body.NumberOfPackets,
		},
	}

	c.inflight++
	s.dirty = true
	log.Debug("submit", "pipe", urb.Pipe.String(), "length", len(buf))
	s.vhci.Submit(dev, urb)
	return nil
}

// transferType derives the pipe type, which USB/IP does not carry, from
// the endpoint descriptor. Unknown endpoints are tagged bulk and rejected
// by the controller.
func transferType(dev *vhci.Device, ep uint8, dir usb.Direction) usb.TransferType {
	if ep == 0 {
		return usb.TransferControl
	}
	if e := dev.Desc.Endpoint(usb.NewEndpointAddress(ep, dir)); e != nil {
		return e.Attributes.TransferType()
	}
	return usb.TransferBulk
}

// lookup resolves a command's devid to the device the client imported.
func (s *Server) lookup(c *client, hdr wire.CmdHeader) *vhci.Device {
	dev := s.vhci.FindByBusDev(uint32(hdr.BusNum), uint32(hdr.DevNum))
	if dev == nil || dev != c.dev || dev.Owner() != c.id {
		return nil
	}
	return dev
}

func (s *Server) rejectSubmit(c *client, seq uint32, body wire.CmdSubmit, reserved int, status int32) error {
	c.release(reserved)
	return s.replySubmit(c, seq, body, status)
}

// replySubmit queues a header-only RET_SUBMIT carrying status.
func (s *Server) replySubmit(c *client, seq uint32, body wire.CmdSubmit, status int32) error {
	msg := retSubmitFrame(seq, &wire.RetSubmit{Status: status, NumberOfPackets: body.NumberOfPackets})
	s.obs.ObserveSubmit(0, 0, 0, status)
	return s.queue(c, msg)
}

// queue pushes a completion frame and accounts for its queue space.
func (s *Server) queue(c *client, msg []byte) error {
	c.reserved += queueFootprint(len(msg))
	if _, err := c.done.Push(msg); err != nil {
		c.release(len(msg))
		return fmt.Errorf("queue completion: %w", err)
	}
	return nil
}

func retSubmitFrame(seq uint32, ret *wire.RetSubmit) []byte {
	hdr := wire.CmdHeader{Command: wire.USBIP_RET_SUBMIT, SeqNum: seq}
	return append(wire.Marshal(&hdr), wire.Marshal(ret)...)
}

// completeURB encodes RET_SUBMIT for a finished URB and queues it on the
// owning client.
func (s *Server) completeURB(urb *usb.URB) {
	t := urb.Context.(*transfer)
	c := t.client
	c.release(t.reserve)

	if !c.closed {
		msg := s.retSubmit(urb, t)
		if err := s.queue(c, msg); err != nil {
			c.fail(err)
		}

		var out, in uint64
		if urb.Pipe.Direction() == usb.DirIn {
			in = uint64(urb.ActualLength)
		} else {
			out = uint64(urb.ActualLength)
		}
		s.obs.ObserveSubmit(out, in, uint64(time.Since(t.start)), urb.Status)
		c.log.WithURB(urb.SeqNum, urb.Pipe.Endpoint()).Debug("complete", "status", urb.Status, "length", urb.ActualLength)
	}

	s.retire(urb, t)
}

func (s *Server) retSubmit(urb *usb.URB, t *transfer) []byte {
	ret := wire.RetSubmit{
		Status:          urb.Status,
		ActualLength:    int32(urb.ActualLength),
		StartFrame:      int32(urb.StartFrame),
		NumberOfPackets: t.numPackets,
		ErrorCount:      int32(urb.ErrorCount),
	}
	msg := retSubmitFrame(urb.SeqNum, &ret)

	if urb.Pipe.Direction() == usb.DirIn {
		if len(urb.ISO) == 0 {
			msg = append(msg, urb.Data()...)
		} else {
			// iso IN data goes back packed, packet by packet
			for _, p := range urb.ISO {
				end := min(int(p.Offset)+int(p.ActualLength), len(urb.Buffer))
				if int(p.Offset) < end {
					msg = append(msg, urb.Buffer[p.Offset:end]...)
				}
			}
		}
	}
	for _, p := range urb.ISO {
		msg = append(msg, wire.Marshal(&wire.ISODescriptor{
			Offset:       p.Offset,
			Length:       p.Length,
			ActualLength: p.ActualLength,
			Status:       p.Status,
		})...)
	}
	return msg
}

// dropTransfer releases a URB that will not complete: unlinked, or
// canceled when its client went away.
func (s *Server) dropTransfer(urb *usb.URB) {
	t, ok := urb.Context.(*transfer)
	if !ok {
		return
	}
	t.client.release(t.reserve)
	s.retire(urb, t)
}

func (s *Server) retire(urb *usb.URB, t *transfer) {
	if cap(urb.Buffer) > 0 {
		if err := s.buffers.Free(urb.Buffer); err != nil {
			t.client.log.WithError(err).Error("transfer buffer free failed")
		}
		urb.Buffer = nil
	}
	t.client.inflight--
	s.dirty = true
}

func (s *Server) parseUnlink(c *client, hdr wire.CmdHeader) (int, error) {
	if !c.fits(wire.CmdFrameSize) {
		return 0, nil
	}
	c.in.Pop(s.frame[:wire.CmdFrameSize])

	var body wire.CmdUnlink
	if err := wire.Unmarshal(s.frame[wire.CmdHeaderSize:wire.CmdFrameSize], &body); err != nil {
		return 0, err
	}
	log := c.log.WithURB(body.UnlinkSeqNum, uint8(hdr.Endpoint))

	status := usb.StatusNoDevice
	found := false
	if dev := s.lookup(c, hdr); dev != nil {
		status = usb.StatusConnReset
		var urb *usb.URB
		if urb, found = s.vhci.Unlink(dev, body.UnlinkSeqNum); found {
			s.dropTransfer(urb)
		}
	}
	log.Debug("unlink", "found", found, "status", status)
	s.obs.ObserveUnlink(found)

	ret := wire.CmdHeader{Command: wire.USBIP_RET_UNLINK, SeqNum: hdr.SeqNum}
	msg := append(wire.Marshal(&ret), wire.Marshal(&wire.RetUnlink{Status: status})...)
	if err := s.queue(c, msg); err != nil {
		return 0, err
	}
	return wire.CmdFrameSize, nil
}

