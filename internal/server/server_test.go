package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/ehrlich-b/go-usbip/internal/errs"
	"github.com/ehrlich-b/go-usbip/internal/logging"
	"github.com/ehrlich-b/go-usbip/internal/vhci"
	"github.com/ehrlich-b/go-usbip/internal/wire"
	"github.com/ehrlich-b/go-usbip/usb"
)

var (
	epBulkIn  = usb.NewEndpointAddress(1, usb.DirIn)
	epBulkOut = usb.NewEndpointAddress(2, usb.DirOut)
)

func testDevice() *usb.Device {
	return &usb.Device{
		USBVersion:     0x0200,
		Class:          usb.ClassVendor,
		SubClass:       usb.ClassVendor,
		Protocol:       usb.ClassVendor,
		MaxPacketSize0: 64,
		VendorID:       0x1234,
		ProductID:      0x5678,
		BCDDevice:      0x0100,
		Speed:          usb.SpeedHigh,
		LangID:         usb.LangIDEnglishUS,
		Configurations: []*usb.Configuration{{
			Value: 1,
			Interfaces: []*usb.InterfaceGroup{{
				Alternates: []*usb.Interface{{
					Class:    usb.ClassVendor,
					SubClass: 0x01,
					Protocol: 0x02,
					Endpoints: []*usb.Endpoint{
						{Address: epBulkIn, Attributes: usb.EndpointAttributes(usb.TransferBulk), MaxPacketSize: 512},
						{Address: epBulkOut, Attributes: usb.EndpointAttributes(usb.TransferBulk), MaxPacketSize: 512},
					},
				}},
			}},
		}},
	}
}

type countingObserver struct {
	accepted, rejected, disconnects int
	devlists, imports, failedImports int
	submits, unlinks, protocolErrors int
	lastStatus                       int32
}

func (o *countingObserver) ObserveAccept(rejected bool) {
	if rejected {
		o.rejected++
	} else {
		o.accepted++
	}
}
func (o *countingObserver) ObserveDisconnect() { o.disconnects++ }
func (o *countingObserver) ObserveDevlist()    { o.devlists++ }
func (o *countingObserver) ObserveImport(ok bool) {
	if ok {
		o.imports++
	} else {
		o.failedImports++
	}
}
func (o *countingObserver) ObserveSubmit(_, _, _ uint64, status int32) {
	o.submits++
	o.lastStatus = status
}
func (o *countingObserver) ObserveUnlink(bool)    { o.unlinks++ }
func (o *countingObserver) ObserveProtocolError() { o.protocolErrors++ }

func opRequest(code uint16) []byte {
	return wire.Marshal(&wire.OpHeader{Version: wire.USBIP_VERSION, Code: code})
}

func importRequest(busID string) []byte {
	req := opRequest(wire.OP_REQ_IMPORT)
	id := make([]byte, wire.BusIDSize)
	wire.PutBusID(id, busID)
	return append(req, id...)
}

func submitFrame(seq uint32, dev *vhci.Device, dir uint32, ep uint32, length int, setup [8]byte, data []byte) []byte {
	hdr := wire.CmdHeader{
		Command:   wire.USBIP_CMD_SUBMIT,
		SeqNum:    seq,
		BusNum:    uint16(dev.BusNum),
		DevNum:    uint16(dev.DevNum),
		Direction: dir,
		Endpoint:  ep,
	}
	body := wire.CmdSubmit{
		TransferBufferLength: int32(length),
		NumberOfPackets:      -1,
		Setup:                setup,
	}
	frame := append(wire.Marshal(&hdr), wire.Marshal(&body)...)
	return append(frame, data...)
}

func unlinkFrame(seq, victim uint32, busNum, devNum uint16) []byte {
	hdr := wire.CmdHeader{Command: wire.USBIP_CMD_UNLINK, SeqNum: seq, BusNum: busNum, DevNum: devNum}
	return append(wire.Marshal(&hdr), wire.Marshal(&wire.CmdUnlink{UnlinkSeqNum: victim})...)
}

func getDescriptorSetup(descType uint8, length uint16) [8]byte {
	var s [8]byte
	s[0] = 0x80
	s[1] = usb.RequestGetDescriptor
	s[3] = descType
	binary.LittleEndian.PutUint16(s[6:], length)
	return s
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

var _ = Describe("Server", func() {
	var (
		ctrl    *vhci.Controller
		srv     *Server
		obs     *countingObserver
		conn    net.Conn
		mockCtl *gomock.Controller
		handler *MockTransferHandler
		dev     *vhci.Device
	)

	// pump runs the poll loop until n bytes have been read from c.
	pump := func(c net.Conn, n int) []byte {
		buf := make([]byte, n)
		got := 0
		deadline := time.Now().Add(2 * time.Second)
		for got < n {
			Expect(time.Now().Before(deadline)).To(BeTrue(), "timed out after %d of %d bytes", got, n)
			Expect(srv.HandleOnce()).To(Succeed())
			Expect(c.SetReadDeadline(time.Now().Add(2 * time.Millisecond))).To(Succeed())
			k, err := c.Read(buf[got:])
			got += k
			if err != nil && !isTimeout(err) {
				Fail(fmt.Sprintf("read: %v", err))
			}
		}
		return buf
	}

	// idle runs the poll loop for a while and checks nothing arrives.
	idle := func(c net.Conn) {
		for rangeIter := 0; rangeIter < 20; rangeIter++ {
			Expect(srv.HandleOnce()).To(Succeed())
		}
		Expect(c.SetReadDeadline(time.Now().Add(20 * time.Millisecond))).To(Succeed())
		var b [1]byte
		_, err := c.Read(b[:])
		Expect(isTimeout(err)).To(BeTrue(), "unexpected data or error: %v", err)
	}

	expectClosed := func(c net.Conn) {
		deadline := time.Now().Add(2 * time.Second)
		var b [64]byte
		for time.Now().Before(deadline) {
			Expect(srv.HandleOnce()).To(Succeed())
			Expect(c.SetReadDeadline(time.Now().Add(2 * time.Millisecond))).To(Succeed())
			_, err := c.Read(b[:])
			if err != nil && !isTimeout(err) {
				return
			}
		}
		Fail("connection still open")
	}

	dial := func() net.Conn {
		c, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(c.Close)
		return c
	}

	send := func(c net.Conn, b []byte) {
		_, err := c.Write(b)
		Expect(err).NotTo(HaveOccurred())
	}

	readRetSubmit := func(c net.Conn, dataLen int) (wire.CmdHeader, wire.RetSubmit, []byte) {
		frame := pump(c, wire.CmdFrameSize+dataLen)
		var hdr wire.CmdHeader
		var ret wire.RetSubmit
		Expect(wire.Unmarshal(frame, &hdr)).To(Succeed())
		Expect(wire.Unmarshal(frame[wire.CmdHeaderSize:], &ret)).To(Succeed())
		return hdr, ret, frame[wire.CmdFrameSize:]
	}

	importDevice := func(c net.Conn) {
		send(c, importRequest(dev.BusID))
		reply := pump(c, wire.OpHeaderSize+wire.DeviceRecordSize)
		var hdr wire.OpHeader
		Expect(wire.Unmarshal(reply, &hdr)).To(Succeed())
		Expect(hdr.Status).To(BeEquivalentTo(wire.ST_OK))
	}

	BeforeEach(func() {
		var err error
		ctrl, err = vhci.New(vhci.Options{MaxDevices: 4, MaxPendingURBs: 4, Logger: logging.Nop()})
		Expect(err).NotTo(HaveOccurred())

		obs = &countingObserver{}
		srv, err = New(Config{
			BindAddr:          "127.0.0.1",
			Backlog:           4,
			MaxClients:        2,
			MaxTransferSize:   4096,
			TransferArenaSize: 64 * 1024,
			Controller:        ctrl,
			Logger:            logging.Nop(),
			Observer:          obs,
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(srv.Close)

		mockCtl = gomock.NewController(GinkgoT())
		handler = NewMockTransferHandler(mockCtl)
		dev, err = srv.Register(testDevice(), handler)
		Expect(err).NotTo(HaveOccurred())

		conn = dial()
	})

	It("should reject a config without a controller", func() {
		_, err := New(Config{Logger: logging.Nop()})
		Expect(err).To(HaveOccurred())
	})

	Context("before import", func() {
		It("should list devices and stay connected", func() {
			for rangeIter := 0; rangeIter < 2; rangeIter++ {
				send(conn, opRequest(wire.OP_REQ_DEVLIST))
				reply := pump(conn, wire.OpHeaderSize+wire.DevlistCountSize+wire.DeviceRecordSize+wire.InterfaceRecordSize)

				var hdr wire.OpHeader
				Expect(wire.Unmarshal(reply, &hdr)).To(Succeed())
				Expect(hdr.Version).To(BeEquivalentTo(wire.USBIP_VERSION))
				Expect(hdr.Code).To(BeEquivalentTo(wire.OP_REP_DEVLIST))
				Expect(hdr.Status).To(BeEquivalentTo(wire.ST_OK))
				Expect(binary.BigEndian.Uint32(reply[wire.OpHeaderSize:])).To(BeEquivalentTo(1))

				var rec wire.DeviceRecord
				off := wire.OpHeaderSize + wire.DevlistCountSize
				Expect(wire.Unmarshal(reply[off:], &rec)).To(Succeed())
				Expect(rec.BusID).To(Equal("1-1"))
				Expect(rec.Path).To(Equal("/dev/bus/usb/001/001"))
				Expect(rec.IDVendor).To(BeEquivalentTo(0x1234))
				Expect(rec.IDProduct).To(BeEquivalentTo(0x5678))
				Expect(rec.Speed).To(BeEquivalentTo(usb.SpeedHigh))
				Expect(rec.NumConfigurations).To(BeEquivalentTo(1))
				Expect(rec.NumInterfaces).To(BeEquivalentTo(1))

				var ifc wire.InterfaceRecord
				Expect(wire.Unmarshal(reply[off+wire.DeviceRecordSize:], &ifc)).To(Succeed())
				Expect(ifc).To(Equal(wire.InterfaceRecord{Class: usb.ClassVendor, SubClass: 0x01, Protocol: 0x02}))
			}
			Expect(obs.devlists).To(Equal(2))
		})

		It("should answer an unknown busid with ST_NA and keep the client", func() {
			send(conn, importRequest("9-9"))
			reply := pump(conn, wire.OpHeaderSize)

			var hdr wire.OpHeader
			Expect(wire.Unmarshal(reply, &hdr)).To(Succeed())
			Expect(hdr.Code).To(BeEquivalentTo(wire.OP_REP_IMPORT))
			Expect(hdr.Status).To(BeEquivalentTo(wire.ST_NA))
			idle(conn)
			Expect(obs.failedImports).To(Equal(1))

			importDevice(conn)
		})

		It("should import a device once", func() {
			send(conn, importRequest(dev.BusID))
			reply := pump(conn, wire.OpHeaderSize+wire.DeviceRecordSize)

			var rec wire.DeviceRecord
			Expect(wire.Unmarshal(reply[wire.OpHeaderSize:], &rec)).To(Succeed())
			Expect(rec.BusID).To(Equal(dev.BusID))
			Expect(rec.DevNum).To(Equal(dev.DevNum))

			st := srv.Status()
			Expect(st.Clients).To(HaveLen(1))
			Expect(st.Clients[0].State).To(Equal("imported"))
			d, ok := st.Device(dev.BusID)
			Expect(ok).To(BeTrue())
			Expect(d.Imported).To(BeTrue())
			Expect(d.Owner).To(Equal(st.Clients[0].Session))

			other := dial()
			send(other, importRequest(dev.BusID))
			reply = pump(other, wire.OpHeaderSize)
			var hdr wire.OpHeader
			Expect(wire.Unmarshal(reply, &hdr)).To(Succeed())
			Expect(hdr.Status).To(BeEquivalentTo(wire.ST_NA))
		})

		It("should close a client sending a bad version", func() {
			send(conn, []byte{0x01, 0x06, 0x80, 0x05, 0, 0, 0, 0})
			expectClosed(conn)
			Expect(obs.protocolErrors).To(Equal(1))
			Expect(srv.Status().Clients).To(BeEmpty())
		})

		It("should close a client sending an unknown op code", func() {
			send(conn, opRequest(0x8009))
			expectClosed(conn)
		})

		It("should reject clients beyond the limit", func() {
			second := dial()
			third := dial()
			for rangeIter := 0; rangeIter < 10; rangeIter++ {
				Expect(srv.HandleOnce()).To(Succeed())
			}
			expectClosed(third)
			Expect(obs.rejected).To(Equal(1))

			send(second, opRequest(wire.OP_REQ_DEVLIST))
			pump(second, wire.OpHeaderSize+wire.DevlistCountSize)
		})
	})

	Context("after import", func() {
		BeforeEach(func() {
			importDevice(conn)
		})

		It("should answer GET_DESCRIPTOR on endpoint 0", func() {
			setup := getDescriptorSetup(usb.DescriptorTypeDevice, usb.DeviceDescriptorSize)
			send(conn, submitFrame(7, dev, wire.USBIP_DIR_IN, 0, usb.DeviceDescriptorSize, setup, nil))

			hdr, ret, data := readRetSubmit(conn, usb.DeviceDescriptorSize)
			Expect(hdr.Command).To(BeEquivalentTo(wire.USBIP_RET_SUBMIT))
			Expect(hdr.SeqNum).To(BeEquivalentTo(7))
			Expect(ret.Status).To(BeZero())
			Expect(ret.ActualLength).To(BeEquivalentTo(usb.DeviceDescriptorSize))
			Expect(data[0]).To(BeEquivalentTo(usb.DeviceDescriptorSize))
			Expect(data[1]).To(BeEquivalentTo(usb.DescriptorTypeDevice))
			Expect(binary.LittleEndian.Uint16(data[8:])).To(BeEquivalentTo(0x1234))
		})

		It("should resume a frame that arrives in pieces", func() {
			setup := getDescriptorSetup(usb.DescriptorTypeDevice, 8)
			frame := submitFrame(8, dev, wire.USBIP_DIR_IN, 0, 8, setup, nil)

			send(conn, frame[:30])
			idle(conn)
			send(conn, frame[30:])

			_, ret, data := readRetSubmit(conn, 8)
			Expect(ret.ActualLength).To(BeEquivalentTo(8))
			Expect(data[0]).To(BeEquivalentTo(usb.DeviceDescriptorSize))
		})

		It("should pass OUT data to the handler", func() {
			payload := []byte("0123456789")
			handler.EXPECT().HandleTransfer(gomock.Any()).DoAndReturn(func(urb *usb.URB) bool {
				Expect(urb.Buffer).To(Equal(payload))
				Expect(urb.Pipe.Type()).To(Equal(usb.TransferBulk))
				Expect(urb.Pipe.Direction()).To(Equal(usb.DirOut))
				urb.ActualLength = len(urb.Buffer)
				return true
			})

			send(conn, submitFrame(9, dev, wire.USBIP_DIR_OUT, 2, len(payload), [8]byte{}, payload))
			_, ret, _ := readRetSubmit(conn, 0)
			Expect(ret.Status).To(BeZero())
			Expect(ret.ActualLength).To(BeEquivalentTo(len(payload)))
			Expect(obs.submits).To(Equal(1))
		})

		It("should complete a pending IN transfer on a later pass", func() {
			calls := 0
			handler.EXPECT().HandleTransfer(gomock.Any()).DoAndReturn(func(urb *usb.URB) bool {
				calls++
				if calls < 3 {
					return false
				}
				urb.ActualLength = copy(urb.Buffer, "hello")
				return true
			}).Times(3)

			send(conn, submitFrame(10, dev, wire.USBIP_DIR_IN, 1, 512, [8]byte{}, nil))
			_, ret, data := readRetSubmit(conn, 5)
			Expect(ret.ActualLength).To(BeEquivalentTo(5))
			Expect(string(data)).To(Equal("hello"))
			Expect(srv.Status().Clients[0].InFlight).To(BeZero())
		})

		It("should unlink a pending transfer without a RET_SUBMIT", func() {
			handler.EXPECT().HandleTransfer(gomock.Any()).Return(false).MinTimes(1)

			send(conn, submitFrame(11, dev, wire.USBIP_DIR_IN, 1, 512, [8]byte{}, nil))
			for rangeIter := 0; rangeIter < 3; rangeIter++ {
				Expect(srv.HandleOnce()).To(Succeed())
			}
			Expect(dev.Pending()).To(Equal(1))

			send(conn, unlinkFrame(12, 11, uint16(dev.BusNum), uint16(dev.DevNum)))
			frame := pump(conn, wire.CmdFrameSize)

			var hdr wire.CmdHeader
			var ret wire.RetUnlink
			Expect(wire.Unmarshal(frame, &hdr)).To(Succeed())
			Expect(wire.Unmarshal(frame[wire.CmdHeaderSize:], &ret)).To(Succeed())
			Expect(hdr.Command).To(BeEquivalentTo(wire.USBIP_RET_UNLINK))
			Expect(hdr.SeqNum).To(BeEquivalentTo(12))
			Expect(ret.Status).To(Equal(usb.StatusConnReset))
			Expect(dev.Pending()).To(BeZero())
			idle(conn)
		})

		It("should answer an unlink of an unknown seqnum with -ECONNRESET", func() {
			send(conn, unlinkFrame(22, 999, uint16(dev.BusNum), uint16(dev.DevNum)))
			frame := pump(conn, wire.CmdFrameSize)

			var ret wire.RetUnlink
			Expect(wire.Unmarshal(frame[wire.CmdHeaderSize:], &ret)).To(Succeed())
			Expect(ret.Status).To(Equal(usb.StatusConnReset))
			Expect(obs.unlinks).To(Equal(1))
		})

		It("should answer an unlink for another device with -ENODEV", func() {
			send(conn, unlinkFrame(13, 1, 1, 99))
			frame := pump(conn, wire.CmdFrameSize)

			var ret wire.RetUnlink
			Expect(wire.Unmarshal(frame[wire.CmdHeaderSize:], &ret)).To(Succeed())
			Expect(ret.Status).To(Equal(usb.StatusNoDevice))
		})

		It("should reject an endpoint the device does not have", func() {
			send(conn, submitFrame(14, dev, wire.USBIP_DIR_IN, 5, 64, [8]byte{}, nil))
			_, ret, _ := readRetSubmit(conn, 0)
			Expect(ret.Status).To(Equal(usb.StatusInvalid))
			Expect(ret.ActualLength).To(BeZero())
		})

		It("should fail transfers to a removed device", func() {
			Expect(srv.Remove(dev.BusID)).To(Succeed())
			setup := getDescriptorSetup(usb.DescriptorTypeDevice, 18)
			send(conn, submitFrame(15, dev, wire.USBIP_DIR_IN, 0, 18, setup, nil))

			_, ret, _ := readRetSubmit(conn, 0)
			Expect(ret.Status).To(Equal(usb.StatusNoDevice))
		})

		It("should close on an oversized transfer and release the device", func() {
			handler.EXPECT().HandleTransfer(gomock.Any()).Return(false).AnyTimes()
			send(conn, submitFrame(16, dev, wire.USBIP_DIR_IN, 1, 512, [8]byte{}, nil))
			for rangeIter := 0; rangeIter < 3; rangeIter++ {
				Expect(srv.HandleOnce()).To(Succeed())
			}

			send(conn, submitFrame(17, dev, wire.USBIP_DIR_IN, 1, 8192, [8]byte{}, nil))
			expectClosed(conn)

			Expect(obs.protocolErrors).To(Equal(1))
			Expect(dev.Imported()).To(BeFalse())
			Expect(dev.Pending()).To(BeZero())
		})

		It("should close on an unknown command", func() {
			frame := unlinkFrame(18, 1, uint16(dev.BusNum), uint16(dev.DevNum))
			binary.BigEndian.PutUint32(frame, 0x7)
			send(conn, frame)
			expectClosed(conn)
			Expect(dev.Imported()).To(BeFalse())
		})

		It("should publish in-flight transfers", func() {
			handler.EXPECT().HandleTransfer(gomock.Any()).Return(false).AnyTimes()

			send(conn, submitFrame(19, dev, wire.USBIP_DIR_IN, 1, 512, [8]byte{}, nil))
			for rangeIter := 0; rangeIter < 3; rangeIter++ {
				Expect(srv.HandleOnce()).To(Succeed())
			}

			st := srv.Status()
			Expect(st.Clients).To(HaveLen(1))
			Expect(st.Clients[0].InFlight).To(Equal(1))
			d, ok := st.Device(dev.BusID)
			Expect(ok).To(BeTrue())
			Expect(d.PendingURBs).To(Equal(1))

			send(conn, unlinkFrame(20, 19, uint16(dev.BusNum), uint16(dev.DevNum)))
			pump(conn, wire.CmdFrameSize)
			Expect(srv.Status().Clients[0].InFlight).To(BeZero())
		})

		It("should keep serving imported clients after the listener fails", func() {
			Expect(srv.ln.Close()).To(Succeed())

			Expect(srv.HandleOnce()).To(MatchError(errs.ErrListener))
			Expect(srv.Listening()).To(BeFalse())
			Expect(srv.Status().Listening).To(BeFalse())
			for rangeIter := 0; rangeIter < 5; rangeIter++ {
				Expect(srv.HandleOnce()).To(Succeed())
			}

			setup := getDescriptorSetup(usb.DescriptorTypeDevice, 8)
			send(conn, submitFrame(21, dev, wire.USBIP_DIR_IN, 0, 8, setup, nil))
			hdr, ret, data := readRetSubmit(conn, 8)
			Expect(hdr.SeqNum).To(BeEquivalentTo(21))
			Expect(ret.Status).To(BeZero())
			Expect(data[1]).To(BeEquivalentTo(usb.DescriptorTypeDevice))
			Expect(srv.Status().Clients).To(HaveLen(1))
		})

		Context("with a small completion queue", func() {
			const length = 16 * 1024

			BeforeEach(func() {
				small, err := vhci.New(vhci.Options{MaxDevices: 1, MaxPendingURBs: 8, Logger: logging.Nop()})
				Expect(err).NotTo(HaveOccurred())

				// room for two pending 16K IN replies, not three
				srv, err = New(Config{
					BindAddr:            "127.0.0.1",
					Backlog:             4,
					MaxClients:          1,
					MaxTransferSize:     length,
					CompletionQueueSize: 40 * 1024,
					TransferArenaSize:   128 * 1024,
					Controller:          small,
					Logger:              logging.Nop(),
					Observer:            obs,
				})
				Expect(err).NotTo(HaveOccurred())
				DeferCleanup(srv.Close)

				dev, err = srv.Register(testDevice(), handler)
				Expect(err).NotTo(HaveOccurred())
				conn = dial()
				importDevice(conn)
			})

			It("should reject submits it cannot buffer and still answer unlinks", func() {
				handler.EXPECT().HandleTransfer(gomock.Any()).Return(false).AnyTimes()

				for seq := uint32(2); seq <= 5; seq++ {
					send(conn, submitFrame(seq, dev, wire.USBIP_DIR_IN, 1, length, [8]byte{}, nil))
				}
				for _, seq := range []uint32{4, 5} {
					hdr, ret, _ := readRetSubmit(conn, 0)
					Expect(hdr.SeqNum).To(BeEquivalentTo(seq))
					Expect(ret.Status).To(Equal(usb.StatusNoMemory))
					Expect(ret.ActualLength).To(BeZero())
				}
				Expect(dev.Pending()).To(Equal(2))

				send(conn, unlinkFrame(6, 2, uint16(dev.BusNum), uint16(dev.DevNum)))
				frame := pump(conn, wire.CmdFrameSize)
				var hdr wire.CmdHeader
				var ret wire.RetUnlink
				Expect(wire.Unmarshal(frame, &hdr)).To(Succeed())
				Expect(wire.Unmarshal(frame[wire.CmdHeaderSize:], &ret)).To(Succeed())
				Expect(hdr.Command).To(BeEquivalentTo(wire.USBIP_RET_UNLINK))
				Expect(hdr.SeqNum).To(BeEquivalentTo(6))
				Expect(ret.Status).To(Equal(usb.StatusConnReset))
				Expect(dev.Pending()).To(Equal(1))

				// the freed space takes a new transfer
				send(conn, submitFrame(7, dev, wire.USBIP_DIR_IN, 1, length, [8]byte{}, nil))
				idle(conn)
				Expect(dev.Pending()).To(Equal(2))
				Expect(srv.Status().Clients[0].InFlight).To(Equal(2))
			})
		})
	})
})
