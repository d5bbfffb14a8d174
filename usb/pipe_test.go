package usb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipe_RoundTrip(t *testing.T) {
	tests := []struct {
		ep  uint8
		dir Direction
		typ TransferType
	}{
		{0, DirOut, TransferControl},
		{0, DirIn, TransferControl},
		{1, DirIn, TransferBulk},
		{2, DirOut, TransferInterrupt},
		{15, DirIn, TransferIsochronous},
	}

	for _, tt := range tests {
		p := NewPipe(tt.ep, tt.dir, tt.typ)
		assert.Equal(t, tt.ep, p.Endpoint(), "pipe %s", p)
		assert.Equal(t, tt.dir, p.Direction(), "pipe %s", p)
		assert.Equal(t, tt.typ, p.Type(), "pipe %s", p)
	}

	assert.Equal(t, Pipe(1|2<<1|1<<3), NewPipe(1, DirIn, TransferBulk))
}

func TestEndpointAddress(t *testing.T) {
	a := NewEndpointAddress(3, DirIn)
	assert.Equal(t, EndpointAddress(0x83), a)
	assert.Equal(t, uint8(3), a.Number())
	assert.Equal(t, DirIn, a.Direction())
	assert.Equal(t, "ep3in", a.String())

	assert.Equal(t, DirOut, EndpointAddress(0x02).Direction())
}

func TestEndpointAttributesAndMaxPacket(t *testing.T) {
	attr := EndpointAttributes(0x25) // iso, async, implicit feedback
	assert.Equal(t, TransferIsochronous, attr.TransferType())
	assert.Equal(t, uint8(1), attr.SyncType())
	assert.Equal(t, uint8(2), attr.UsageType())

	mp := MaxPacket(0x1400) // 1024 bytes, 3 transactions
	assert.Equal(t, 1024, mp.Size())
	assert.Equal(t, 3, mp.Transactions())
}

func TestSetupPacket(t *testing.T) {
	raw := [SetupPacketSize]byte{0x80, RequestGetDescriptor, 0x00, DescriptorTypeConfiguration, 0x00, 0x00, 0xff, 0x00}
	s := ParseSetup(raw)

	assert.Equal(t, DirIn, s.Direction())
	assert.Equal(t, uint8(RequestKindStandard), s.Kind())
	assert.Equal(t, uint8(RecipientDevice), s.Recipient())
	assert.Equal(t, uint8(DescriptorTypeConfiguration), s.DescriptorType())
	assert.Equal(t, uint8(0), s.DescriptorIndex())
	assert.Equal(t, uint16(255), s.Length)
	assert.Equal(t, raw, s.Bytes())

	vendor := ParseSetup([SetupPacketSize]byte{0x41})
	assert.Equal(t, DirOut, vendor.Direction())
	assert.Equal(t, uint8(RequestKindVendor), vendor.Kind())
	assert.Equal(t, uint8(RecipientInterface), vendor.Recipient())
}
