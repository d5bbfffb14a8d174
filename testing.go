package usbip

import (
	"sync"

	"github.com/ehrlich-b/go-usbip/usb"
)

// Transfer is one URB seen by a RecordingHandler
type Transfer struct {
	SeqNum    uint32
	Endpoint  uint8
	Direction usb.Direction
	Type      usb.TransferType
	Length    int
	Data      []byte // OUT payload, copied
}

// RecordingHandler is a usb.TransferHandler for tests. It records every
// URB, completes OUT transfers in full and answers IN transfers from
// queued responses. An IN URB with no queued response stays pending
// unless Immediate is set, in which case it completes with no data.
//
// This is useful for unit testing applications that export devices.
type RecordingHandler struct {
	Immediate bool

	mu        sync.Mutex
	transfers []Transfer
	responses map[uint8][][]byte
	canceled  []uint32
	calls     int
}

// NewRecordingHandler creates an empty recording handler
func NewRecordingHandler() *RecordingHandler {
	return &RecordingHandler{responses: make(map[uint8][][]byte)}
}

// QueueResponse queues data for the next IN transfer on endpoint ep
func (h *RecordingHandler) QueueResponse(ep uint8, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses[ep] = append(h.responses[ep], append([]byte(nil), data...))
}

// HandleTransfer implements usb.TransferHandler
func (h *RecordingHandler) HandleTransfer(urb *usb.URB) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.calls++
	ep := urb.Pipe.Endpoint()

	if urb.Pipe.Direction() == usb.DirOut {
		h.record(urb, append([]byte(nil), urb.Buffer...))
		urb.ActualLength = len(urb.Buffer)
		return true
	}

	queue := h.responses[ep]
	if len(queue) == 0 {
		if !h.Immediate {
			return false
		}
		h.record(urb, nil)
		return true
	}
	h.responses[ep] = queue[1:]
	h.record(urb, nil)
	urb.ActualLength = copy(urb.Buffer, queue[0])
	return true
}

func (h *RecordingHandler) record(urb *usb.URB, data []byte) {
	h.transfers = append(h.transfers, Transfer{
		SeqNum:    urb.SeqNum,
		Endpoint:  urb.Pipe.Endpoint(),
		Direction: urb.Pipe.Direction(),
		Type:      urb.Pipe.Type(),
		Length:    len(urb.Buffer),
		Data:      data,
	})
}

// CancelTransfer implements usb.Canceler
func (h *RecordingHandler) CancelTransfer(urb *usb.URB) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.canceled = append(h.canceled, urb.SeqNum)
}

// Transfers returns the completed transfers in completion order
func (h *RecordingHandler) Transfers() []Transfer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Transfer(nil), h.transfers...)
}

// Canceled returns the sequence numbers of unlinked URBs
func (h *RecordingHandler) Canceled() []uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint32(nil), h.canceled...)
}

// Calls returns how many times HandleTransfer ran, retries included
func (h *RecordingHandler) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// Reset clears recorded state and queued responses
func (h *RecordingHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transfers = nil
	h.canceled = nil
	h.calls = 0
	h.responses = make(map[uint8][][]byte)
}

// Compile-time interface checks
var (
	_ usb.TransferHandler = (*RecordingHandler)(nil)
	_ usb.Canceler        = (*RecordingHandler)(nil)
)
