// Package vhci implements the virtual host controller: the registry of
// emulated devices and the dispatch of URBs to them.
package vhci

import (
	"fmt"

	"github.com/ehrlich-b/go-usbip/internal/alloc"
	"github.com/ehrlich-b/go-usbip/internal/constants"
	"github.com/ehrlich-b/go-usbip/internal/errs"
	"github.com/ehrlich-b/go-usbip/internal/list"
	"github.com/ehrlich-b/go-usbip/internal/logging"
	"github.com/ehrlich-b/go-usbip/internal/wire"
	"github.com/ehrlich-b/go-usbip/usb"
)

// Options configures a Controller.
type Options struct {
	// MaxDevices bounds the device list. Zero means unbounded.
	MaxDevices int
	// MaxPendingURBs bounds the pending list of each device. Zero means
	// unbounded.
	MaxPendingURBs int
	Logger         *logging.Logger
}

// Controller owns the device list. It is not safe for concurrent use.
type Controller struct {
	busNum  uint32
	lastDev uint32
	devices *list.List[*Device]
	opts    Options
	log     *logging.Logger
}

// New creates a controller for bus constants.BusNum.
func New(opts Options) (*Controller, error) {
	if opts.MaxDevices < 0 || opts.MaxPendingURBs < 0 {
		return nil, fmt.Errorf("vhci: negative limits: %w", errs.ErrInvalidArgument)
	}

	slots, err := slotAllocator(opts.MaxDevices)
	if err != nil {
		return nil, err
	}
	devices, err := list.New[*Device](slots)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	return &Controller{
		busNum:  constants.BusNum,
		devices: devices,
		opts:    opts,
		log:     log,
	}, nil
}

func slotAllocator(limit int) (alloc.SlotAllocator, error) {
	if limit == 0 {
		return alloc.NewDynamic(), nil
	}
	return alloc.NewSlabSlots(limit)
}

// BusNum returns the controller's bus number.
func (c *Controller) BusNum() uint32 { return c.busNum }

// Register adds a device and assigns it the next device number. Numbers
// are never reused.
func (c *Controller) Register(desc *usb.Device, h usb.TransferHandler) (*Device, error) {
	if desc == nil {
		return nil, fmt.Errorf("vhci: register: nil descriptor tree: %w", errs.ErrInvalidArgument)
	}
	if _, _, dup := c.devices.Find(func(d *Device) bool { return d.Desc == desc }); dup {
		return nil, fmt.Errorf("vhci: register: device already registered: %w", errs.ErrInvalidArgument)
	}
	if c.lastDev >= 0xffff {
		return nil, fmt.Errorf("vhci: register: device numbers exhausted: %w", errs.ErrOutOfMemory)
	}

	pslots, err := slotAllocator(c.opts.MaxPendingURBs)
	if err != nil {
		return nil, err
	}
	pending, err := list.New[*usb.URB](pslots)
	if err != nil {
		return nil, err
	}

	devNum := c.lastDev + 1
	dev := &Device{
		Desc:    desc,
		Handler: h,
		BusNum:  c.busNum,
		DevNum:  devNum,
		Path:    fmt.Sprintf("/dev/bus/usb/%03d/%03d", c.busNum, devNum),
		BusID:   fmt.Sprintf("%d-%d", c.busNum, devNum),
		pending: pending,
	}
	if err := c.devices.Push(dev); err != nil {
		return nil, fmt.Errorf("vhci: register: %w", err)
	}
	c.lastDev = devNum

	c.log.WithDevice(dev.BusID).Info("device registered",
		"vendor", fmt.Sprintf("%04x", desc.VendorID),
		"product", fmt.Sprintf("%04x", desc.ProductID))
	return dev, nil
}

// Remove unregisters a device. Pending URBs complete with -ENODEV.
func (c *Controller) Remove(busID string) (*Device, error) {
	dev, ok := c.devices.RemoveFunc(func(d *Device) bool { return matchBusID(d.BusID, busID) })
	if !ok {
		return nil, fmt.Errorf("vhci: remove %q: %w", busID, errs.ErrNotFound)
	}

	for dev.pending.Len() > 0 {
		urb, _ := dev.pending.Remove(0)
		urb.Fail(usb.StatusNoDevice)
		complete(urb)
	}
	dev.owner = ""

	c.log.WithDevice(dev.BusID).Info("device removed")
	return dev, nil
}

// FindByBusID compares at most the wire bus id width.
func (c *Controller) FindByBusID(id string) *Device {
	dev, _, _ := c.devices.Find(func(d *Device) bool { return matchBusID(d.BusID, id) })
	return dev
}

// FindByBusDev looks a device up by its numeric address.
func (c *Controller) FindByBusDev(busNum, devNum uint32) *Device {
	dev, _, _ := c.devices.Find(func(d *Device) bool { return d.BusNum == busNum && d.DevNum == devNum })
	return dev
}

// Devices returns the registered devices in registration order.
func (c *Controller) Devices() []*Device {
	return c.devices.Values()
}

// Len returns the number of registered devices.
func (c *Controller) Len() int { return c.devices.Len() }

func matchBusID(a, b string) bool {
	const n = wire.BusIDSize
	if len(a) > n {
		a = a[:n]
	}
	if len(b) > n {
		b = b[:n]
	}
	return a == b
}

// Submit dispatches urb. Control requests on endpoint 0 and rejected URBs
// complete before Submit returns; others complete when the handler
// finishes them, here or on a later RunOnce.
func (c *Controller) Submit(dev *Device, urb *usb.URB) {
	urb.Status = usb.StatusOK
	urb.ActualLength = 0

	if urb.Pipe.Endpoint() == 0 && urb.Pipe.Type() == usb.TransferControl {
		c.control(dev, urb)
		complete(urb)
		return
	}

	ep := dev.Desc.Endpoint(urb.Pipe.Address())
	if ep == nil || ep.Attributes.TransferType() != urb.Pipe.Type() {
		c.log.WithDevice(dev.BusID).WithURB(urb.SeqNum, urb.Pipe.Endpoint()).
			Debug("no such endpoint", "pipe", urb.Pipe.String())
		urb.Fail(usb.StatusInvalid)
		complete(urb)
		return
	}

	if dev.Handler == nil {
		urb.Fail(usb.StatusNotSupported)
		complete(urb)
		return
	}

	if dev.Handler.HandleTransfer(urb) {
		complete(urb)
		return
	}

	if err := dev.pending.Push(urb); err != nil {
		if cc, ok := dev.Handler.(usb.Canceler); ok {
			cc.CancelTransfer(urb)
		}
		urb.Fail(usb.StatusNoMemory)
		complete(urb)
	}
}

// RunOnce offers every pending URB to its handler again and completes the
// ones that finish. It returns the number completed.
func (c *Controller) RunOnce() int {
	done := 0
	c.devices.Iterate(func(dev *Device, _ int) bool {
		if dev.Handler == nil {
			return false
		}
		dev.pending.Iterate(func(urb *usb.URB, i int) bool {
			if !dev.Handler.HandleTransfer(urb) {
				return false
			}
			dev.pending.Remove(i)
			complete(urb)
			done++
			return true
		})
		return false
	})
	return done
}

// Unlink drops the pending URB with sequence number seq. The URB is marked
// canceled and not completed; the caller owns it again.
func (c *Controller) Unlink(dev *Device, seq uint32) (*usb.URB, bool) {
	urb, ok := dev.pending.RemoveFunc(func(u *usb.URB) bool { return u.SeqNum == seq })
	if !ok {
		return nil, false
	}
	c.cancel(dev, urb)
	return urb, true
}

// Release detaches the importing session: every pending URB is canceled
// and returned, and the device goes back to the unconfigured state.
func (c *Controller) Release(dev *Device) []*usb.URB {
	var dropped []*usb.URB
	for dev.pending.Len() > 0 {
		urb, _ := dev.pending.Remove(0)
		c.cancel(dev, urb)
		dropped = append(dropped, urb)
	}
	dev.owner = ""
	dev.Desc.SetConfiguration(0)
	return dropped
}

func (c *Controller) cancel(dev *Device, urb *usb.URB) {
	urb.Canceled = true
	if cc, ok := dev.Handler.(usb.Canceler); ok {
		cc.CancelTransfer(urb)
	}
}

func complete(urb *usb.URB) {
	if urb.Complete != nil {
		urb.Complete(urb)
	}
}
