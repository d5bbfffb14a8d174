package vhci

import (
	"errors"

	"github.com/ehrlich-b/go-usbip/internal/errs"
	"github.com/ehrlich-b/go-usbip/usb"
)

// control answers a request on the default control pipe.
func (c *Controller) control(dev *Device, urb *usb.URB) {
	setup := urb.SetupPacket()
	log := c.log.WithDevice(dev.BusID).WithURB(urb.SeqNum, 0)

	if setup.Kind() != usb.RequestKindStandard {
		if ch, ok := dev.Handler.(usb.ControlHandler); ok && ch.HandleControl(urb) {
			return
		}
		log.Debug("unhandled class/vendor request", "request", setup.Request, "type", setup.RequestType)
		urb.Fail(usb.StatusNotSupported)
		return
	}

	buf := urb.Buffer
	switch setup.Request {
	case usb.RequestGetStatus:
		if len(buf) < 2 {
			urb.Fail(usb.StatusInvalid)
			return
		}
		buf[0], buf[1] = 0, 0
		urb.ActualLength = 2

	case usb.RequestClearFeature, usb.RequestSetFeature:
		// accepted without effect

	case usb.RequestGetDescriptor:
		c.getDescriptor(dev, urb, setup)

	case usb.RequestGetConfiguration:
		if len(buf) < 1 {
			urb.Fail(usb.StatusInvalid)
			return
		}
		buf[0] = dev.Desc.ConfigurationValue()
		urb.ActualLength = 1

	case usb.RequestSetConfiguration:
		value := uint8(setup.Value)
		if err := dev.Desc.SetConfiguration(value); err != nil {
			log.Debug("set configuration rejected", "value", value)
			urb.Fail(usb.StatusInvalid)
			return
		}
		log.Debug("configuration selected", "value", value)

	case usb.RequestGetInterface:
		g := activeGroup(dev, uint8(setup.Index))
		if g == nil || len(buf) < 1 {
			urb.Fail(usb.StatusInvalid)
			return
		}
		buf[0] = g.AlternateSetting()
		urb.ActualLength = 1

	case usb.RequestSetInterface:
		g := activeGroup(dev, uint8(setup.Index))
		if g == nil || g.SetAlternate(uint8(setup.Value)) != nil {
			urb.Fail(usb.StatusInvalid)
			return
		}

	default:
		log.Debug("unsupported standard request", "request", setup.Request)
		urb.Fail(usb.StatusNotSupported)
	}
}

func activeGroup(dev *Device, number uint8) *usb.InterfaceGroup {
	cfg := dev.Desc.ActiveConfig()
	if cfg == nil {
		return nil
	}
	return cfg.Group(number)
}

func (c *Controller) getDescriptor(dev *Device, urb *usb.URB, setup usb.SetupPacket) {
	buf := urb.Buffer
	index := setup.DescriptorIndex()

	switch setup.DescriptorType() {
	case usb.DescriptorTypeDevice:
		var desc [usb.DeviceDescriptorSize]byte
		dev.Desc.MarshalTo(desc[:])
		urb.ActualLength = copy(buf, desc[:])

	case usb.DescriptorTypeConfiguration:
		// the index is positional, not bConfigurationValue
		if int(index) >= len(dev.Desc.Configurations) {
			urb.Fail(usb.StatusInvalid)
			return
		}
		cfg := dev.Desc.Configurations[index]

		// hosts read the header first to learn wTotalLength
		if len(buf) == usb.ConfigurationDescriptorSize {
			urb.ActualLength = cfg.MarshalHeader(buf)
			return
		}
		n, err := cfg.MarshalTree(buf)
		urb.ActualLength = n
		if err != nil {
			urb.Status = usb.StatusNoMemory
		}

	case usb.DescriptorTypeString:
		n, err := dev.Desc.MarshalString(index, buf)
		switch {
		case errors.Is(err, errs.ErrNotFound):
			urb.Fail(usb.StatusInvalid)
		case err != nil:
			urb.Fail(usb.StatusNoMemory)
		default:
			urb.ActualLength = n
		}

	default:
		urb.Fail(usb.StatusNotSupported)
	}
}
