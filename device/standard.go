// SPDX-License-Identifier: GPL-2.0-only

package device

import (
	"github.com/MatthiasValvekens/usbip-device-emulator/usb"
	"github.com/efficientgo/core/errors"
	"github.com/go-kit/log/level"
)

// errClassDescriptor defers a GET_DESCRIPTOR to the class handler.
var errClassDescriptor = errors.New("class-specific descriptor")

func acknowledge(*Dispatcher, ControlRequest) ([]byte, error) {
	return []byte{}, nil
}

func (d *Dispatcher) getStatus(req ControlRequest) ([]byte, error) {
	status := []byte{0x00, 0x00}
	if req.Setup.Recipient() != usb.RecipientDevice {
		return status, nil
	}
	attrs := d.model.ConfigurationDescriptor().Attributes
	if attrs&usb.ConfigAttrSelfPowered != 0 {
		status[0] |= 0x01
	}
	if attrs&usb.ConfigAttrRemoteWakeup != 0 {
		status[0] |= 0x02
	}
	return status, nil
}

func (d *Dispatcher) getConfiguration(ControlRequest) ([]byte, error) {
	return []byte{d.model.ConfigurationDescriptor().ConfigurationValue}, nil
}

func (d *Dispatcher) getInterface(req ControlRequest) ([]byte, error) {
	if _, ok := d.model.Interface(req.Setup.IndexLow()); !ok {
		return nil, errors.Wrapf(ErrStall, "no interface %d", req.Setup.IndexLow())
	}
	return []byte{0x00}, nil
}

func (d *Dispatcher) getDescriptor(req ControlRequest) ([]byte, error) {
	t := req.Setup.DescriptorType()
	if fn, ok := d.descriptors[t]; ok {
		return fn(d, req)
	}
	if req.Setup.Recipient() == usb.RecipientInterface {
		return nil, errClassDescriptor
	}
	_ = level.Debug(d.logger).Log("msg", "unknown descriptor type", "type", t)
	return nil, errors.Wrapf(ErrStall, "no %v descriptor", t)
}

func (d *Dispatcher) deviceDescriptor(ControlRequest) ([]byte, error) {
	return d.model.DeviceDescriptor().Bytes(), nil
}

// configurationDescriptor returns the bare header when exactly its size is
// asked for, and otherwise the whole tree fitted to wLength.
func (d *Dispatcher) configurationDescriptor(req ControlRequest) ([]byte, error) {
	if req.Setup.DescriptorIndex() != 0 {
		return nil, errors.Wrapf(ErrStall, "no configuration %d", req.Setup.DescriptorIndex())
	}
	if req.Setup.Length == usb.ConfigurationDescriptorSize {
		return d.model.ConfigurationDescriptor().Bytes(), nil
	}
	tree := d.model.ConfigurationTree()
	out := make([]byte, req.Setup.Length)
	copy(out, tree)
	return out, nil
}

func (d *Dispatcher) stringDescriptor(req ControlRequest) ([]byte, error) {
	idx := req.Setup.DescriptorIndex()
	blob, ok := d.model.StringDescriptor(idx)
	if !ok {
		return nil, errors.Wrapf(ErrStall, "no string %d", idx)
	}
	return blob, nil
}

func qualifierDescriptor(*Dispatcher, ControlRequest) ([]byte, error) {
	return make([]byte, usb.DeviceQualifierDescriptorSize), nil
}
