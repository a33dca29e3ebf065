// SPDX-License-Identifier: GPL-2.0-only

package device

import (
	"github.com/MatthiasValvekens/usbip-device-emulator/usb"
	"github.com/MatthiasValvekens/usbip-device-emulator/usbip"
	"github.com/efficientgo/core/errors"
)

const (
	DefaultBusID  = "1-1"
	DefaultPath   = "/sys/devices/pci0000:00/0000:00:01.2/usb1/1-1"
	DefaultBusNum = 1
	DefaultDevNum = 2
)

// Identity is where the device appears on the exporting host.
type Identity struct {
	BusID  string      `json:"bus_id"`
	Path   string      `json:"path"`
	BusNum uint32      `json:"busnum"`
	DevNum uint32      `json:"devnum"`
	Speed  usbip.Speed `json:"speed"`
}

// DefaultIdentity is a full-speed device on bus 1, port 1.
func DefaultIdentity() Identity {
	return Identity{
		BusID:  DefaultBusID,
		Path:   DefaultPath,
		BusNum: DefaultBusNum,
		DevNum: DefaultDevNum,
		Speed:  usbip.SpeedFull,
	}
}

// Profile is the exported device: descriptors, class handler and
// identity. It is read-only once constructed and shared by all sessions.
type Profile struct {
	model    *usb.Model
	handler  Handler
	identity Identity
}

func NewProfile(model *usb.Model, handler Handler, id Identity) (*Profile, error) {
	if model == nil {
		return nil, errors.New("profile needs a device model")
	}
	if handler == nil {
		return nil, errors.New("profile needs a class handler")
	}
	if id.BusID == "" {
		return nil, errors.New("profile needs a bus id")
	}
	if len(id.BusID) >= 32 {
		return nil, errors.Newf("bus id %q is too long", id.BusID)
	}
	if len(id.Path) >= 256 {
		return nil, errors.Newf("device path %q is too long", id.Path)
	}
	return &Profile{model: model, handler: handler, identity: id}, nil
}

func (p *Profile) Model() *usb.Model {
	return p.model
}

func (p *Profile) Handler() Handler {
	return p.handler
}

func (p *Profile) Identity() Identity {
	return p.identity
}

// DeviceRecord describes the device as it appears in devlist and import
// replies.
func (p *Profile) DeviceRecord() usbip.DeviceRecord {
	dev := p.model.DeviceDescriptor()
	cfg := p.model.ConfigurationDescriptor()
	return usbip.DeviceRecord{
		Path:               usbip.DevicePath(p.identity.Path),
		BusID:              usbip.BusID(p.identity.BusID),
		BusNum:             p.identity.BusNum,
		DevNum:             p.identity.DevNum,
		Speed:              p.identity.Speed,
		Vendor:             dev.VendorID,
		Product:            dev.ProductID,
		BcdDevice:          dev.DeviceVersion,
		DeviceClass:        dev.DeviceClass,
		DeviceSubClass:     dev.DeviceSubClass,
		DeviceProtocol:     dev.DeviceProtocol,
		ConfigurationValue: cfg.ConfigurationValue,
		NumConfigurations:  dev.NumConfigurations,
		NumInterfaces:      cfg.NumInterfaces,
	}
}

// InterfaceRecords returns the class triple of every exported interface.
func (p *Profile) InterfaceRecords() []usbip.InterfaceRecord {
	ifaces := p.model.Interfaces()
	recs := make([]usbip.InterfaceRecord, len(ifaces))
	for i, iface := range ifaces {
		recs[i] = usbip.InterfaceRecord{
			Class:    iface.InterfaceClass,
			SubClass: iface.InterfaceSubClass,
			Protocol: iface.InterfaceProtocol,
		}
	}
	return recs
}
