// SPDX-License-Identifier: GPL-2.0-only

package usb

import (
	"bytes"
	"math"

	"github.com/efficientgo/core/errors"
)

var ErrInvalidModel = errors.New("invalid device model")

// ModelConfig is the input to NewModel.
type ModelConfig struct {
	Device        DeviceDescriptor
	Configuration ConfigurationDescriptor
	// Interfaces in configuration order. The first NumInterfaces entries
	// are exported.
	Interfaces []InterfaceDescriptor
	// Endpoints are consumed in order, NumEndpoints per interface.
	Endpoints []EndpointDescriptor
	Strings   StringTable
}

// Model is the validated, immutable descriptor set of one device. All
// accessors return copies, so a Model may be shared freely.
type Model struct {
	device        DeviceDescriptor
	configuration ConfigurationDescriptor
	interfaces    []InterfaceDescriptor
	// endpoints[i] are the endpoints of interfaces[i].
	endpoints [][]EndpointDescriptor
	strings   StringTable
	tree      []byte
}

// descriptorRecord is anything that serializes into the configuration tree.
type descriptorRecord interface {
	Bytes() []byte
}

type rawRecord []byte

func (r rawRecord) Bytes() []byte { return r }

// NewModel validates cfg and precomputes the configuration tree.
// A zero Configuration.TotalLength is filled in; a non-zero one must
// match the tree.
func NewModel(cfg ModelConfig) (*Model, error) {
	if cfg.Device.NumConfigurations != 1 {
		return nil, errors.Wrapf(ErrInvalidModel, "%d configurations declared, exactly one is supported", cfg.Device.NumConfigurations)
	}
	if cfg.Configuration.NumInterfaces == 0 {
		return nil, errors.Wrap(ErrInvalidModel, "configuration declares no interfaces")
	}
	if len(cfg.Interfaces) < int(cfg.Configuration.NumInterfaces) {
		return nil, errors.Wrapf(ErrInvalidModel, "configuration declares %d interfaces, %d given",
			cfg.Configuration.NumInterfaces, len(cfg.Interfaces))
	}
	if err := cfg.Strings.validate(); err != nil {
		return nil, errors.Wrap(ErrInvalidModel, err.Error())
	}
	for _, idx := range []uint8{cfg.Device.ManufacturerIndex, cfg.Device.ProductIndex, cfg.Device.SerialNumberIndex} {
		if _, ok := cfg.Strings.blobs[idx]; idx != 0 && !ok {
			return nil, errors.Wrapf(ErrInvalidModel, "string %d referenced by the device descriptor is missing", idx)
		}
	}

	m := &Model{
		device:        cfg.Device,
		configuration: cfg.Configuration,
		interfaces:    make([]InterfaceDescriptor, cfg.Configuration.NumInterfaces),
		endpoints:     make([][]EndpointDescriptor, cfg.Configuration.NumInterfaces),
		strings:       cfg.Strings,
	}

	remaining := cfg.Endpoints
	for i := range m.interfaces {
		iface := cfg.Interfaces[i]
		n := int(iface.NumEndpoints)
		if n > len(remaining) {
			return nil, errors.Wrapf(ErrInvalidModel, "interface %d declares %d endpoints, only %d left",
				iface.InterfaceNumber, n, len(remaining))
		}
		eps := append([]EndpointDescriptor(nil), remaining[:n]...)
		remaining = remaining[n:]
		for _, ep := range eps {
			if ep.Number() == 0 {
				return nil, errors.Wrapf(ErrInvalidModel, "interface %d uses endpoint number 0", iface.InterfaceNumber)
			}
			if ep.TransferType() == TransferTypeIsochronous {
				return nil, errors.Wrapf(ErrInvalidModel, "endpoint %#02x is isochronous", ep.Address)
			}
		}
		iface.ClassSpecific = append([]byte(nil), iface.ClassSpecific...)
		m.interfaces[i] = iface
		m.endpoints[i] = eps
	}

	size := ConfigurationDescriptorSize
	for i, iface := range m.interfaces {
		size += InterfaceDescriptorSize + len(iface.ClassSpecific) + EndpointDescriptorSize*len(m.endpoints[i])
	}
	if size > math.MaxUint16 {
		return nil, errors.Wrapf(ErrInvalidModel, "configuration tree is %d bytes long", size)
	}
	switch m.configuration.TotalLength {
	case 0:
		m.configuration.TotalLength = uint16(size)
	case uint16(size):
	default:
		return nil, errors.Wrapf(ErrInvalidModel, "configuration total length %d, tree is %d bytes",
			m.configuration.TotalLength, size)
	}
	m.tree = serialize(m.records())
	return m, nil
}

func (m *Model) records() []descriptorRecord {
	recs := []descriptorRecord{m.configuration}
	for i, iface := range m.interfaces {
		recs = append(recs, iface)
		if len(iface.ClassSpecific) > 0 {
			recs = append(recs, rawRecord(iface.ClassSpecific))
		}
		for _, ep := range m.endpoints[i] {
			recs = append(recs, ep)
		}
	}
	return recs
}

func serialize(recs []descriptorRecord) []byte {
	var buf bytes.Buffer
	for _, r := range recs {
		buf.Write(r.Bytes())
	}
	return buf.Bytes()
}

// DeviceDescriptor returns the device descriptor.
func (m *Model) DeviceDescriptor() DeviceDescriptor {
	return m.device
}

// ConfigurationDescriptor returns the configuration header, with its
// total length filled in.
func (m *Model) ConfigurationDescriptor() ConfigurationDescriptor {
	return m.configuration
}

// ConfigurationTree returns the configuration descriptor followed by every
// interface, its class descriptors and its endpoints.
func (m *Model) ConfigurationTree() []byte {
	return append([]byte(nil), m.tree...)
}

// Interfaces returns the exported interfaces.
func (m *Model) Interfaces() []InterfaceDescriptor {
	out := make([]InterfaceDescriptor, len(m.interfaces))
	for i, iface := range m.interfaces {
		iface.ClassSpecific = append([]byte(nil), iface.ClassSpecific...)
		out[i] = iface
	}
	return out
}

// Endpoints returns every endpoint in configuration order.
func (m *Model) Endpoints() []EndpointDescriptor {
	var out []EndpointDescriptor
	for _, eps := range m.endpoints {
		out = append(out, eps...)
	}
	return out
}

// InterfaceEndpoints returns the endpoints of the i-th interface.
func (m *Model) InterfaceEndpoints(i int) []EndpointDescriptor {
	if i < 0 || i >= len(m.endpoints) {
		return nil
	}
	return append([]EndpointDescriptor(nil), m.endpoints[i]...)
}

// Interface looks up an interface by its bInterfaceNumber.
func (m *Model) Interface(number uint8) (InterfaceDescriptor, bool) {
	for _, iface := range m.interfaces {
		if iface.InterfaceNumber == number {
			iface.ClassSpecific = append([]byte(nil), iface.ClassSpecific...)
			return iface, true
		}
	}
	return InterfaceDescriptor{}, false
}

// Endpoint looks up an endpoint by number and direction.
func (m *Model) Endpoint(number uint8, in bool) (EndpointDescriptor, bool) {
	for _, ep := range m.Endpoints() {
		if ep.Number() == number && ep.IsIn() == in {
			return ep, true
		}
	}
	return EndpointDescriptor{}, false
}

// StringDescriptor returns the string descriptor at index.
func (m *Model) StringDescriptor(index uint8) ([]byte, bool) {
	return m.strings.Descriptor(index)
}
