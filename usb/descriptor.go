// SPDX-License-Identifier: GPL-2.0-only

package usb

import (
	"encoding/binary"

	"github.com/efficientgo/core/errors"
)

var ErrDescriptorTooShort = errors.New("descriptor too short")

// DeviceDescriptor is the standard device descriptor. bLength and
// bDescriptorType are implied.
type DeviceDescriptor struct {
	USBVersion        uint16 `json:"bcd_usb"`
	DeviceClass       uint8  `json:"class"`
	DeviceSubClass    uint8  `json:"subclass"`
	DeviceProtocol    uint8  `json:"protocol"`
	MaxPacketSize0    uint8  `json:"max_packet_size"`
	VendorID          uint16 `json:"vendor"`
	ProductID         uint16 `json:"product"`
	DeviceVersion     uint16 `json:"bcd_device"`
	ManufacturerIndex uint8  `json:"manufacturer_index"`
	ProductIndex      uint8  `json:"product_index"`
	SerialNumberIndex uint8  `json:"serial_index"`
	NumConfigurations uint8  `json:"num_configurations"`
}

// Bytes returns the 18-byte wire form.
func (d DeviceDescriptor) Bytes() []byte {
	b := make([]byte, DeviceDescriptorSize)
	b[0] = DeviceDescriptorSize
	b[1] = byte(DescriptorTypeDevice)
	binary.LittleEndian.PutUint16(b[2:4], d.USBVersion)
	b[4] = d.DeviceClass
	b[5] = d.DeviceSubClass
	b[6] = d.DeviceProtocol
	b[7] = d.MaxPacketSize0
	binary.LittleEndian.PutUint16(b[8:10], d.VendorID)
	binary.LittleEndian.PutUint16(b[10:12], d.ProductID)
	binary.LittleEndian.PutUint16(b[12:14], d.DeviceVersion)
	b[14] = d.ManufacturerIndex
	b[15] = d.ProductIndex
	b[16] = d.SerialNumberIndex
	b[17] = d.NumConfigurations
	return b
}

// ParseDeviceDescriptor decodes a device descriptor.
func ParseDeviceDescriptor(b []byte) (DeviceDescriptor, error) {
	if len(b) < DeviceDescriptorSize {
		return DeviceDescriptor{}, ErrDescriptorTooShort
	}
	if DescriptorType(b[1]) != DescriptorTypeDevice {
		return DeviceDescriptor{}, errors.Newf("not a device descriptor: type %v", DescriptorType(b[1]))
	}
	return DeviceDescriptor{
		USBVersion:        binary.LittleEndian.Uint16(b[2:4]),
		DeviceClass:       b[4],
		DeviceSubClass:    b[5],
		DeviceProtocol:    b[6],
		MaxPacketSize0:    b[7],
		VendorID:          binary.LittleEndian.Uint16(b[8:10]),
		ProductID:         binary.LittleEndian.Uint16(b[10:12]),
		DeviceVersion:     binary.LittleEndian.Uint16(b[12:14]),
		ManufacturerIndex: b[14],
		ProductIndex:      b[15],
		SerialNumberIndex: b[16],
		NumConfigurations: b[17],
	}, nil
}

// ConfigurationDescriptor is the 9-byte configuration header.
type ConfigurationDescriptor struct {
	TotalLength        uint16 `json:"total_length"`
	NumInterfaces      uint8  `json:"num_interfaces"`
	ConfigurationValue uint8  `json:"value"`
	ConfigurationIndex uint8  `json:"index"`
	Attributes         uint8  `json:"attributes"`
	MaxPower           uint8  `json:"max_power"`
}

// Bytes returns the 9-byte wire form.
func (c ConfigurationDescriptor) Bytes() []byte {
	b := make([]byte, ConfigurationDescriptorSize)
	b[0] = ConfigurationDescriptorSize
	b[1] = byte(DescriptorTypeConfiguration)
	binary.LittleEndian.PutUint16(b[2:4], c.TotalLength)
	b[4] = c.NumInterfaces
	b[5] = c.ConfigurationValue
	b[6] = c.ConfigurationIndex
	b[7] = c.Attributes
	b[8] = c.MaxPower
	return b
}

// ParseConfigurationDescriptor decodes the header of a configuration tree.
func ParseConfigurationDescriptor(b []byte) (ConfigurationDescriptor, error) {
	if len(b) < ConfigurationDescriptorSize {
		return ConfigurationDescriptor{}, ErrDescriptorTooShort
	}
	if DescriptorType(b[1]) != DescriptorTypeConfiguration {
		return ConfigurationDescriptor{}, errors.Newf("not a configuration descriptor: type %v", DescriptorType(b[1]))
	}
	return ConfigurationDescriptor{
		TotalLength:        binary.LittleEndian.Uint16(b[2:4]),
		NumInterfaces:      b[4],
		ConfigurationValue: b[5],
		ConfigurationIndex: b[6],
		Attributes:         b[7],
		MaxPower:           b[8],
	}, nil
}

// InterfaceDescriptor is one interface of the configuration.
type InterfaceDescriptor struct {
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8

	// ClassSpecific holds class descriptors (such as the HID descriptor)
	// emitted between this interface and its endpoints.
	ClassSpecific []byte
}

// Bytes returns the 9-byte interface descriptor, without ClassSpecific.
func (i InterfaceDescriptor) Bytes() []byte {
	return []byte{
		InterfaceDescriptorSize,
		byte(DescriptorTypeInterface),
		i.InterfaceNumber,
		i.AlternateSetting,
		i.NumEndpoints,
		i.InterfaceClass,
		i.InterfaceSubClass,
		i.InterfaceProtocol,
		i.InterfaceIndex,
	}
}

// EndpointDescriptor is one endpoint of an interface.
type EndpointDescriptor struct {
	Address       uint8
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8
}

// Bytes returns the 7-byte wire form.
func (e EndpointDescriptor) Bytes() []byte {
	b := make([]byte, EndpointDescriptorSize)
	b[0] = EndpointDescriptorSize
	b[1] = byte(DescriptorTypeEndpoint)
	b[2] = e.Address
	b[3] = e.Attributes
	binary.LittleEndian.PutUint16(b[4:6], e.MaxPacketSize)
	b[6] = e.Interval
	return b
}

// Number returns the endpoint number without the direction bit.
func (e EndpointDescriptor) Number() uint8 {
	return e.Address &^ EndpointDirectionIn
}

// IsIn reports a device-to-host endpoint.
func (e EndpointDescriptor) IsIn() bool {
	return e.Address&EndpointDirectionIn != 0
}

// TransferType returns bits 0-1 of bmAttributes.
func (e EndpointDescriptor) TransferType() uint8 {
	return e.Attributes & 0x03
}

// ParseTreeEndpoints walks a configuration tree and returns its endpoint
// descriptors in tree order.
func ParseTreeEndpoints(tree []byte) ([]EndpointDescriptor, error) {
	var eps []EndpointDescriptor
	for off := 0; off < len(tree); {
		if len(tree)-off < 2 {
			return nil, errors.Wrapf(ErrDescriptorTooShort, "at offset %d", off)
		}
		n := int(tree[off])
		if n < 2 || off+n > len(tree) {
			return nil, errors.Newf("descriptor at offset %d has bad length %d", off, n)
		}
		if DescriptorType(tree[off+1]) == DescriptorTypeEndpoint {
			if n < EndpointDescriptorSize {
				return nil, errors.Wrapf(ErrDescriptorTooShort, "endpoint at offset %d", off)
			}
			eps = append(eps, EndpointDescriptor{
				Address:       tree[off+2],
				Attributes:    tree[off+3],
				MaxPacketSize: binary.LittleEndian.Uint16(tree[off+4 : off+6]),
				Interval:      tree[off+6],
			})
		}
		off += n
	}
	return eps, nil
}

// HIDDescriptor is the HID class descriptor announcing one report
// descriptor.
type HIDDescriptor struct {
	HIDVersion             uint16
	CountryCode            uint8
	ReportDescriptorLength uint16
}

// Bytes returns the 9-byte wire form.
func (h HIDDescriptor) Bytes() []byte {
	b := make([]byte, HIDDescriptorSize)
	b[0] = HIDDescriptorSize
	b[1] = byte(DescriptorTypeHID)
	binary.LittleEndian.PutUint16(b[2:4], h.HIDVersion)
	b[4] = h.CountryCode
	b[5] = 1
	b[6] = byte(DescriptorTypeHIDReport)
	binary.LittleEndian.PutUint16(b[7:9], h.ReportDescriptorLength)
	return b
}
