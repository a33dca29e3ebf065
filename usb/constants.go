// SPDX-License-Identifier: GPL-2.0-only

// Package usb models the descriptors and control requests of a single
// emulated USB device.
package usb

import "fmt"

// DescriptorType is the bDescriptorType byte of a descriptor.
type DescriptorType uint8

const (
	DescriptorTypeDevice          DescriptorType = 0x01
	DescriptorTypeConfiguration   DescriptorType = 0x02
	DescriptorTypeString          DescriptorType = 0x03
	DescriptorTypeInterface       DescriptorType = 0x04
	DescriptorTypeEndpoint        DescriptorType = 0x05
	DescriptorTypeDeviceQualifier DescriptorType = 0x06
	DescriptorTypeHID             DescriptorType = 0x21
	DescriptorTypeHIDReport       DescriptorType = 0x22
)

var descriptorTypeNames = map[DescriptorType]string{
	DescriptorTypeDevice:          "device",
	DescriptorTypeConfiguration:   "configuration",
	DescriptorTypeString:          "string",
	DescriptorTypeInterface:       "interface",
	DescriptorTypeEndpoint:        "endpoint",
	DescriptorTypeDeviceQualifier: "device qualifier",
	DescriptorTypeHID:             "hid",
	DescriptorTypeHIDReport:       "hid report",
}

func (t DescriptorType) String() string {
	if name, ok := descriptorTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("DescriptorType(%#02x)", uint8(t))
}

// Descriptor sizes.
const (
	DeviceDescriptorSize          = 18
	ConfigurationDescriptorSize   = 9
	InterfaceDescriptorSize       = 9
	EndpointDescriptorSize        = 7
	DeviceQualifierDescriptorSize = 10
	HIDDescriptorSize             = 9
)

// Standard request codes (bRequest).
const (
	RequestGetStatus        uint8 = 0x00
	RequestClearFeature     uint8 = 0x01
	RequestSetFeature       uint8 = 0x03
	RequestSetAddress       uint8 = 0x05
	RequestGetDescriptor    uint8 = 0x06
	RequestSetDescriptor    uint8 = 0x07
	RequestGetConfiguration uint8 = 0x08
	RequestSetConfiguration uint8 = 0x09
	RequestGetInterface     uint8 = 0x0A
	RequestSetInterface     uint8 = 0x0B
	RequestSynchFrame       uint8 = 0x0C
)

var standardRequestNames = map[uint8]string{
	RequestGetStatus:        "GET_STATUS",
	RequestClearFeature:     "CLEAR_FEATURE",
	RequestSetFeature:       "SET_FEATURE",
	RequestSetAddress:       "SET_ADDRESS",
	RequestGetDescriptor:    "GET_DESCRIPTOR",
	RequestSetDescriptor:    "SET_DESCRIPTOR",
	RequestGetConfiguration: "GET_CONFIGURATION",
	RequestSetConfiguration: "SET_CONFIGURATION",
	RequestGetInterface:     "GET_INTERFACE",
	RequestSetInterface:     "SET_INTERFACE",
	RequestSynchFrame:       "SYNCH_FRAME",
}

// StandardRequestName returns the name of a standard request code.
func StandardRequestName(code uint8) string {
	if name, ok := standardRequestNames[code]; ok {
		return name
	}
	return fmt.Sprintf("request(%#02x)", code)
}

// Class codes.
const (
	ClassPerInterface uint8 = 0x00
	ClassHID          uint8 = 0x03
	ClassPrinter      uint8 = 0x07
	ClassVendor       uint8 = 0xFF
)

// Endpoint transfer types (bmAttributes bits 0-1).
const (
	TransferTypeControl     uint8 = 0x00
	TransferTypeIsochronous uint8 = 0x01
	TransferTypeBulk        uint8 = 0x02
	TransferTypeInterrupt   uint8 = 0x03
)

// Configuration bmAttributes bits.
const (
	ConfigAttrReserved     uint8 = 0x80
	ConfigAttrSelfPowered  uint8 = 0x40
	ConfigAttrRemoteWakeup uint8 = 0x20
)

// EndpointDirectionIn is set in bEndpointAddress for IN endpoints.
const EndpointDirectionIn uint8 = 0x80

// LanguageEnglishUS is the LANGID for US English.
const LanguageEnglishUS uint16 = 0x0409
