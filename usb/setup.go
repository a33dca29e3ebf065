// SPDX-License-Identifier: GPL-2.0-only

package usb

import (
	"encoding/binary"
	"fmt"

	"github.com/efficientgo/core/errors"
)

// SetupPacketSize is the size of a control SETUP packet.
const SetupPacketSize = 8

var ErrSetupPacketTooShort = errors.New("setup packet too short")

// RequestType is the request-type field, bits 5-6 of bmRequestType.
type RequestType uint8

const (
	RequestTypeStandard RequestType = 0
	RequestTypeClass    RequestType = 1
	RequestTypeVendor   RequestType = 2
	RequestTypeReserved RequestType = 3
)

func (t RequestType) String() string {
	switch t {
	case RequestTypeStandard:
		return "standard"
	case RequestTypeClass:
		return "class"
	case RequestTypeVendor:
		return "vendor"
	default:
		return "reserved"
	}
}

// Recipient is bits 0-4 of bmRequestType.
type Recipient uint8

const (
	RecipientDevice    Recipient = 0
	RecipientInterface Recipient = 1
	RecipientEndpoint  Recipient = 2
	RecipientOther     Recipient = 3
)

const (
	requestDirectionMask uint8 = 0x80
	requestTypeShift           = 5
	requestTypeMask      uint8 = 0x03
	requestRecipientMask uint8 = 0x1F

	// classInterfaceMask matches class requests addressed to an interface
	// (and anything sharing those two bits).
	classInterfaceMask uint8 = 0x21
)

// SetupPacket is a decoded control SETUP packet.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// ParseSetupPacket decodes a SETUP packet from its USB byte order.
func ParseSetupPacket(b []byte) (SetupPacket, error) {
	if len(b) < SetupPacketSize {
		return SetupPacket{}, ErrSetupPacketTooShort
	}
	return SetupPacket{
		RequestType: b[0],
		Request:     b[1],
		Value:       binary.LittleEndian.Uint16(b[2:4]),
		Index:       binary.LittleEndian.Uint16(b[4:6]),
		Length:      binary.LittleEndian.Uint16(b[6:8]),
	}, nil
}

// Bytes returns the SETUP packet in USB byte order.
func (s SetupPacket) Bytes() [SetupPacketSize]byte {
	var b [SetupPacketSize]byte
	b[0] = s.RequestType
	b[1] = s.Request
	binary.LittleEndian.PutUint16(b[2:4], s.Value)
	binary.LittleEndian.PutUint16(b[4:6], s.Index)
	binary.LittleEndian.PutUint16(b[6:8], s.Length)
	return b
}

// IsIn reports a device-to-host data stage.
func (s SetupPacket) IsIn() bool {
	return s.RequestType&requestDirectionMask != 0
}

// Type returns the request type classification.
func (s SetupPacket) Type() RequestType {
	return RequestType((s.RequestType >> requestTypeShift) & requestTypeMask)
}

// Recipient returns the request recipient.
func (s SetupPacket) Recipient() Recipient {
	return Recipient(s.RequestType & requestRecipientMask)
}

// IsClassInterface reports whether bmRequestType carries the class and
// interface bits used by HID-style class requests.
func (s SetupPacket) IsClassInterface() bool {
	return s.RequestType&classInterfaceMask == classInterfaceMask
}

// ValueLow is wValue0.
func (s SetupPacket) ValueLow() uint8 { return uint8(s.Value) }

// ValueHigh is wValue1.
func (s SetupPacket) ValueHigh() uint8 { return uint8(s.Value >> 8) }

// IndexLow is wIndex0, the interface number for interface requests.
func (s SetupPacket) IndexLow() uint8 { return uint8(s.Index) }

// DescriptorType returns the descriptor type of a GET_DESCRIPTOR request.
func (s SetupPacket) DescriptorType() DescriptorType {
	return DescriptorType(s.ValueHigh())
}

// DescriptorIndex returns the descriptor index of a GET_DESCRIPTOR request.
func (s SetupPacket) DescriptorIndex() uint8 {
	return s.ValueLow()
}

func (s SetupPacket) String() string {
	return fmt.Sprintf("bmRequestType=%#02x bRequest=%#02x wValue=%#04x wIndex=%#04x wLength=%d",
		s.RequestType, s.Request, s.Value, s.Index, s.Length)
}
