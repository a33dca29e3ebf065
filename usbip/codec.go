// SPDX-License-Identifier: GPL-2.0-only

package usbip

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/efficientgo/core/errors"
)

var (
	// ErrTruncated is returned when a message is decoded from fewer bytes
	// than its fixed wire size.
	ErrTruncated = errors.New("truncated usbip message")
	// ErrUnknownCommand is returned for op codes or URB commands that the
	// protocol does not define.
	ErrUnknownCommand = errors.New("unknown usbip command")
)

const (
	busIDSize = 32
	pathSize  = 256
)

// OpHeader starts every message of the connection setup phase.
type OpHeader struct {
	Version uint16
	Command OpCode
	Status  OpStatus
}

// DevlistReplyHeader is OP_REP_DEVLIST without its device records.
type DevlistReplyHeader struct {
	OpHeader
	NumDevices uint32
}

// DeviceRecord describes one exported device (OP_REP_DEVICE).
type DeviceRecord struct {
	Path               [pathSize]byte
	BusID              [busIDSize]byte
	BusNum             uint32
	DevNum             uint32
	Speed              Speed
	Vendor             uint16
	Product            uint16
	BcdDevice          uint16
	DeviceClass        uint8
	DeviceSubClass     uint8
	DeviceProtocol     uint8
	ConfigurationValue uint8
	NumConfigurations  uint8
	NumInterfaces      uint8
}

// BusIDString returns the bus id without its NUL padding.
func (d *DeviceRecord) BusIDString() string {
	return cString(d.BusID[:])
}

// PathString returns the sysfs path without its NUL padding.
func (d *DeviceRecord) PathString() string {
	return cString(d.Path[:])
}

// InterfaceRecord follows a DeviceRecord once per interface in a
// devlist reply.
type InterfaceRecord struct {
	Class    uint8
	SubClass uint8
	Protocol uint8
	_        uint8
}

// ImportRequest is OP_REQ_IMPORT.
type ImportRequest struct {
	OpHeader
	BusID [busIDSize]byte
}

func (r *ImportRequest) BusIDString() string {
	return cString(r.BusID[:])
}

// ImportReply is OP_REP_IMPORT for a successful import.
type ImportReply struct {
	OpHeader
	Device DeviceRecord
}

// URBHeader starts every message of the URB phase.
type URBHeader struct {
	Command   Command
	SeqNum    uint32
	DevID     uint32
	Direction Direction
	Endpoint  uint32
}

// CmdSubmitMessage is USBIP_CMD_SUBMIT. For OUT transfers it is followed
// by TransferBufferLength bytes of data.
type CmdSubmitMessage struct {
	URBHeader
	TransferFlags        uint32
	TransferBufferLength uint32
	StartFrame           int32
	NumberOfPackets      int32
	Interval             int32
	Setup                Setup
}

// RetSubmitMessage is USBIP_RET_SUBMIT. For IN transfers it is followed
// by ActualLength bytes of data.
type RetSubmitMessage struct {
	URBHeader
	Status          int32
	ActualLength    uint32
	StartFrame      int32
	NumberOfPackets int32
	ErrorCount      int32
	Setup           Setup
}

// CmdUnlinkMessage is USBIP_CMD_UNLINK. It has the same wire size as
// CmdSubmitMessage.
type CmdUnlinkMessage struct {
	URBHeader
	UnlinkSeqNum uint32
	_            [24]byte
}

// RetUnlinkMessage is USBIP_RET_UNLINK.
type RetUnlinkMessage struct {
	URBHeader
	Status int32
	_      [24]byte
}

// Size returns the wire size of a fixed-size message.
func Size(m any) int {
	return binary.Size(m)
}

// Write encodes m onto w in network byte order.
func Write(w io.Writer, m any) error {
	return binary.Write(w, binary.BigEndian, m)
}

// Read decodes one message of m's type from r. A stream ending inside the
// message yields ErrTruncated; a stream ending before it yields io.EOF.
func Read(r io.Reader, m any) error {
	err := binary.Read(r, binary.BigEndian, m)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.Wrapf(ErrTruncated, "reading %T", m)
	}
	return err
}

// Marshal returns the wire encoding of m.
func Marshal(m any) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(Size(m))
	if err := Write(&buf, m); err != nil {
		return nil, errors.Wrapf(err, "encoding %T", m)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes the leading bytes of b into m.
func Unmarshal(b []byte, m any) error {
	need := Size(m)
	if need < 0 {
		return errors.Newf("%T is not a fixed-size message", m)
	}
	if len(b) < need {
		return errors.Wrapf(ErrTruncated, "%T needs %d bytes, got %d", m, need, len(b))
	}
	return binary.Read(bytes.NewReader(b[:need]), binary.BigEndian, m)
}

// NewOpHeader returns a header for command with the current protocol version.
func NewOpHeader(command OpCode, status OpStatus) OpHeader {
	return OpHeader{Version: ProtocolVersion, Command: command, Status: status}
}

// BusID converts a bus id into its fixed-size wire form.
func BusID(s string) [busIDSize]byte {
	var b [busIDSize]byte
	copy(b[:busIDSize-1], s)
	return b
}

// DevicePath converts a sysfs path into its fixed-size wire form.
func DevicePath(s string) [pathSize]byte {
	var b [pathSize]byte
	copy(b[:pathSize-1], s)
	return b
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
