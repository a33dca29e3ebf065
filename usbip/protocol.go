// SPDX-License-Identifier: GPL-2.0-only

package usbip

import "fmt"

// ProtocolVersion is the USB/IP version carried in every op header.
const ProtocolVersion uint16 = 0x0111

// DefaultPort is the well-known USB/IP TCP port.
const DefaultPort = 3240

// OpCode identifies an operation in the connection setup phase.
type OpCode uint16

const (
	OpReqDevlist OpCode = 0x8005
	OpRepDevlist OpCode = 0x0005
	OpReqImport  OpCode = 0x8003
	OpRepImport  OpCode = 0x0003
)

var opCodeNames = map[OpCode]string{
	OpReqDevlist: "OP_REQ_DEVLIST",
	OpRepDevlist: "OP_REP_DEVLIST",
	OpReqImport:  "OP_REQ_IMPORT",
	OpRepImport:  "OP_REP_IMPORT",
}

func (c OpCode) String() string {
	if name, ok := opCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("OpCode(%#04x)", uint16(c))
}

// OpStatus is the status field of an op header.
type OpStatus int32

const (
	OpStatusOk OpStatus = iota
	OpStatusNA
	OpStatusDevBusy
	OpStatusDevErr
	OpStatusNoDev
	OpStatusError
)

// Command identifies a URB-phase message.
type Command uint32

const (
	CmdSubmit Command = 1
	CmdUnlink Command = 2
	RetSubmit Command = 3
	RetUnlink Command = 4
)

var commandNames = map[Command]string{
	CmdSubmit: "USBIP_CMD_SUBMIT",
	CmdUnlink: "USBIP_CMD_UNLINK",
	RetSubmit: "USBIP_RET_SUBMIT",
	RetUnlink: "USBIP_RET_UNLINK",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", uint32(c))
}

// Direction of a URB, seen from the host.
type Direction uint32

const (
	DirOut Direction = 0
	DirIn  Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirOut:
		return "out"
	case DirIn:
		return "in"
	}
	return fmt.Sprintf("Direction(%d)", uint32(d))
}

// Speed values as exported in a device record.
type Speed uint32

const (
	SpeedUnknown Speed = iota
	SpeedLow
	SpeedFull
	SpeedHigh
	SpeedWireless
	SpeedSuper
)

// Status values used in RET_SUBMIT/RET_UNLINK. The protocol carries
// negated Linux errno values.
const (
	StatusOK        int32 = 0
	StatusPipe      int32 = -32  // -EPIPE, endpoint stalled
	StatusConnReset int32 = -104 // -ECONNRESET, URB unlinked
)
