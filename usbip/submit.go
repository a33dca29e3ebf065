// SPDX-License-Identifier: GPL-2.0-only

package usbip

import (
	"io"

	"github.com/efficientgo/core/errors"
)

// maxTransfer bounds the payload accepted in a single RET_SUBMIT.
const maxTransfer = 1 << 16

// Submit performs a control transfer on endpoint 0 of an imported device
// and waits for its RET_SUBMIT.
func (c *Connection) Submit(req ControlRequest) (*ControlResult, error) {
	dir := DirIn
	length := req.Length
	if req.Setup[0]&0x80 == 0 {
		dir = DirOut
		length = uint32(len(req.Data))
	}
	return c.transfer(0, dir, length, req.Setup, req.Data)
}

// Transfer performs a data transfer on a non-zero endpoint.
func (c *Connection) Transfer(ep uint32, dir Direction, length uint32, data []byte) (*ControlResult, error) {
	if dir == DirOut {
		length = uint32(len(data))
	}
	return c.transfer(ep, dir, length, Setup{}, data)
}

func (c *Connection) transfer(ep uint32, dir Direction, length uint32, setup Setup, data []byte) (*ControlResult, error) {
	conn := c.connection
	c.seqNum++
	seq := c.seqNum

	if err := c.armDeadline(); err != nil {
		return nil, err
	}

	cmd := CmdSubmitMessage{
		URBHeader: URBHeader{
			Command:   CmdSubmit,
			SeqNum:    seq,
			Direction: dir,
			Endpoint:  ep,
		},
		TransferBufferLength: length,
		Setup:                setup,
	}
	if err := Write(conn, cmd); err != nil {
		return nil, errors.Wrap(err, "failed to write submit command")
	}
	if dir == DirOut && len(data) > 0 {
		if _, err := conn.Write(data); err != nil {
			return nil, errors.Wrap(err, "failed to write submit data")
		}
	}

	ret := RetSubmitMessage{}
	if err := Read(conn, &ret); err != nil {
		return nil, errors.Wrap(err, "failed to read submit response")
	}
	if ret.Command != RetSubmit {
		return nil, errors.Newf("submit answered with %v", ret.Command)
	}
	if ret.SeqNum != seq {
		return nil, errors.Newf("submit answered seqnum %d, want %d", ret.SeqNum, seq)
	}

	res := &ControlResult{Status: ret.Status}
	if dir == DirIn && ret.ActualLength > 0 {
		if ret.ActualLength > maxTransfer {
			return nil, errors.Newf("submit response too large: %d bytes", ret.ActualLength)
		}
		res.Data = make([]byte, ret.ActualLength)
		if _, err := io.ReadFull(conn, res.Data); err != nil {
			return nil, errors.Wrap(err, "failed to read submit response data")
		}
	}
	return res, nil
}
