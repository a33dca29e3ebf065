// SPDX-License-Identifier: GPL-2.0-only

package usbip

import (
	"github.com/efficientgo/core/errors"
)

// ImportRequest asks the exporting host to attach busId to this
// connection. On success the connection moves to the URB phase and
// Submit may be used.
func (c *Connection) ImportRequest(busId string) (*Device, error) {
	conn := c.connection

	err := c.armDeadline()
	if err != nil {
		return nil, err
	}

	busIdBin := BusID(busId)
	err = Write(conn, ImportRequest{
		OpHeader: NewOpHeader(OpReqImport, OpStatusOk),
		BusID:    busIdBin,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to write import command")
	}

	// The device record only follows a successful status.
	hdr := OpHeader{}
	if err := Read(conn, &hdr); err != nil {
		return nil, errors.Wrap(err, "failed to read import response")
	}
	if hdr.Command != OpRepImport {
		return nil, errors.Newf("import command answered with %v", hdr.Command)
	}
	if hdr.Status != OpStatusOk {
		return nil, errors.Newf("import command returned status %d", hdr.Status)
	}

	rec := DeviceRecord{}
	if err := Read(conn, &rec); err != nil {
		return nil, errors.Wrap(err, "failed to read imported device")
	}

	if rec.BusID != busIdBin {
		return nil, errors.New("import command returned unexpected busId")
	}

	dev := deviceFromRecord(&rec)
	return &dev, nil
}
