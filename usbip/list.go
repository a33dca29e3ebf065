// SPDX-License-Identifier: GPL-2.0-only

package usbip

import (
	"github.com/efficientgo/core/errors"
)

// maxInterfaces bounds the interface records accepted per device.
const maxInterfaces = 256

func (c *Connection) ListRequest() ([]Device, error) {
	var conn = c.connection

	err := c.armDeadline()
	if err != nil {
		return nil, err
	}

	err = Write(conn, NewOpHeader(OpReqDevlist, OpStatusOk))
	if err != nil {
		return nil, errors.Wrap(err, "failed to write devlist command")
	}

	hdr := DevlistReplyHeader{}
	err = Read(conn, &hdr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response to devlist command")
	}

	if hdr.Command != OpRepDevlist {
		return nil, errors.Newf("devlist command answered with %v", hdr.Command)
	}
	if hdr.Status != OpStatusOk {
		return nil, errors.Newf("devlist command returned status %d", hdr.Status)
	}

	devices := make([]Device, hdr.NumDevices)
	for devIx := 0; devIx < int(hdr.NumDevices); devIx++ {
		dev := DeviceRecord{}
		err = Read(conn, &dev)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read devices in devlist response")
		}
		if int(dev.NumInterfaces) > maxInterfaces {
			return nil, errors.New("unexpected number of interfaces in devlist response")
		}
		ifaces := make([]InterfaceRecord, dev.NumInterfaces)
		for i := range ifaces {
			if err := Read(conn, &ifaces[i]); err != nil {
				return nil, errors.Wrap(err, "devlist entry ended early")
			}
		}
		devices[devIx] = deviceFromRecord(&dev)
		devices[devIx].Interfaces = ifaces
	}

	return devices, nil
}

func deviceFromRecord(rec *DeviceRecord) Device {
	return Device{
		Vendor:  USBID(rec.Vendor),
		Product: USBID(rec.Product),
		BusId:   rec.BusIDString(),
		Path:    rec.PathString(),
		Speed:   rec.Speed,
	}
}
