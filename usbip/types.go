// SPDX-License-Identifier: GPL-2.0-only

package usbip

import (
	"net"
	"time"
)

// USBID is a representation of a platform or vendor ID under the USB standard (see gousb.ID)
type USBID uint16

type Target struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type Connection struct {
	Target     Target
	connection net.Conn
	seqNum     uint32
	timeout    time.Duration
}

type Device struct {
	// Vendor is the USB Vendor ID of the device.
	Vendor USBID `json:"vendor"`
	// Product is the USB Product ID of the device.
	Product USBID `json:"product"`
	// BusId describes USB Bus ID of the device.
	BusId string `json:"bus_id"`
	// Path is the sysfs path reported by the exporting host.
	Path string `json:"path"`
	// Speed is the USB speed reported by the exporting host.
	Speed Speed `json:"speed"`
	// Interfaces holds the class triple of every interface.
	Interfaces []InterfaceRecord `json:"-"`
}

// ControlRequest is a control transfer issued through Connection.Submit.
type ControlRequest struct {
	Setup Setup
	// Length is the transfer buffer size for IN requests.
	Length uint32
	// Data is sent in the OUT data stage.
	Data []byte
}

// ControlResult is the decoded RET_SUBMIT for a ControlRequest.
type ControlResult struct {
	Status int32
	Data   []byte
}
