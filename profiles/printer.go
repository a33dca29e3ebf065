// SPDX-License-Identifier: GPL-2.0-only

package profiles

import (
	"github.com/MatthiasValvekens/usbip-device-emulator/class/printer"
	"github.com/MatthiasValvekens/usbip-device-emulator/device"
	"github.com/MatthiasValvekens/usbip-device-emulator/usb"
)

// DefaultPrinterDeviceID advertises a PDF printer.
const DefaultPrinterDeviceID = "MFG:DV3;CMD:PDF;MDL:VTL;"

func buildPrinter(opts Options) (*device.Profile, error) {
	id := DefaultPrinterDeviceID
	if opts.Overrides.DeviceID != "" {
		id = opts.Overrides.DeviceID
	}
	class, err := printer.New(id, opts.Spool, opts.Logger)
	if err != nil {
		return nil, err
	}

	dev := usb.DeviceDescriptor{
		USBVersion:        0x0110,
		MaxPacketSize0:    8,
		VendorID:          0x04a9,
		ProductID:         0x27e8,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		SerialNumberIndex: 3,
		NumConfigurations: 1,
	}
	strs := map[uint8]string{
		1: "DavieV",
		2: "Virtual USB Printer",
		3: "0001",
	}
	opts.Overrides.apply(&dev, strs)

	model, err := newModel(usb.ModelConfig{
		Device: dev,
		Configuration: usb.ConfigurationDescriptor{
			NumInterfaces:      1,
			ConfigurationValue: 1,
			Attributes:         usb.ConfigAttrReserved,
		},
		Interfaces: []usb.InterfaceDescriptor{{
			NumEndpoints:      2,
			InterfaceClass:    usb.ClassPrinter,
			InterfaceSubClass: printer.SubClassPrinter,
			InterfaceProtocol: printer.ProtocolBidirectional,
		}},
		Endpoints: []usb.EndpointDescriptor{
			{Address: 0x01, Attributes: usb.TransferTypeBulk, MaxPacketSize: 64},
			{Address: 0x81, Attributes: usb.TransferTypeBulk, MaxPacketSize: 64},
		},
	}, strs)
	if err != nil {
		return nil, err
	}
	return device.NewProfile(model, class, opts.Identity)
}
