// SPDX-License-Identifier: GPL-2.0-only

package profiles

import (
	"sync/atomic"

	"github.com/MatthiasValvekens/usbip-device-emulator/class/hid"
	"github.com/MatthiasValvekens/usbip-device-emulator/device"
	"github.com/MatthiasValvekens/usbip-device-emulator/usb"
)

const testVendor = 0x2706

type hidFunction struct {
	productID  uint16
	product    string
	protocol   uint8
	reportSize uint16
	descriptor []byte
	generator  func(seed uint64) hid.Generator
}

func buildKeyboard(opts Options) (*device.Profile, error) {
	return buildHID(opts, hidFunction{
		productID:  0x0100,
		product:    "Virtual USB Keyboard",
		protocol:   hid.InterfaceProtocolKeyboard,
		reportSize: 8,
		descriptor: hid.KeyboardReportDescriptor,
		generator:  func(seed uint64) hid.Generator { return hid.NewKeyboard(seed) },
	})
}

func buildMouse(opts Options) (*device.Profile, error) {
	return buildHID(opts, hidFunction{
		productID:  0x0101,
		product:    "Virtual USB Mouse",
		protocol:   hid.InterfaceProtocolMouse,
		reportSize: 4,
		descriptor: hid.MouseReportDescriptor,
		generator:  func(seed uint64) hid.Generator { return hid.NewMouse(seed) },
	})
}

func buildHID(opts Options, fn hidFunction) (*device.Profile, error) {
	// Each session gets its own generator; offset the seed so concurrent
	// sessions do not replay each other.
	var seed atomic.Uint64
	seed.Store(opts.Seed)
	class, err := hid.New(hid.Config{
		ReportDescriptor: fn.descriptor,
		HIDVersion:       0x0111,
		Interval:         opts.ReportInterval,
		Limit:            opts.ReportLimit,
		NewGenerator: func() hid.Generator {
			return fn.generator(seed.Add(1))
		},
	}, opts.Logger)
	if err != nil {
		return nil, err
	}

	dev := usb.DeviceDescriptor{
		USBVersion:        0x0110,
		MaxPacketSize0:    8,
		VendorID:          testVendor,
		ProductID:         fn.productID,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		SerialNumberIndex: 3,
		NumConfigurations: 1,
	}
	strs := map[uint8]string{
		1: "Test",
		2: fn.product,
		3: "0001",
	}
	opts.Overrides.apply(&dev, strs)

	model, err := newModel(usb.ModelConfig{
		Device: dev,
		Configuration: usb.ConfigurationDescriptor{
			NumInterfaces:      1,
			ConfigurationValue: 1,
			Attributes:         usb.ConfigAttrReserved,
			MaxPower:           50,
		},
		Interfaces: []usb.InterfaceDescriptor{{
			NumEndpoints:      1,
			InterfaceClass:    usb.ClassHID,
			InterfaceSubClass: hid.SubClassBoot,
			InterfaceProtocol: fn.protocol,
			ClassSpecific:     class.Descriptor().Bytes(),
		}},
		Endpoints: []usb.EndpointDescriptor{{
			Address:       0x81,
			Attributes:    usb.TransferTypeInterrupt,
			MaxPacketSize: fn.reportSize,
			Interval:      10,
		}},
	}, strs)
	if err != nil {
		return nil, err
	}
	return device.NewProfile(model, class, opts.Identity)
}
