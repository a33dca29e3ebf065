package profiles

import (
	"bytes"
	"testing"

	"github.com/MatthiasValvekens/usbip-device-emulator/device"
	"github.com/MatthiasValvekens/usbip-device-emulator/usb"
	"github.com/MatthiasValvekens/usbip-device-emulator/usbip"
	"github.com/efficientgo/core/testutil"
)

func TestBuiltinProfiles(t *testing.T) {
	testutil.Equals(t, []string{Keyboard, Mouse, Printer}, Names())

	for _, tc := range []struct {
		name     string
		product  uint16
		class    uint8
		protocol uint8
		total    uint16
	}{
		{name: Keyboard, product: 0x0100, class: usb.ClassHID, protocol: 1, total: 9 + 9 + 9 + 7},
		{name: Mouse, product: 0x0101, class: usb.ClassHID, protocol: 2, total: 9 + 9 + 9 + 7},
		{name: Printer, product: 0x27e8, class: usb.ClassPrinter, protocol: 2, total: 9 + 9 + 7 + 7},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Build(tc.name, Options{})
			testutil.Ok(t, err)

			testutil.Equals(t, device.DefaultIdentity(), p.Identity())
			testutil.Equals(t, tc.product, p.Model().DeviceDescriptor().ProductID)
			testutil.Equals(t, tc.total, p.Model().ConfigurationDescriptor().TotalLength)

			rec := p.DeviceRecord()
			testutil.Equals(t, "1-1", rec.BusIDString())
			testutil.Equals(t, usbip.SpeedFull, rec.Speed)
			testutil.Equals(t, uint8(1), rec.NumInterfaces)
			testutil.Equals(t, []usbip.InterfaceRecord{{Class: tc.class, SubClass: 1, Protocol: tc.protocol}}, p.InterfaceRecords())

			for _, idx := range []uint8{0, 1, 2, 3} {
				_, ok := p.Model().StringDescriptor(idx)
				testutil.Assert(t, ok, "string %d missing", idx)
			}
		})
	}
}

func TestUnknownProfile(t *testing.T) {
	_, err := Build("scanner", Options{})
	testutil.NotOk(t, err)
}

func TestOverrides(t *testing.T) {
	o, err := DecodeOverrides(map[string]any{
		"vendor":       "0x1234",
		"product":      22136,
		"product_name": "Bench Keyboard",
		"serial":       "A1",
	})
	testutil.Ok(t, err)
	testutil.Equals(t, uint16(0x1234), o.Vendor)
	testutil.Equals(t, uint16(0x5678), o.Product)

	p, err := Build(Keyboard, Options{Overrides: o, Identity: device.Identity{BusID: "3-2"}})
	testutil.Ok(t, err)
	dev := p.Model().DeviceDescriptor()
	testutil.Equals(t, uint16(0x1234), dev.VendorID)
	testutil.Equals(t, uint16(0x5678), dev.ProductID)

	want, err := usb.EncodeStringDescriptor("Bench Keyboard")
	testutil.Ok(t, err)
	got, _ := p.Model().StringDescriptor(dev.ProductIndex)
	testutil.Equals(t, want, got)
	rec := p.DeviceRecord()
	testutil.Equals(t, "3-2", rec.BusIDString())

	_, err = DecodeOverrides(map[string]any{"colour": "red"})
	testutil.NotOk(t, err)

	o, err = DecodeOverrides(nil)
	testutil.Ok(t, err)
	testutil.Equals(t, Overrides{}, o)
}

func TestPrinterDeviceIDOverride(t *testing.T) {
	var spool bytes.Buffer
	p, err := Build(Printer, Options{Spool: &spool, Overrides: Overrides{DeviceID: "MFG:ACME;MDL:1;"}})
	testutil.Ok(t, err)
	testutil.Assert(t, p.Handler() != nil)
}
