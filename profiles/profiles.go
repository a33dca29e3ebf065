// SPDX-License-Identifier: GPL-2.0-only

// Package profiles holds the built-in devices the emulator can export.
package profiles

import (
	"io"
	"sort"
	"time"

	"github.com/MatthiasValvekens/usbip-device-emulator/device"
	"github.com/MatthiasValvekens/usbip-device-emulator/usb"
	"github.com/efficientgo/core/errors"
	"github.com/go-kit/log"
	"github.com/mitchellh/mapstructure"
)

const (
	Keyboard = "keyboard"
	Mouse    = "mouse"
	Printer  = "printer"
)

// DefaultReportInterval is the cadence of synthetic HID reports.
const DefaultReportInterval = 250 * time.Millisecond

// Overrides replace parts of a built-in profile. Zero values keep the
// built-in setting.
type Overrides struct {
	Vendor       uint16 `json:"vendor"`
	Product      uint16 `json:"product"`
	BcdDevice    uint16 `json:"bcd_device"`
	Manufacturer string `json:"manufacturer"`
	ProductName  string `json:"product_name"`
	Serial       string `json:"serial"`
	// DeviceID is the IEEE-1284 device ID of a printer.
	DeviceID string `json:"device_id"`
}

// Options tune a built-in profile.
type Options struct {
	Identity device.Identity
	// ReportInterval and ReportLimit apply to HID profiles.
	ReportInterval time.Duration
	ReportLimit    int
	// Seed makes HID reports reproducible.
	Seed uint64
	// Spool receives printer data.
	Spool     io.Writer
	Overrides Overrides
	Logger    log.Logger
}

type builder func(opts Options) (*device.Profile, error)

var builders = map[string]builder{
	Keyboard: buildKeyboard,
	Mouse:    buildMouse,
	Printer:  buildPrinter,
}

// Names lists the built-in profiles.
func Names() []string {
	names := make([]string, 0, len(builders))
	for n := range builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build constructs the named profile.
func Build(name string, opts Options) (*device.Profile, error) {
	b, ok := builders[name]
	if !ok {
		return nil, errors.Newf("unknown device %q", name)
	}
	if opts.Identity.BusID == "" {
		id := device.DefaultIdentity()
		if opts.Identity.Path != "" {
			id.Path = opts.Identity.Path
		}
		opts.Identity = id
	}
	if opts.ReportInterval == 0 {
		opts.ReportInterval = DefaultReportInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	p, err := b(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "building %s profile", name)
	}
	return p, nil
}

// DecodeOverrides reads overrides from a generic config map. Numbers may
// be given as strings, including in hex.
func DecodeOverrides(raw any) (Overrides, error) {
	var o Overrides
	if raw == nil {
		return o, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &o,
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return o, err
	}
	if err := decoder.Decode(raw); err != nil {
		return o, errors.Wrap(err, "failed to decode device overrides")
	}
	return o, nil
}

func (o Overrides) apply(d *usb.DeviceDescriptor, strs map[uint8]string) {
	if o.Vendor != 0 {
		d.VendorID = o.Vendor
	}
	if o.Product != 0 {
		d.ProductID = o.Product
	}
	if o.BcdDevice != 0 {
		d.DeviceVersion = o.BcdDevice
	}
	for _, s := range []struct {
		idx   uint8
		value string
	}{
		{d.ManufacturerIndex, o.Manufacturer},
		{d.ProductIndex, o.ProductName},
		{d.SerialNumberIndex, o.Serial},
	} {
		if s.idx != 0 && s.value != "" {
			strs[s.idx] = s.value
		}
	}
}

func newModel(cfg usb.ModelConfig, strs map[uint8]string) (*usb.Model, error) {
	st, err := usb.NewStringTable([]uint16{usb.LanguageEnglishUS}, strs)
	if err != nil {
		return nil, err
	}
	cfg.Strings = st
	return usb.NewModel(cfg)
}
