// SPDX-License-Identifier: GPL-2.0-only

package hid

import (
	"math/rand/v2"
)

// KeyboardReportDescriptor is the boot keyboard report descriptor from
// HID 1.11 appendix B.1.
var KeyboardReportDescriptor = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x06, // Usage (Keyboard)
	0xA1, 0x01, // Collection (Application)
	0x05, 0x07, //   Usage Page (Key Codes)
	0x19, 0xE0, //   Usage Minimum (224)
	0x29, 0xE7, //   Usage Maximum (231)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x01, //   Logical Maximum (1)
	0x75, 0x01, //   Report Size (1)
	0x95, 0x08, //   Report Count (8)
	0x81, 0x02, //   Input (Data, Variable, Absolute)
	0x95, 0x01, //   Report Count (1)
	0x75, 0x08, //   Report Size (8)
	0x81, 0x01, //   Input (Constant)
	0x95, 0x05, //   Report Count (5)
	0x75, 0x01, //   Report Size (1)
	0x05, 0x08, //   Usage Page (LEDs)
	0x19, 0x01, //   Usage Minimum (1)
	0x29, 0x05, //   Usage Maximum (5)
	0x91, 0x02, //   Output (Data, Variable, Absolute)
	0x95, 0x01, //   Report Count (1)
	0x75, 0x03, //   Report Size (3)
	0x91, 0x01, //   Output (Constant)
	0x95, 0x06, //   Report Count (6)
	0x75, 0x08, //   Report Size (8)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x65, //   Logical Maximum (101)
	0x05, 0x07, //   Usage Page (Key Codes)
	0x19, 0x00, //   Usage Minimum (0)
	0x29, 0x65, //   Usage Maximum (101)
	0x81, 0x00, //   Input (Data, Array)
	0xC0, // End Collection
}

// MouseReportDescriptor describes a three-button mouse with X, Y and
// wheel axes.
var MouseReportDescriptor = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x02, // Usage (Mouse)
	0xA1, 0x01, // Collection (Application)
	0x09, 0x01, //   Usage (Pointer)
	0xA1, 0x00, //   Collection (Physical)
	0x05, 0x09, //     Usage Page (Buttons)
	0x19, 0x01, //     Usage Minimum (1)
	0x29, 0x03, //     Usage Maximum (3)
	0x15, 0x00, //     Logical Minimum (0)
	0x25, 0x01, //     Logical Maximum (1)
	0x95, 0x03, //     Report Count (3)
	0x75, 0x01, //     Report Size (1)
	0x81, 0x02, //     Input (Data, Variable, Absolute)
	0x95, 0x01, //     Report Count (1)
	0x75, 0x05, //     Report Size (5)
	0x81, 0x01, //     Input (Constant)
	0x05, 0x01, //     Usage Page (Generic Desktop)
	0x09, 0x30, //     Usage (X)
	0x09, 0x31, //     Usage (Y)
	0x09, 0x38, //     Usage (Wheel)
	0x15, 0x81, //     Logical Minimum (-127)
	0x25, 0x7F, //     Logical Maximum (127)
	0x75, 0x08, //     Report Size (8)
	0x95, 0x03, //     Report Count (3)
	0x81, 0x06, //     Input (Data, Variable, Relative)
	0xC0, //   End Collection
	0xC0, // End Collection
}

const (
	keyboardReportSize = 8
	mouseReportSize    = 4

	firstLetterUsage = 0x04 // a
	letterUsages     = 26
	maxMouseDelta    = 5
)

// Keyboard alternates a random letter press with a release.
type Keyboard struct {
	rng   *rand.Rand
	count int
}

// NewKeyboard returns a keyboard generator seeded with seed.
func NewKeyboard(seed uint64) *Keyboard {
	return &Keyboard{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (k *Keyboard) Size() int { return keyboardReportSize }

func (k *Keyboard) Next() []byte {
	report := make([]byte, keyboardReportSize)
	if k.count%2 == 0 {
		report[2] = byte(firstLetterUsage + k.rng.IntN(letterUsages))
	}
	k.count++
	return report
}

// Mouse wanders the pointer by small random steps.
type Mouse struct {
	rng *rand.Rand
}

// NewMouse returns a mouse generator seeded with seed.
func NewMouse(seed uint64) *Mouse {
	return &Mouse{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (m *Mouse) Size() int { return mouseReportSize }

func (m *Mouse) Next() []byte {
	dx := m.rng.IntN(2*maxMouseDelta+1) - maxMouseDelta
	dy := m.rng.IntN(2*maxMouseDelta+1) - maxMouseDelta
	return []byte{0x00, byte(int8(dx)), byte(int8(dy)), 0x00}
}
