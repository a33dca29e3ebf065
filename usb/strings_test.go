package usb

import (
	"testing"

	"github.com/efficientgo/core/testutil"
)

func TestEncodeStringDescriptor(t *testing.T) {
	for _, tc := range []struct {
		in    string
		units int
	}{
		{in: "", units: 0},
		{in: "Test", units: 4},
		{in: "Virtual USB Keyboard", units: 20},
		{in: "Zoë", units: 3},
		{in: "𝄞", units: 2},
	} {
		b, err := EncodeStringDescriptor(tc.in)
		testutil.Ok(t, err)
		testutil.Equals(t, 2*tc.units+2, int(b[0]))
		testutil.Equals(t, len(b), int(b[0]))
		testutil.Equals(t, byte(DescriptorTypeString), b[1])
	}

	b, err := EncodeStringDescriptor("Test")
	testutil.Ok(t, err)
	testutil.Equals(t, []byte{0x0a, 0x03, 'T', 0, 'e', 0, 's', 0, 't', 0}, b)

	long := make([]byte, maxStringUnits+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = EncodeStringDescriptor(string(long))
	testutil.NotOk(t, err)
}

func TestStringTable(t *testing.T) {
	st, err := NewStringTable([]uint16{LanguageEnglishUS}, map[uint8]string{1: "Test", 3: "0001"})
	testutil.Ok(t, err)
	testutil.Equals(t, []uint8{0, 1, 3}, st.Indices())

	langs, ok := st.Descriptor(0)
	testutil.Assert(t, ok)
	testutil.Equals(t, []byte{0x04, 0x03, 0x09, 0x04}, langs)

	// Callers get copies.
	langs[2] = 0
	again, _ := st.Descriptor(0)
	testutil.Equals(t, byte(0x09), again[2])

	_, ok = st.Descriptor(2)
	testutil.Assert(t, !ok)

	_, err = NewStringTable(nil, map[uint8]string{0: "nope"})
	testutil.NotOk(t, err)
}

func TestDecodeStringDescriptor(t *testing.T) {
	for _, in := range []string{"", "Virtual USB Printer", "Zoë", "𝄞"} {
		b, err := EncodeStringDescriptor(in)
		testutil.Ok(t, err)
		got, err := DecodeStringDescriptor(b)
		testutil.Ok(t, err)
		testutil.Equals(t, in, got)
	}

	// Trailing bytes past bLength are ignored.
	got, err := DecodeStringDescriptor([]byte{0x04, 0x03, 'A', 0, 0, 0})
	testutil.Ok(t, err)
	testutil.Equals(t, "A", got)

	for _, bad := range [][]byte{
		nil,
		{0x04, 0x02, 'A', 0},
		{0x06, 0x03, 'A', 0},
		{0x03, 0x03, 'A'},
	} {
		_, err := DecodeStringDescriptor(bad)
		testutil.NotOk(t, err)
	}
}
