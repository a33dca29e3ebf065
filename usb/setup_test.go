package usb

import (
	"testing"

	"github.com/efficientgo/core/testutil"
)

func TestParseSetupPacket(t *testing.T) {
	for _, tc := range []struct {
		name      string
		raw       []byte
		want      SetupPacket
		reqType   RequestType
		recipient Recipient
		in        bool
		classIf   bool
	}{
		{
			name:    "get device descriptor",
			raw:     []byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x40, 0x00},
			want:    SetupPacket{RequestType: 0x80, Request: RequestGetDescriptor, Value: 0x0100, Length: 64},
			reqType: RequestTypeStandard, recipient: RecipientDevice, in: true,
		},
		{
			name:    "hid report descriptor",
			raw:     []byte{0x81, 0x06, 0x00, 0x22, 0x00, 0x00, 0x3f, 0x00},
			want:    SetupPacket{RequestType: 0x81, Request: RequestGetDescriptor, Value: 0x2200, Length: 63},
			reqType: RequestTypeStandard, recipient: RecipientInterface, in: true,
		},
		{
			name:    "hid set idle",
			raw:     []byte{0x21, 0x0a, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
			want:    SetupPacket{RequestType: 0x21, Request: 0x0a},
			reqType: RequestTypeClass, recipient: RecipientInterface, classIf: true,
		},
		{
			name:    "printer get device id",
			raw:     []byte{0xa1, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0xff},
			want:    SetupPacket{RequestType: 0xa1, Length: 0xffff},
			reqType: RequestTypeClass, recipient: RecipientInterface, in: true, classIf: true,
		},
		{
			name:    "vendor",
			raw:     []byte{0xc0, 0x01, 0x34, 0x12, 0x78, 0x56, 0x00, 0x00},
			want:    SetupPacket{RequestType: 0xc0, Request: 1, Value: 0x1234, Index: 0x5678},
			reqType: RequestTypeVendor, recipient: RecipientDevice, in: true,
		},
		{
			name:    "reserved",
			raw:     []byte{0x63, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
			want:    SetupPacket{RequestType: 0x63},
			reqType: RequestTypeReserved, recipient: RecipientOther, classIf: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseSetupPacket(tc.raw)
			testutil.Ok(t, err)
			testutil.Equals(t, tc.want, got)
			testutil.Equals(t, tc.reqType, got.Type())
			testutil.Equals(t, tc.recipient, got.Recipient())
			testutil.Equals(t, tc.in, got.IsIn())
			testutil.Equals(t, tc.classIf, got.IsClassInterface())

			b := got.Bytes()
			testutil.Equals(t, tc.raw, b[:])
		})
	}

	_, err := ParseSetupPacket([]byte{0x80, 0x06})
	testutil.Equals(t, ErrSetupPacketTooShort, err)
}

func TestDescriptorTypeAndIndex(t *testing.T) {
	s := SetupPacket{Value: 0x0302}
	testutil.Equals(t, DescriptorTypeString, s.DescriptorType())
	testutil.Equals(t, uint8(2), s.DescriptorIndex())
	testutil.Equals(t, "string", s.DescriptorType().String())
	testutil.Equals(t, "DescriptorType(0x7f)", DescriptorType(0x7f).String())
}
