package hid

import (
	"context"
	"testing"
	"time"

	"github.com/MatthiasValvekens/usbip-device-emulator/device"
	"github.com/MatthiasValvekens/usbip-device-emulator/usb"
	"github.com/efficientgo/core/errors"
	"github.com/efficientgo/core/testutil"
)

var interruptIn = usb.EndpointDescriptor{Address: 0x81, Attributes: usb.TransferTypeInterrupt, MaxPacketSize: 8, Interval: 10}

func newKeyboardClass(t *testing.T, interval time.Duration, limit int) *Class {
	t.Helper()
	c, err := New(Config{
		ReportDescriptor: KeyboardReportDescriptor,
		HIDVersion:       0x0111,
		Interval:         interval,
		Limit:            limit,
		NewGenerator:     func() Generator { return NewKeyboard(1) },
	}, nil)
	testutil.Ok(t, err)
	return c
}

func classRequest(reqType, req uint8, value, length uint16, data []byte) device.ControlRequest {
	return device.ControlRequest{
		Setup: usb.SetupPacket{RequestType: reqType, Request: req, Value: value, Length: length},
		Data:  data,
	}
}

func TestReportDescriptorLengths(t *testing.T) {
	testutil.Equals(t, 0x3F, len(KeyboardReportDescriptor))
	testutil.Equals(t, 0x34, len(MouseReportDescriptor))
}

func TestClassDescriptors(t *testing.T) {
	c := newKeyboardClass(t, 0, 0)

	hid, err := c.HandleClassDescriptor(usb.DescriptorTypeHID, 0, 9)
	testutil.Ok(t, err)
	testutil.Equals(t, []byte{0x09, 0x21, 0x11, 0x01, 0x00, 0x01, 0x22, 0x3f, 0x00}, hid)

	report, err := c.HandleClassDescriptor(usb.DescriptorTypeHIDReport, 0, 0x3f)
	testutil.Ok(t, err)
	testutil.Equals(t, KeyboardReportDescriptor, report)

	// Callers cannot modify the stored descriptor.
	report[0] = 0
	again, _ := c.HandleClassDescriptor(usb.DescriptorTypeHIDReport, 0, 0x3f)
	testutil.Equals(t, byte(0x05), again[0])

	_, err = c.HandleClassDescriptor(usb.DescriptorTypeString, 0, 0)
	testutil.Assert(t, errors.Is(err, device.ErrStall))
}

func TestClassRequests(t *testing.T) {
	ctx := context.Background()
	h := newKeyboardClass(t, 0, 0).Attach(ctx)

	for _, tc := range []struct {
		name  string
		req   device.ControlRequest
		want  []byte
		stall bool
	}{
		{name: "initial protocol", req: classRequest(0xA1, RequestGetProtocol, 0, 1, nil), want: []byte{ProtocolReport}},
		{name: "set boot protocol", req: classRequest(0x21, RequestSetProtocol, uint16(ProtocolBoot), 0, nil), want: []byte{}},
		{name: "protocol after set", req: classRequest(0xA1, RequestGetProtocol, 0, 1, nil), want: []byte{ProtocolBoot}},
		{name: "bad protocol", req: classRequest(0x21, RequestSetProtocol, 7, 0, nil), stall: true},
		{name: "initial idle", req: classRequest(0xA1, RequestGetIdle, 0, 1, nil), want: []byte{0}},
		{name: "set idle", req: classRequest(0x21, RequestSetIdle, 0x7d00, 0, nil), want: []byte{}},
		{name: "idle after set", req: classRequest(0xA1, RequestGetIdle, 0, 1, nil), want: []byte{0x7d}},
		{name: "input report before any data", req: classRequest(0xA1, RequestGetReport, 0x0100, 8, nil), want: make([]byte, 8)},
		{name: "set led report", req: classRequest(0x21, RequestSetReport, 0x0200, 1, []byte{0x02}), want: []byte{}},
		{name: "led report", req: classRequest(0xA1, RequestGetReport, 0x0200, 1, nil), want: []byte{0x02}},
		{name: "feature report", req: classRequest(0xA1, RequestGetReport, 0x0300, 1, nil), stall: true},
		{name: "set input report", req: classRequest(0x21, RequestSetReport, 0x0100, 1, []byte{0x01}), stall: true},
		{name: "report descriptor via class request", req: classRequest(0xA1, usb.RequestGetDescriptor, 0x2200, 0x3f, nil), want: KeyboardReportDescriptor},
		{name: "unknown request", req: classRequest(0xA1, 0x42, 0, 0, nil), stall: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := h.HandleClassControl(ctx, tc.req)
			if tc.stall {
				testutil.Assert(t, errors.Is(err, device.ErrStall), "got %v; want ErrStall", err)
				return
			}
			testutil.Ok(t, err)
			testutil.Equals(t, tc.want, got)
		})
	}
}

func TestSessionsDoNotShareState(t *testing.T) {
	c := newKeyboardClass(t, 0, 0)
	ctx := context.Background()
	a, b := c.Attach(ctx), c.Attach(ctx)

	_, err := a.HandleClassControl(ctx, classRequest(0x21, RequestSetIdle, 0x0400, 0, nil))
	testutil.Ok(t, err)

	got, err := b.HandleClassControl(ctx, classRequest(0xA1, RequestGetIdle, 0, 1, nil))
	testutil.Ok(t, err)
	testutil.Equals(t, []byte{0}, got)
}

func TestInputReports(t *testing.T) {
	ctx := context.Background()
	h := newKeyboardClass(t, 0, 0).Attach(ctx)

	for i := 0; i < 6; i++ {
		report, err := h.HandleData(ctx, device.Transfer{Endpoint: interruptIn, Length: 8})
		testutil.Ok(t, err)
		testutil.Equals(t, 8, len(report))
		if i%2 == 0 {
			testutil.Assert(t, report[2] >= 0x04 && report[2] <= 0x1d, "key usage %#x out of range", report[2])
		} else {
			testutil.Equals(t, make([]byte, 8), report)
		}
	}

	// GET_REPORT mirrors the last input report.
	last, err := h.HandleClassControl(ctx, classRequest(0xA1, RequestGetReport, 0x0100, 8, nil))
	testutil.Ok(t, err)
	testutil.Equals(t, make([]byte, 8), last)
}

func TestReportLimit(t *testing.T) {
	ctx := context.Background()
	h := newKeyboardClass(t, 0, 2).Attach(ctx)

	for i := 0; i < 2; i++ {
		_, err := h.HandleData(ctx, device.Transfer{Endpoint: interruptIn, Length: 8})
		testutil.Ok(t, err)
	}
	_, err := h.HandleData(ctx, device.Transfer{Endpoint: interruptIn, Length: 8})
	testutil.Assert(t, errors.Is(err, device.ErrNoResponse), "got %v; want ErrNoResponse", err)
}

func TestReportScheduleStopsWithSession(t *testing.T) {
	sessionCtx, cancel := context.WithCancel(context.Background())
	h := newKeyboardClass(t, time.Hour, 0).Attach(sessionCtx)

	// The first report is immediate; the second waits an hour.
	_, err := h.HandleData(context.Background(), device.Transfer{Endpoint: interruptIn, Length: 8})
	testutil.Ok(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.HandleData(context.Background(), device.Transfer{Endpoint: interruptIn, Length: 8})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		testutil.Assert(t, errors.Is(err, context.Canceled), "got %v; want context.Canceled", err)
	case <-time.After(5 * time.Second):
		t.Fatal("report wait did not stop with the session")
	}
}

func TestReportCadence(t *testing.T) {
	ctx := context.Background()
	interval := 20 * time.Millisecond
	h := newKeyboardClass(t, interval, 0).Attach(ctx)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := h.HandleData(ctx, device.Transfer{Endpoint: interruptIn, Length: 8})
		testutil.Ok(t, err)
	}
	testutil.Assert(t, time.Since(start) >= 2*interval, "three reports took only %v", time.Since(start))
}

func TestMouseReports(t *testing.T) {
	m := NewMouse(42)
	testutil.Equals(t, 4, m.Size())
	for i := 0; i < 100; i++ {
		r := m.Next()
		testutil.Equals(t, 4, len(r))
		for _, d := range []int8{int8(r[1]), int8(r[2])} {
			testutil.Assert(t, d >= -5 && d <= 5, "delta %d out of range", d)
		}
		testutil.Equals(t, byte(0), r[0])
	}
}

func TestNewValidation(t *testing.T) {
	gen := func() Generator { return NewMouse(1) }
	for _, cfg := range []Config{
		{NewGenerator: gen},
		{ReportDescriptor: MouseReportDescriptor},
		{ReportDescriptor: MouseReportDescriptor, NewGenerator: gen, Interval: -time.Second},
	} {
		_, err := New(cfg, nil)
		testutil.NotOk(t, err)
	}
}
