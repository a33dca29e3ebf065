package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/MatthiasValvekens/usbip-device-emulator/class/hid"
	"github.com/MatthiasValvekens/usbip-device-emulator/profiles"
	"github.com/MatthiasValvekens/usbip-device-emulator/usb"
	"github.com/MatthiasValvekens/usbip-device-emulator/usbip"
	"github.com/efficientgo/core/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
)

type running struct {
	srv    *Server
	target usbip.Target
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func serve(t *testing.T, srv *Server) *running {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	testutil.Ok(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	r := &running{
		srv:    srv,
		target: usbip.Target{Host: "127.0.0.1", Port: l.Addr().(*net.TCPAddr).Port},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		r.err = srv.Serve(ctx, l)
		close(r.done)
	}()
	t.Cleanup(r.stop)
	return r
}

func (r *running) stop() {
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(10 * time.Second):
	}
}

func (r *running) dial(t *testing.T) *usbip.Connection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := r.target.Dial(ctx)
	testutil.Ok(t, err)
	t.Cleanup(conn.Close)
	return conn
}

func TestServeKeyboard(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := keyboard(t, profiles.Options{})
	r := serve(t, New(p, WithRegisterer(reg)))
	conn := r.dial(t)

	devs, err := conn.ListRequest()
	testutil.Ok(t, err)
	testutil.Equals(t, 1, len(devs))
	testutil.Equals(t, "1-1", devs[0].BusId)
	testutil.Equals(t, usbip.USBID(0x2706), devs[0].Vendor)
	testutil.Equals(t, usbip.USBID(0x0100), devs[0].Product)
	testutil.Equals(t, usbip.SpeedFull, devs[0].Speed)
	testutil.Equals(t, []usbip.InterfaceRecord{{Class: usb.ClassHID, SubClass: 1, Protocol: 1}}, devs[0].Interfaces)

	dev, err := conn.ImportRequest("1-1")
	testutil.Ok(t, err)
	testutil.Equals(t, devs[0].Path, dev.Path)

	tree := p.Model().ConfigurationTree()
	for _, tc := range []struct {
		name  string
		setup usbip.Setup
		len   uint32
		want  []byte
	}{
		{
			name:  "configuration header",
			setup: setupPacket(0x80, usb.RequestGetDescriptor, 0x0200, 0, 9),
			len:   9,
			want:  tree[:9],
		},
		{
			name:  "configuration tree",
			setup: setupPacket(0x80, usb.RequestGetDescriptor, 0x0200, 0, uint16(len(tree))),
			len:   uint32(len(tree)),
			want:  tree,
		},
		{
			name:  "hid report descriptor",
			setup: setupPacket(0x81, usb.RequestGetDescriptor, 0x2200, 0, uint16(len(hid.KeyboardReportDescriptor))),
			len:   uint32(len(hid.KeyboardReportDescriptor)),
			want:  hid.KeyboardReportDescriptor,
		},
		{
			name:  "idle rate",
			setup: setupPacket(0xA1, hid.RequestGetIdle, 0, 0, 1),
			len:   1,
			want:  []byte{0},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res, err := conn.Submit(usbip.ControlRequest{Setup: tc.setup, Length: tc.len})
			testutil.Ok(t, err)
			testutil.Equals(t, usbip.StatusOK, res.Status)
			testutil.Equals(t, tc.want, res.Data)
		})
	}

	// SET_IDLE is remembered within the session.
	res, err := conn.Submit(usbip.ControlRequest{Setup: setupPacket(0x21, hid.RequestSetIdle, 0x7D00, 0, 0)})
	testutil.Ok(t, err)
	testutil.Equals(t, usbip.StatusOK, res.Status)
	res, err = conn.Submit(usbip.ControlRequest{Setup: setupPacket(0xA1, hid.RequestGetIdle, 0, 0, 1), Length: 1})
	testutil.Ok(t, err)
	testutil.Equals(t, []byte{0x7D}, res.Data)

	report, err := conn.Transfer(1, usbip.DirIn, 8, nil)
	testutil.Ok(t, err)
	testutil.Equals(t, 8, len(report.Data))

	testutil.Equals(t, 1.0, promtestutil.ToFloat64(r.srv.metrics.sessionsTotal))
	testutil.Equals(t, 1.0, promtestutil.ToFloat64(r.srv.metrics.sessionsActive))
	testutil.Equals(t, 1, r.srv.ActiveSessions())
}

func TestSessionsDoNotShareState(t *testing.T) {
	r := serve(t, New(keyboard(t, profiles.Options{})))

	first := r.dial(t)
	_, err := first.ImportRequest("1-1")
	testutil.Ok(t, err)
	second := r.dial(t)
	_, err = second.ImportRequest("1-1")
	testutil.Ok(t, err)

	_, err = first.Submit(usbip.ControlRequest{Setup: setupPacket(0x21, hid.RequestSetProtocol, uint16(hid.ProtocolBoot), 0, 0)})
	testutil.Ok(t, err)

	getProtocol := usbip.ControlRequest{Setup: setupPacket(0xA1, hid.RequestGetProtocol, 0, 0, 1), Length: 1}
	res, err := first.Submit(getProtocol)
	testutil.Ok(t, err)
	testutil.Equals(t, []byte{hid.ProtocolBoot}, res.Data)
	res, err = second.Submit(getProtocol)
	testutil.Ok(t, err)
	testutil.Equals(t, []byte{hid.ProtocolReport}, res.Data)
}

func TestServePrinter(t *testing.T) {
	p, err := profiles.Build(profiles.Printer, profiles.Options{})
	testutil.Ok(t, err)
	r := serve(t, New(p))
	conn := r.dial(t)

	_, err = conn.ImportRequest("1-1")
	testutil.Ok(t, err)

	res, err := conn.Submit(usbip.ControlRequest{Setup: setupPacket(0xA1, 0x00, 0, 0, 0x3FF), Length: 0x3FF})
	testutil.Ok(t, err)
	id := profiles.DefaultPrinterDeviceID
	testutil.Equals(t, append([]byte{0x00, byte(len(id) + 2)}, id...), res.Data)

	out, err := conn.Transfer(1, usbip.DirOut, 0, []byte("%!PS\n"))
	testutil.Ok(t, err)
	testutil.Equals(t, usbip.StatusOK, out.Status)
}

func TestMaxConnections(t *testing.T) {
	r := serve(t, New(keyboard(t, profiles.Options{}), WithMaxConnections(1)))

	first := r.dial(t)
	_, err := first.ListRequest()
	testutil.Ok(t, err)

	second := r.dial(t)
	_, err = second.ListRequest()
	testutil.NotOk(t, err)
	testutil.Equals(t, 1.0, promtestutil.ToFloat64(r.srv.metrics.rejectedConnections))

	// The first session is unaffected.
	_, err = first.ListRequest()
	testutil.Ok(t, err)
}

func TestShutdownClosesIdleSessions(t *testing.T) {
	r := serve(t, New(keyboard(t, profiles.Options{}), WithShutdownTimeout(50*time.Millisecond)))
	conn := r.dial(t)
	_, err := conn.ImportRequest("1-1")
	testutil.Ok(t, err)

	r.cancel()
	select {
	case <-r.done:
		testutil.Ok(t, r.err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	testutil.Equals(t, 0, r.srv.ActiveSessions())

	_, err = conn.Submit(usbip.ControlRequest{Setup: setupPacket(0x80, usb.RequestGetConfiguration, 0, 0, 1), Length: 1})
	testutil.NotOk(t, err)
}
