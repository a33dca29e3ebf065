package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MatthiasValvekens/usbip-device-emulator/profiles"
	"github.com/MatthiasValvekens/usbip-device-emulator/server"
	"github.com/MatthiasValvekens/usbip-device-emulator/usbip"
	"github.com/efficientgo/core/testutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestValidateListen(t *testing.T) {
	t.Cleanup(viper.Reset)
	for _, tc := range []struct {
		addr string
		ok   bool
	}{
		{addr: ":3240", ok: true},
		{addr: "127.0.0.1:3240", ok: true},
		{addr: "[::1]:8080", ok: true},
		{addr: "localhost:3240", ok: true},
		{addr: ":0", ok: false},
		{addr: ":70000", ok: false},
		{addr: "3240", ok: false},
		{addr: ":usbip", ok: false},
		{addr: "usbip.example.com:3240", ok: true},
		{addr: "my_host:3240", ok: false},
		{addr: "Emulator:3240", ok: false},
	} {
		t.Run(tc.addr, func(t *testing.T) {
			viper.Set("listen", tc.addr)
			_, err := validateListen("listen")
			if tc.ok {
				testutil.Ok(t, err)
			} else {
				testutil.NotOk(t, err)
			}
		})
	}
}

func TestProfileOptions(t *testing.T) {
	t.Cleanup(viper.Reset)
	spool := filepath.Join(t.TempDir(), "spool.pdf")
	viper.Set("report-interval", "10ms")
	viper.Set("bus-id", "2-1")
	viper.Set("spool", spool)
	viper.Set("overrides", map[string]any{"serial": "XYZ", "vendor": "0x1d6b"})

	opts, f, err := profileOptions()
	testutil.Ok(t, err)
	testutil.Assert(t, f != nil)
	defer f.Close()
	testutil.Equals(t, "2-1", opts.Identity.BusID)
	testutil.Equals(t, "XYZ", opts.Overrides.Serial)
	testutil.Equals(t, uint16(0x1d6b), opts.Overrides.Vendor)

	viper.Set("report-interval", "0s")
	_, _, err = profileOptions()
	testutil.NotOk(t, err)
}

func TestDescribe(t *testing.T) {
	t.Cleanup(viper.Reset)
	p, err := profiles.Build(profiles.Printer, profiles.Options{})
	testutil.Ok(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	testutil.Ok(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = server.New(p).Serve(ctx, l)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	conn, err := usbip.Target{Host: "127.0.0.1", Port: l.Addr().(*net.TCPAddr).Port}.Dial(ctx)
	testutil.Ok(t, err)
	defer conn.Close()

	d, err := describe(conn, "1-1", 0)
	testutil.Ok(t, err)
	testutil.Equals(t, p.Model().DeviceDescriptor(), d.Descriptor)
	testutil.Equals(t, p.Model().ConfigurationDescriptor(), d.Configuration)
	testutil.Equals(t, map[uint8]string{1: "DavieV", 2: "Virtual USB Printer", 3: "0001"}, d.Strings)
	testutil.Equals(t, 2*int(d.Configuration.TotalLength), len(d.Tree))

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	viper.Set("output", outputJSON)
	testutil.Ok(t, printObject(cmd, d))
	var back description
	testutil.Ok(t, json.Unmarshal(out.Bytes(), &back))
	testutil.Equals(t, d.Tree, back.Tree)

	out.Reset()
	viper.Set("output", outputYAML)
	testutil.Ok(t, printObject(cmd, d))
	testutil.Assert(t, strings.Contains(out.String(), "product: 10216"), out.String())

	viper.Set("output", "xml")
	testutil.NotOk(t, printObject(cmd, d))
}

func TestDescribeReadsReports(t *testing.T) {
	p, err := profiles.Build(profiles.Mouse, profiles.Options{ReportInterval: time.Millisecond})
	testutil.Ok(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	testutil.Ok(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = server.New(p).Serve(ctx, l)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	conn, err := usbip.Target{Host: "127.0.0.1", Port: l.Addr().(*net.TCPAddr).Port}.Dial(ctx)
	testutil.Ok(t, err)
	defer conn.Close()

	d, err := describe(conn, "1-1", 3)
	testutil.Ok(t, err)
	testutil.Equals(t, 3, len(d.Reports))
	for _, r := range d.Reports {
		// buttons, dx, dy, wheel
		testutil.Equals(t, 8, len(r))
	}

}
