// SPDX-License-Identifier: GPL-2.0-only

// Package printer implements the USB printer class (version 1.1).
package printer

import (
	"context"
	"encoding/binary"
	"io"
	"strings"
	"sync"

	"github.com/MatthiasValvekens/usbip-device-emulator/device"
	"github.com/MatthiasValvekens/usbip-device-emulator/usb"
	"github.com/efficientgo/core/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Printer class requests.
const (
	RequestGetDeviceID   uint8 = 0x00
	RequestGetPortStatus uint8 = 0x01
	RequestSoftReset     uint8 = 0x02
)

const (
	SubClassPrinter uint8 = 0x01

	ProtocolUnidirectional uint8 = 0x01
	ProtocolBidirectional  uint8 = 0x02
)

// Port status bits.
const (
	PortStatusNotError   uint8 = 0x08
	PortStatusSelected   uint8 = 0x10
	PortStatusPaperEmpty uint8 = 0x20
)

// maxDeviceIDLength is the largest ID the two-byte length prefix can carry.
const maxDeviceIDLength = 0xFFFF - 2

// DeviceID is an IEEE-1284 device ID as ordered key/value pairs, for
// example MFG, CMD and MDL.
type DeviceID []DeviceIDField

type DeviceIDField struct {
	Key   string
	Value string
}

func (id DeviceID) String() string {
	var sb strings.Builder
	for _, f := range id {
		sb.WriteString(f.Key)
		sb.WriteByte(':')
		sb.WriteString(f.Value)
		sb.WriteByte(';')
	}
	return sb.String()
}

// ParseDeviceID splits an IEEE-1284 device ID string into its fields.
func ParseDeviceID(s string) DeviceID {
	var id DeviceID
	for _, part := range strings.Split(s, ";") {
		kv := strings.SplitN(part, ":", 2)
		if len(kv) == 2 {
			id = append(id, DeviceIDField{Key: strings.TrimSpace(kv[0]), Value: kv[1]})
		}
	}
	return id
}

// Get returns the value of key, if present.
func (id DeviceID) Get(key string) (string, bool) {
	for _, f := range id {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Printer answers printer class requests and accepts print data.
type Printer struct {
	deviceID []byte
	logger   log.Logger

	mu    sync.Mutex
	spool io.Writer
	// received counts bulk OUT bytes.
	received int64
}

// New returns a printer reporting id. Print data goes to spool, which may
// be nil to discard it.
func New(id string, spool io.Writer, logger log.Logger) (*Printer, error) {
	if len(id) > maxDeviceIDLength {
		return nil, errors.Newf("device id is %d bytes long", len(id))
	}
	if spool == nil {
		spool = io.Discard
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	blob := make([]byte, 2+len(id))
	binary.BigEndian.PutUint16(blob, uint16(len(blob)))
	copy(blob[2:], id)
	return &Printer{deviceID: blob, spool: spool, logger: logger}, nil
}

func (p *Printer) HandleClassControl(_ context.Context, req device.ControlRequest) ([]byte, error) {
	switch req.Setup.Request {
	case RequestGetDeviceID:
		return append([]byte(nil), p.deviceID...), nil
	case RequestGetPortStatus:
		return []byte{PortStatusNotError | PortStatusSelected}, nil
	case RequestSoftReset:
		_ = level.Info(p.logger).Log("msg", "soft reset")
		return []byte{}, nil
	}
	_ = level.Debug(p.logger).Log("msg", "unhandled printer request", "request", req.Setup.Request)
	return nil, errors.Wrapf(device.ErrStall, "printer request %#02x", req.Setup.Request)
}

func (p *Printer) HandleClassDescriptor(t usb.DescriptorType, _ uint8, _ uint16) ([]byte, error) {
	return nil, errors.Wrapf(device.ErrStall, "printer has no %v descriptor", t)
}

// HandleData writes bulk OUT data to the spool. Reads on the back channel
// stay pending: the printer never has status to report.
func (p *Printer) HandleData(_ context.Context, t device.Transfer) ([]byte, error) {
	if t.Endpoint.IsIn() {
		return nil, device.ErrNoResponse
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.spool.Write(t.Data)
	p.received += int64(n)
	if err != nil {
		_ = level.Warn(p.logger).Log("msg", "failed to spool print data", "err", err)
		return nil, errors.Wrap(device.ErrStall, err.Error())
	}
	_ = level.Debug(p.logger).Log("msg", "spooled print data", "bytes", n, "total", p.received)
	return nil, nil
}
