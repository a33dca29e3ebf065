// SPDX-License-Identifier: GPL-2.0-only

// Package hid implements the HID device class: class requests, HID and
// report descriptors, and periodic synthetic input reports.
package hid

import (
	"context"
	"sync"
	"time"

	"github.com/MatthiasValvekens/usbip-device-emulator/device"
	"github.com/MatthiasValvekens/usbip-device-emulator/usb"
	"github.com/efficientgo/core/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// HID class requests, HID 1.11 section 7.2.
const (
	RequestGetReport   uint8 = 0x01
	RequestGetIdle     uint8 = 0x02
	RequestGetProtocol uint8 = 0x03
	RequestSetReport   uint8 = 0x09
	RequestSetIdle     uint8 = 0x0A
	RequestSetProtocol uint8 = 0x0B
)

// Report types carried in the high byte of wValue.
const (
	ReportTypeInput   uint8 = 0x01
	ReportTypeOutput  uint8 = 0x02
	ReportTypeFeature uint8 = 0x03
)

const (
	ProtocolBoot   uint8 = 0x00
	ProtocolReport uint8 = 0x01
)

// SubClassBoot marks an interface supporting the boot protocol.
const SubClassBoot uint8 = 0x01

// Interface protocols for boot devices.
const (
	InterfaceProtocolKeyboard uint8 = 0x01
	InterfaceProtocolMouse    uint8 = 0x02
)

// Generator produces the input reports of one session.
type Generator interface {
	// Next returns the next input report.
	Next() []byte
	// Size is the input report length.
	Size() int
}

// Config describes a HID function.
type Config struct {
	ReportDescriptor []byte
	HIDVersion       uint16
	CountryCode      uint8
	// Interval between input reports.
	Interval time.Duration
	// Limit caps the reports sent per session. Zero means unlimited.
	Limit int
	// NewGenerator is called once per session.
	NewGenerator func() Generator
}

// Class is the shared, immutable part of a HID function. Each session
// gets its own state through Attach.
type Class struct {
	cfg    Config
	logger log.Logger

	// unattached serves requests that arrive without a session.
	unattached *session
}

func New(cfg Config, logger log.Logger) (*Class, error) {
	if len(cfg.ReportDescriptor) == 0 {
		return nil, errors.New("hid function needs a report descriptor")
	}
	if len(cfg.ReportDescriptor) > 0xFFFF {
		return nil, errors.Newf("report descriptor is %d bytes long", len(cfg.ReportDescriptor))
	}
	if cfg.NewGenerator == nil {
		return nil, errors.New("hid function needs a report generator")
	}
	if cfg.Interval < 0 {
		return nil, errors.Newf("negative report interval %v", cfg.Interval)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	c := &Class{
		cfg:    cfg,
		logger: logger,
	}
	c.cfg.ReportDescriptor = append([]byte(nil), cfg.ReportDescriptor...)
	c.unattached = c.newSession(context.Background())
	return c, nil
}

// Descriptor returns the HID class descriptor placed after the interface
// descriptor in the configuration tree.
func (c *Class) Descriptor() usb.HIDDescriptor {
	return usb.HIDDescriptor{
		HIDVersion:             c.cfg.HIDVersion,
		CountryCode:            c.cfg.CountryCode,
		ReportDescriptorLength: uint16(len(c.cfg.ReportDescriptor)),
	}
}

// Attach creates the per-session state. The report schedule stops when
// ctx is cancelled.
func (c *Class) Attach(ctx context.Context) device.Handler {
	return c.newSession(ctx)
}

func (c *Class) HandleClassControl(ctx context.Context, req device.ControlRequest) ([]byte, error) {
	return c.unattached.HandleClassControl(ctx, req)
}

func (c *Class) HandleClassDescriptor(t usb.DescriptorType, _ uint8, _ uint16) ([]byte, error) {
	switch t {
	case usb.DescriptorTypeHID:
		return c.Descriptor().Bytes(), nil
	case usb.DescriptorTypeHIDReport:
		return append([]byte(nil), c.cfg.ReportDescriptor...), nil
	}
	return nil, errors.Wrapf(device.ErrStall, "no %v descriptor", t)
}

func (c *Class) HandleData(ctx context.Context, t device.Transfer) ([]byte, error) {
	return c.unattached.HandleData(ctx, t)
}

type session struct {
	class *Class
	ctx   context.Context

	mu       sync.Mutex
	protocol uint8
	idle     uint8
	gen      Generator
	input    []byte
	output   []byte
	sent     int
	next     time.Time
}

func (c *Class) newSession(ctx context.Context) *session {
	gen := c.cfg.NewGenerator()
	return &session{
		class:    c,
		ctx:      ctx,
		protocol: ProtocolReport,
		gen:      gen,
		input:    make([]byte, gen.Size()),
	}
}

func (s *session) HandleClassControl(_ context.Context, req device.ControlRequest) ([]byte, error) {
	setup := req.Setup
	s.mu.Lock()
	defer s.mu.Unlock()

	switch setup.Request {
	case usb.RequestGetDescriptor:
		return s.class.HandleClassDescriptor(setup.DescriptorType(), setup.DescriptorIndex(), setup.Length)
	case RequestGetReport:
		switch setup.ValueHigh() {
		case ReportTypeInput:
			return append([]byte(nil), s.input...), nil
		case ReportTypeOutput:
			return append([]byte(nil), s.output...), nil
		}
		return nil, errors.Wrapf(device.ErrStall, "report type %d", setup.ValueHigh())
	case RequestSetReport:
		if setup.ValueHigh() != ReportTypeOutput {
			return nil, errors.Wrapf(device.ErrStall, "set report type %d", setup.ValueHigh())
		}
		s.output = append(s.output[:0], req.Data...)
		_ = level.Debug(s.class.logger).Log("msg", "output report", "data", s.output)
		return []byte{}, nil
	case RequestGetIdle:
		return []byte{s.idle}, nil
	case RequestSetIdle:
		s.idle = setup.ValueHigh()
		return []byte{}, nil
	case RequestGetProtocol:
		return []byte{s.protocol}, nil
	case RequestSetProtocol:
		p := setup.ValueLow()
		if p != ProtocolBoot && p != ProtocolReport {
			return nil, errors.Wrapf(device.ErrStall, "protocol %d", p)
		}
		s.protocol = p
		return []byte{}, nil
	}
	_ = level.Debug(s.class.logger).Log("msg", "unhandled hid request", "request", setup.Request)
	return nil, errors.Wrapf(device.ErrStall, "hid request %#02x", setup.Request)
}

func (s *session) HandleClassDescriptor(t usb.DescriptorType, index uint8, length uint16) ([]byte, error) {
	return s.class.HandleClassDescriptor(t, index, length)
}

// HandleData serves the interrupt endpoints. IN transfers wait for the
// next slot in the report schedule.
func (s *session) HandleData(ctx context.Context, t device.Transfer) ([]byte, error) {
	if !t.Endpoint.IsIn() {
		s.mu.Lock()
		s.output = append(s.output[:0], t.Data...)
		s.mu.Unlock()
		return nil, nil
	}

	s.mu.Lock()
	limit := s.class.cfg.Limit
	if limit > 0 && s.sent >= limit {
		s.mu.Unlock()
		return nil, device.ErrNoResponse
	}
	wait := time.Until(s.next)
	s.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ctx.Done():
			return nil, s.ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	report := s.gen.Next()
	s.input = append(s.input[:0], report...)
	s.sent++
	s.next = time.Now().Add(s.class.cfg.Interval)
	return report, nil
}
