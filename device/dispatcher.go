// SPDX-License-Identifier: GPL-2.0-only

package device

import (
	"context"

	"github.com/MatthiasValvekens/usbip-device-emulator/usb"
	"github.com/MatthiasValvekens/usbip-device-emulator/usbip"
	"github.com/efficientgo/core/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// URB is one submitted transfer as seen by the dispatcher.
type URB struct {
	Endpoint  uint32
	Direction usbip.Direction
	// Length is transfer_buffer_length.
	Length uint32
	Setup  usbip.Setup
	// Data is the OUT payload.
	Data []byte
}

// Response is the outcome of a URB.
type Response struct {
	Status int32
	// Data is the IN payload.
	Data         []byte
	ActualLength uint32
	// Silent responses produce no RET_SUBMIT.
	Silent bool
}

// Table entries take the dispatcher as an argument so that copies made by
// WithLogger log through their own logger.
type controlFunc func(d *Dispatcher, ctx context.Context, h Handler, req ControlRequest) ([]byte, error)

type standardFunc func(d *Dispatcher, req ControlRequest) ([]byte, error)

type descriptorFunc func(d *Dispatcher, req ControlRequest) ([]byte, error)

// Dispatcher routes URBs for one device model. It holds no per-session
// state; the session passes in its own Handler.
type Dispatcher struct {
	model  *usb.Model
	logger log.Logger

	byType      map[usb.RequestType]controlFunc
	standard    map[uint8]standardFunc
	descriptors map[usb.DescriptorType]descriptorFunc
}

func NewDispatcher(model *usb.Model, logger log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	d := &Dispatcher{model: model, logger: logger}
	d.byType = map[usb.RequestType]controlFunc{
		usb.RequestTypeStandard: (*Dispatcher).standardRequest,
		usb.RequestTypeClass:    (*Dispatcher).classRequest,
		usb.RequestTypeVendor:   (*Dispatcher).rejectRequest,
		usb.RequestTypeReserved: (*Dispatcher).rejectRequest,
	}
	d.standard = map[uint8]standardFunc{
		usb.RequestGetStatus:        (*Dispatcher).getStatus,
		usb.RequestClearFeature:     acknowledge,
		usb.RequestSetFeature:       acknowledge,
		usb.RequestSetAddress:       acknowledge,
		usb.RequestGetDescriptor:    (*Dispatcher).getDescriptor,
		usb.RequestGetConfiguration: (*Dispatcher).getConfiguration,
		usb.RequestSetConfiguration: acknowledge,
		usb.RequestGetInterface:     (*Dispatcher).getInterface,
		usb.RequestSetInterface:     acknowledge,
	}
	d.descriptors = map[usb.DescriptorType]descriptorFunc{
		usb.DescriptorTypeDevice:          (*Dispatcher).deviceDescriptor,
		usb.DescriptorTypeConfiguration:   (*Dispatcher).configurationDescriptor,
		usb.DescriptorTypeString:          (*Dispatcher).stringDescriptor,
		usb.DescriptorTypeDeviceQualifier: qualifierDescriptor,
	}
	return d
}

// WithLogger returns a dispatcher sharing d's tables that logs to logger.
func (d *Dispatcher) WithLogger(logger log.Logger) *Dispatcher {
	c := *d
	c.logger = logger
	return &c
}

// Dispatch serves one URB. Endpoint 0 goes through control decoding, any
// other endpoint straight to the handler's data path.
func (d *Dispatcher) Dispatch(ctx context.Context, h Handler, urb URB) Response {
	var (
		payload []byte
		err     error
	)
	if urb.Endpoint == 0 {
		payload, err = d.control(ctx, h, urb)
	} else {
		payload, err = d.data(ctx, h, urb)
	}
	return d.respond(ctx, urb, payload, err)
}

func (d *Dispatcher) control(ctx context.Context, h Handler, urb URB) ([]byte, error) {
	setup, err := usb.ParseSetupPacket(urb.Setup[:])
	if err != nil {
		return nil, err
	}
	req := ControlRequest{Setup: setup, Data: urb.Data}
	_ = level.Debug(d.logger).Log("msg", "control request", "setup", setup, "type", setup.Type())

	// Class requests to an interface pre-empt the standard table.
	if setup.IsClassInterface() {
		return d.classRequest(ctx, h, req)
	}
	return d.byType[setup.Type()](d, ctx, h, req)
}

func (d *Dispatcher) data(ctx context.Context, h Handler, urb URB) ([]byte, error) {
	if urb.Endpoint > 0x0F {
		return nil, errors.Wrapf(ErrStall, "endpoint %d out of range", urb.Endpoint)
	}
	ep, ok := d.model.Endpoint(uint8(urb.Endpoint), urb.Direction == usbip.DirIn)
	if !ok {
		return nil, errors.Wrapf(ErrStall, "no %v endpoint %d", urb.Direction, urb.Endpoint)
	}
	return h.HandleData(ctx, Transfer{Endpoint: ep, Length: urb.Length, Data: urb.Data})
}

func (d *Dispatcher) respond(ctx context.Context, urb URB, payload []byte, err error) Response {
	switch {
	case err == nil:
	case errors.Is(err, ErrNoResponse):
		return Response{Silent: true}
	case ctx.Err() != nil:
		return Response{Silent: true}
	default:
		_ = level.Debug(d.logger).Log("msg", "request stalled", "ep", urb.Endpoint, "err", err)
		return Response{Status: usbip.StatusPipe}
	}

	if urb.Direction == usbip.DirOut {
		return Response{ActualLength: uint32(len(urb.Data))}
	}
	// actual_length never exceeds transfer_buffer_length, even for the
	// language list: vhci drops the device on an oversized reply.
	if uint32(len(payload)) > urb.Length {
		payload = payload[:urb.Length]
	}
	return Response{Data: payload, ActualLength: uint32(len(payload))}
}

func (d *Dispatcher) classRequest(ctx context.Context, h Handler, req ControlRequest) ([]byte, error) {
	return h.HandleClassControl(ctx, req)
}

func (d *Dispatcher) rejectRequest(_ context.Context, _ Handler, req ControlRequest) ([]byte, error) {
	_ = level.Warn(d.logger).Log("msg", "rejecting request", "type", req.Setup.Type(), "setup", req.Setup)
	return nil, errors.Wrapf(ErrStall, "%v request", req.Setup.Type())
}

func (d *Dispatcher) standardRequest(ctx context.Context, h Handler, req ControlRequest) ([]byte, error) {
	fn, ok := d.standard[req.Setup.Request]
	if !ok {
		_ = level.Debug(d.logger).Log("msg", "unhandled standard request", "request", usb.StandardRequestName(req.Setup.Request))
		return nil, errors.Wrapf(ErrStall, "unhandled %s", usb.StandardRequestName(req.Setup.Request))
	}
	payload, err := fn(d, req)
	if errors.Is(err, errClassDescriptor) {
		return h.HandleClassDescriptor(req.Setup.DescriptorType(), req.Setup.DescriptorIndex(), req.Setup.Length)
	}
	return payload, err
}
