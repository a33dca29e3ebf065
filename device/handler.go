// SPDX-License-Identifier: GPL-2.0-only

// Package device binds a descriptor model to a device-class handler and
// dispatches control and data transfers between them.
package device

import (
	"context"

	"github.com/MatthiasValvekens/usbip-device-emulator/usb"
	"github.com/efficientgo/core/errors"
)

var (
	// ErrStall rejects a request. The host sees an empty reply with a
	// stall status; the session stays up.
	ErrStall = errors.New("request stalled")
	// ErrNoResponse means the handler has nothing to send for this URB.
	// No RET_SUBMIT is written.
	ErrNoResponse = errors.New("no response")
)

// ControlRequest is a decoded control transfer.
type ControlRequest struct {
	Setup usb.SetupPacket
	// Data holds the OUT data stage, if any.
	Data []byte
}

// Transfer is a transfer on a non-control endpoint.
type Transfer struct {
	Endpoint usb.EndpointDescriptor
	// Length is the host buffer size for IN transfers.
	Length uint32
	// Data holds the payload of OUT transfers.
	Data []byte
}

// Handler is the capability set of a device class. A Handler only sees
// requests the dispatcher could not answer from the descriptor model.
type Handler interface {
	// HandleClassControl answers a class request. Returning ErrStall
	// rejects it.
	HandleClassControl(ctx context.Context, req ControlRequest) ([]byte, error)
	// HandleClassDescriptor returns a class-specific descriptor, such as a
	// HID report descriptor, in response to GET_DESCRIPTOR.
	HandleClassDescriptor(t usb.DescriptorType, index uint8, length uint16) ([]byte, error)
	// HandleData serves a bulk or interrupt transfer. It may block until
	// data is due; ctx is cancelled when the session ends.
	HandleData(ctx context.Context, t Transfer) ([]byte, error)
}

// Attacher is implemented by handlers that keep per-session state. When
// a session imports the device it calls Attach once and uses the
// returned Handler for the rest of its lifetime; ctx ends with the session.
type Attacher interface {
	Attach(ctx context.Context) Handler
}

// Attach returns the handler a new session should use.
func Attach(ctx context.Context, h Handler) Handler {
	if a, ok := h.(Attacher); ok {
		return a.Attach(ctx)
	}
	return h
}
