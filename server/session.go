// SPDX-License-Identifier: GPL-2.0-only

package server

import (
	"bytes"
	"context"
	"io"
	"net"

	"github.com/MatthiasValvekens/usbip-device-emulator/device"
	"github.com/MatthiasValvekens/usbip-device-emulator/usbip"
	"github.com/efficientgo/core/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// maxOutLength bounds the OUT payload of a single CMD_SUBMIT.
const maxOutLength = 4 << 20

type state int

const (
	stateUnattached state = iota
	stateAttached
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateUnattached:
		return "unattached"
	case stateAttached:
		return "attached"
	default:
		return "closed"
	}
}

// session serves one connection. Requests and replies strictly alternate,
// so a session needs no locking of its own.
type session struct {
	conn       net.Conn
	profile    *device.Profile
	dispatcher *device.Dispatcher
	metrics    *metrics
	logger     log.Logger

	state state
	// handler is bound on import.
	handler device.Handler
}

func newSession(conn net.Conn, profile *device.Profile, dispatcher *device.Dispatcher, m *metrics, logger log.Logger) *session {
	return &session{
		conn:       conn,
		profile:    profile,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     log.With(logger, "remote", conn.RemoteAddr()),
		state:      stateUnattached,
	}
}

// run drives the state machine until the session closes. A peer hanging up
// between messages is a clean close and yields nil.
func (s *session) run(ctx context.Context) error {
	for s.state != stateClosed {
		var (
			next state
			err  error
		)
		switch s.state {
		case stateUnattached:
			next, err = s.handleOp(ctx)
		case stateAttached:
			next, err = s.handleURB(ctx)
		}
		if err != nil {
			s.state = stateClosed
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, usbip.ErrUnknownCommand) || errors.Is(err, usbip.ErrTruncated) {
				s.metrics.protocolErrorsTotal.Inc()
			}
			return err
		}
		if next != s.state {
			_ = level.Debug(s.logger).Log("msg", "session state changed", "from", s.state, "to", next)
		}
		s.state = next
	}
	return nil
}

func (s *session) handleOp(ctx context.Context) (state, error) {
	var hdr usbip.OpHeader
	if err := usbip.Read(s.conn, &hdr); err != nil {
		return stateClosed, err
	}
	if hdr.Version != usbip.ProtocolVersion {
		_ = level.Debug(s.logger).Log("msg", "unexpected protocol version", "version", hdr.Version)
	}

	switch hdr.Command {
	case usbip.OpReqDevlist:
		return stateUnattached, s.devlist()
	case usbip.OpReqImport:
		return s.importDevice(ctx, hdr)
	default:
		return stateClosed, errors.Wrapf(usbip.ErrUnknownCommand, "op %v", hdr.Command)
	}
}

func (s *session) devlist() error {
	ifaces := s.profile.InterfaceRecords()
	var buf bytes.Buffer
	msgs := []any{
		usbip.DevlistReplyHeader{
			OpHeader:   usbip.NewOpHeader(usbip.OpRepDevlist, usbip.OpStatusOk),
			NumDevices: 1,
		},
		s.profile.DeviceRecord(),
		ifaces,
	}
	for _, m := range msgs {
		if err := usbip.Write(&buf, m); err != nil {
			return errors.Wrap(err, "encoding device list")
		}
	}
	_ = level.Debug(s.logger).Log("msg", "device list requested")
	if _, err := s.conn.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "writing device list")
	}
	return nil
}

func (s *session) importDevice(ctx context.Context, hdr usbip.OpHeader) (state, error) {
	req := usbip.ImportRequest{OpHeader: hdr}
	if err := usbip.Read(s.conn, &req.BusID); err != nil {
		return stateClosed, errors.Wrap(err, "reading import request")
	}

	busID := req.BusIDString()
	exported := s.profile.Identity().BusID
	if busID != "" && busID != exported {
		_ = level.Info(s.logger).Log("msg", "import of unknown device", "busid", busID)
		nodev := usbip.NewOpHeader(usbip.OpRepImport, usbip.OpStatusNoDev)
		if err := usbip.Write(s.conn, nodev); err != nil {
			return stateClosed, errors.Wrap(err, "writing import reply")
		}
		return stateClosed, nil
	}

	reply := usbip.ImportReply{
		OpHeader: usbip.NewOpHeader(usbip.OpRepImport, usbip.OpStatusOk),
		Device:   s.profile.DeviceRecord(),
	}
	if err := usbip.Write(s.conn, reply); err != nil {
		return stateClosed, errors.Wrap(err, "writing import reply")
	}

	s.logger = log.With(s.logger, "busid", exported)
	s.dispatcher = s.dispatcher.WithLogger(s.logger)
	s.handler = device.Attach(ctx, s.profile.Handler())
	_ = level.Info(s.logger).Log("msg", "device attached")
	return stateAttached, nil
}

func (s *session) handleURB(ctx context.Context) (state, error) {
	var raw [48]byte
	if _, err := io.ReadFull(s.conn, raw[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return stateClosed, errors.Wrap(usbip.ErrTruncated, "reading urb command")
		}
		return stateClosed, err
	}
	var hdr usbip.URBHeader
	if err := usbip.Unmarshal(raw[:], &hdr); err != nil {
		return stateClosed, err
	}

	switch hdr.Command {
	case usbip.CmdSubmit:
		var cmd usbip.CmdSubmitMessage
		if err := usbip.Unmarshal(raw[:], &cmd); err != nil {
			return stateClosed, err
		}
		return stateAttached, s.submit(ctx, cmd)
	case usbip.CmdUnlink:
		var cmd usbip.CmdUnlinkMessage
		if err := usbip.Unmarshal(raw[:], &cmd); err != nil {
			return stateClosed, err
		}
		// Every URB is answered before the next is read, so there is never
		// anything pending to cancel.
		s.metrics.unlinksTotal.Inc()
		_ = level.Debug(s.logger).Log("msg", "ignoring unlink", "seqnum", cmd.SeqNum, "target", cmd.UnlinkSeqNum)
		return stateAttached, nil
	case 0:
		_ = level.Debug(s.logger).Log("msg", "ignoring empty urb command", "seqnum", hdr.SeqNum)
		return stateAttached, nil
	default:
		return stateClosed, errors.Wrapf(usbip.ErrUnknownCommand, "urb %v", hdr.Command)
	}
}

func (s *session) submit(ctx context.Context, cmd usbip.CmdSubmitMessage) error {
	urb := device.URB{
		Endpoint:  cmd.Endpoint,
		Direction: cmd.Direction,
		Length:    cmd.TransferBufferLength,
		Setup:     cmd.Setup,
	}
	if cmd.Direction == usbip.DirOut && cmd.TransferBufferLength > 0 {
		if cmd.TransferBufferLength > maxOutLength {
			return errors.Wrapf(usbip.ErrUnknownCommand, "OUT transfer of %d bytes", cmd.TransferBufferLength)
		}
		urb.Data = make([]byte, cmd.TransferBufferLength)
		if _, err := io.ReadFull(s.conn, urb.Data); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return errors.Wrap(usbip.ErrTruncated, "reading OUT data")
			}
			return err
		}
	}

	resp := s.dispatcher.Dispatch(ctx, s.handler, urb)
	s.metrics.urbsTotal.WithLabelValues(endpointKind(urb), outcome(resp)).Inc()
	if resp.Silent {
		_ = level.Debug(s.logger).Log("msg", "no reply for urb", "seqnum", cmd.SeqNum, "ep", cmd.Endpoint)
		return nil
	}

	ret := usbip.RetSubmitMessage{
		URBHeader: usbip.URBHeader{
			Command: usbip.RetSubmit,
			SeqNum:  cmd.SeqNum,
		},
		Status:       resp.Status,
		ActualLength: resp.ActualLength,
	}
	var buf bytes.Buffer
	if err := usbip.Write(&buf, ret); err != nil {
		return errors.Wrap(err, "encoding submit reply")
	}
	buf.Write(resp.Data)
	if _, err := s.conn.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "writing submit reply")
	}
	return nil
}

func endpointKind(urb device.URB) string {
	if urb.Endpoint == 0 {
		return "control"
	}
	return "data"
}

func outcome(resp device.Response) string {
	switch {
	case resp.Silent:
		return outcomeSilent
	case resp.Status != usbip.StatusOK:
		return outcomeStall
	default:
		return outcomeOK
	}
}
