// SPDX-License-Identifier: GPL-2.0-only

// Package server exports one emulated device over USB/IP.
package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MatthiasValvekens/usbip-device-emulator/device"
	"github.com/efficientgo/core/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultShutdownTimeout = 5 * time.Second

type Option func(s *Server)

// WithMaxConnections caps concurrent sessions. Zero means unlimited.
func WithMaxConnections(n int) Option {
	return func(s *Server) {
		s.maxConnections = n
	}
}

// WithShutdownTimeout bounds how long Serve waits for open sessions after
// its context is cancelled before closing them.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

func WithLogger(logger log.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Server) {
		s.reg = reg
	}
}

// Server hands every accepted connection to its own session. All
// sessions share the same read-only profile.
type Server struct {
	profile         *device.Profile
	dispatcher      *device.Dispatcher
	logger          log.Logger
	reg             prometheus.Registerer
	maxConnections  int
	shutdownTimeout time.Duration
	metrics         *metrics

	connWg    sync.WaitGroup
	connCount atomic.Int64
}

func New(profile *device.Profile, opts ...Option) *Server {
	s := &Server{
		profile:         profile,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.NewNopLogger()
	}
	s.dispatcher = device.NewDispatcher(profile.Model(), s.logger)
	s.metrics = newMetrics(s.reg)
	return s
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections on l until ctx is cancelled, then waits for
// open sessions to finish, closing them once the shutdown timeout passes.
// Session failures are logged, never returned. Serve closes l.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	sessions, cancelSessions := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSessions()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = l.Close()
	}()

	_ = level.Info(s.logger).Log("msg", "serving usbip", "addr", l.Addr(), "busid", s.profile.Identity().BusID)
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				return errors.Wrap(err, "listener closed")
			}
			_ = level.Error(s.logger).Log("msg", "unable to accept connection", "err", err)
			continue
		}

		if s.maxConnections > 0 && s.connCount.Load() >= int64(s.maxConnections) {
			s.metrics.rejectedConnections.Inc()
			_ = level.Warn(s.logger).Log("msg", "maximum connections reached, dropping connection", "remote", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}

		s.connWg.Add(1)
		s.connCount.Add(1)
		go func() {
			defer s.connWg.Done()
			defer s.connCount.Add(-1)
			if err := s.ServeConn(sessions, conn); err != nil {
				_ = level.Warn(s.logger).Log("msg", "session failed", "remote", conn.RemoteAddr(), "err", err)
			}
		}()
	}

	if waitWithTimeout(&s.connWg, s.shutdownTimeout) {
		_ = level.Info(s.logger).Log("msg", "all sessions closed")
	} else {
		_ = level.Warn(s.logger).Log("msg", "shutdown timeout reached, closing open sessions", "open", s.connCount.Load())
		cancelSessions()
		s.connWg.Wait()
	}
	return nil
}

// ServeConn runs one session on conn and closes it. It returns the error
// that ended the session, or nil if the peer hung up or ctx was cancelled.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	s.metrics.sessionsTotal.Inc()
	s.metrics.sessionsActive.Inc()
	defer s.metrics.sessionsActive.Dec()

	sess := newSession(conn, s.profile, s.dispatcher, s.metrics, s.logger)
	_ = level.Debug(sess.logger).Log("msg", "session opened")
	err := sess.run(ctx)
	_ = level.Debug(sess.logger).Log("msg", "session closed")
	return err
}

// ActiveSessions returns the number of sessions being served.
func (s *Server) ActiveSessions() int {
	return int(s.connCount.Load())
}

func waitWithTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
