// SPDX-License-Identifier: GPL-2.0-only

package usbip

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/efficientgo/core/errors"
)

const defaultReplyTimeout = 5 * time.Second

func (t Target) String() string {
	port := t.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

func (t Target) Dial(ctx context.Context) (usbipConn *Connection, err error) {
	targetString := t.String()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", targetString)

	if err != nil {
		return nil, errors.Wrap(
			err,
			"Failed to connect to USB/IP target at "+targetString,
		)
	}

	usbipConn = NewConnection(conn)
	usbipConn.Target = t
	return usbipConn, nil
}

// NewConnection wraps an established stream, such as one end of a net.Pipe.
func NewConnection(conn net.Conn) *Connection {
	return &Connection{
		connection: conn,
		timeout:    defaultReplyTimeout,
	}
}

// SetReplyTimeout bounds how long each request waits for its reply.
// Zero disables the deadline.
func (c *Connection) SetReplyTimeout(d time.Duration) {
	c.timeout = d
}

func (c *Connection) armDeadline() error {
	if c.timeout == 0 {
		return c.connection.SetReadDeadline(time.Time{})
	}
	return c.connection.SetReadDeadline(time.Now().Add(c.timeout))
}

func (c *Connection) Close() {
	_ = c.connection.Close()
}
