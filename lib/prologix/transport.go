// Copyright (c) 2011–2024 The wanglib developers. All rights reserved.
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package prologix

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.bug.st/serial"
)

// EthernetPort is the TCP port Prologix GPIB-Ethernet controllers listen on.
const EthernetPort = "1234"

// margin added to the GPIB read timeout for transport-level read timeouts,
// so the controller gives up before the host does.
const readMargin = 2 * time.Second

var errReadTimeout = timeoutError{}

type timeoutError struct{}

func (timeoutError) Error() string   { return "read timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// serialPort adapts go.bug.st/serial, which reports a read timeout as a zero
// length read, to an io.Reader that reports it as an error.
type serialPort struct {
	serial.Port
}

func (p serialPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == nil {
		return 0, errReadTimeout
	}
	return n, err
}

// OpenUSB opens a Prologix GPIB-USB controller on the given virtual serial
// port (e.g. /dev/ttyUSBgpib, or COM1 on Windows) and configures it.
func OpenUSB(port string, opts ...ControllerOption) (*Controller, error) {
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", port, err)
	}

	defaults := Controller{readTimeout: 500 * time.Millisecond}
	for _, opt := range opts {
		opt(&defaults)
	}
	if err := p.SetReadTimeout(defaults.readTimeout + readMargin); err != nil {
		p.Close()
		return nil, err
	}
	// flush whatever is hanging out in the buffer
	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, err
	}

	c, err := NewController(serialPort{p}, opts...)
	if err != nil {
		p.Close()
		return nil, err
	}
	c.closer = p
	return c, nil
}

// deadlineConn sets a fresh read deadline before every read.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c deadlineConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

// OpenEthernet connects to a Prologix GPIB-Ethernet controller at host (an
// IP address found with the Prologix Netfinder tool, optionally with a port)
// and configures it.
func OpenEthernet(ctx context.Context, host string, opts ...ControllerOption) (*Controller, error) {
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		var addrErr *net.AddrError
		if !errors.As(err, &addrErr) {
			return nil, fmt.Errorf("bad controller address %q: %w", host, err)
		}
		addr = net.JoinHostPort(host, EthernetPort)
	}

	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	defaults := Controller{readTimeout: 500 * time.Millisecond}
	for _, opt := range opts {
		opt(&defaults)
	}
	c, err := NewController(deadlineConn{Conn: conn, timeout: defaults.readTimeout + readMargin}, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.closer = conn
	return c, nil
}
