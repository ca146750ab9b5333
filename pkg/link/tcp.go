// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// DefaultDialTimeout bounds TCP and WebSocket connection setup.
const DefaultDialTimeout = 10 * time.Second

// TCPOpener dials a transparent M-Bus to Ethernet gateway at addr
// ("host:port").
func TCPOpener(addr string, dialTimeout time.Duration) Opener {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		dialer := net.Dialer{Timeout: dialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
		}
		return conn, nil
	}
}

// NewTCPTransport is a StreamTransport over TCP.
func NewTCPTransport(addr string, dialTimeout time.Duration, base Config) *StreamTransport {
	base.Opener = TCPOpener(addr, dialTimeout)
	if base.Name == "" {
		base.Name = fmt.Sprintf("TCP: %s", addr)
	}
	return NewStreamTransport(base)
}
