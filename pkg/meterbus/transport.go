// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package meterbus

import "context"

// Transport moves raw bytes to and from the bus. Implementations live in
// pkg/link; the Master never assumes serial or TCP.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Send(ctx context.Context, data []byte) error

	// Received delivers inbound frame attempts, one element per attempt.
	// The channel lives as long as the Transport and is not closed on
	// Disconnect.
	Received() <-chan []byte
}

// Direction of a traced frame
type Direction int

// Trace directions
const (
	DirectionTX Direction = iota
	DirectionRX
)

// String returns "TX" or "RX"
func (d Direction) String() string {
	if d == DirectionTX {
		return "TX"
	}
	return "RX"
}

// Tracer observes every frame the Master sends and every attempt it
// receives. decodeErr is set for inbound attempts that failed validation.
type Tracer interface {
	Trace(dir Direction, raw []byte, decodeErr error)
}

// TracerFunc adapts a function to the Tracer interface.
type TracerFunc func(dir Direction, raw []byte, decodeErr error)

// Trace implements Tracer
func (f TracerFunc) Trace(dir Direction, raw []byte, decodeErr error) {
	f(dir, raw, decodeErr)
}
