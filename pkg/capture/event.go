// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture records raw M-Bus traffic to a CBOR trace file and reads
// it back. A trace holds the bytes as they crossed the wire together with
// the decode result, for diagnosing bus problems after the fact.
package capture

import (
	"time"

	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

// Event is one frame attempt seen by the master.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the frame was sent or received.
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies one recorder run (UUID).
	SessionID string `cbor:"2,keyasint"`

	Direction meterbus.Direction `cbor:"3,keyasint"`

	// Raw bytes exactly as sent or received.
	Raw []byte `cbor:"4,keyasint"`

	// Kind is the decoded frame kind, empty when decoding failed.
	Kind string `cbor:"5,keyasint,omitempty"`

	// Error is the decode error for rejected attempts.
	Error string `cbor:"6,keyasint,omitempty"`

	// Transport describes the connection, e.g. "Serial: /dev/ttyUSB0 @ 2400 baud".
	Transport string `cbor:"7,keyasint,omitempty"`
}

// Valid reports whether the attempt decoded as a frame.
func (e Event) Valid() bool {
	return e.Error == ""
}

// Frame decodes the raw bytes again.
func (e Event) Frame() (meterbus.Frame, error) {
	return meterbus.Decode(e.Raw)
}
