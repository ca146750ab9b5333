// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package meterbus

import (
	"errors"
	"fmt"
)

// Encoding-time validation errors. These never reach the transport.
var (
	ErrInvalidDigit            = errors.New("invalid BCD digit")
	ErrOutOfRange              = errors.New("BCD nibble out of range")
	ErrInvalidManufacturerCode = errors.New("invalid manufacturer code")
	ErrInvalidAddress          = errors.New("invalid address")
)

// Decode-time validation errors. The master absorbs these while waiting.
var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrPayloadTooLarge is a malformed frame detected before encoding.
	ErrPayloadTooLarge = fmt.Errorf("%w: payload too large", ErrMalformedFrame)
)

// Operation errors surfaced by the Master.
var (
	ErrTimeout      = errors.New("timeout waiting for response")
	ErrNotConnected = errors.New("transport not connected")
)

// TransportError wraps a failure reported by the Transport. The original
// error is kept intact and reachable through Unwrap.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying transport error
func (e *TransportError) Unwrap() error {
	return e.Err
}

func transportError(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
