// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package meterbus implements the master side of the wired M-Bus protocol
// (EN 13757-2 link layer, EN 13757-3 application framing).
//
// The package provides frame encoding and decoding with checksum validation,
// control field semantics, primary and secondary addressing, and a Master
// engine that drives request/response exchanges over a pluggable Transport.
// Interpretation of DIF/VIF data records is left to the caller.
package meterbus

import "time"

// Frame markers
const (
	AckByte    = 0xE5
	ShortStart = 0x10
	LongStart  = 0x68
	StopByte   = 0x16
)

// Frame size limits
const (
	AckFrameSize     = 1
	ShortFrameSize   = 5
	ControlFrameSize = 9
	LongFrameMinSize = ControlFrameSize
	LongHeaderSize   = 6 // start, length1, length2, start, ..., checksum, stop
	MaxDataSize      = 252
	MaxFrameSize     = ControlFrameSize + MaxDataSize

	// controlFieldsSize counts control, address and control information,
	// the bytes covered by the length field besides data.
	controlFieldsSize = 3
)

// Default timing
const (
	DefaultTimeout = 2 * time.Second
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateShort
	stateLength
	stateLong
)
