// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package meterbus

import "fmt"

// FrameKind identifies the wire shape of a frame.
type FrameKind int

// Frame kinds
const (
	KindAck FrameKind = iota
	KindShort
	KindControl
	KindLongFixedData
	KindLongVariableData
)

// String returns the kind name
func (k FrameKind) String() string {
	switch k {
	case KindAck:
		return "ACK"
	case KindShort:
		return "SHORT"
	case KindControl:
		return "CONTROL"
	case KindLongFixedData:
		return "LONG_FIXED"
	case KindLongVariableData:
		return "LONG_VARIABLE"
	default:
		return fmt.Sprintf("KIND_%d", int(k))
	}
}

// IsLong reports whether the kind carries a data payload.
func (k FrameKind) IsLong() bool {
	return k == KindLongFixedData || k == KindLongVariableData
}

// Frame is one of AckFrame, ShortFrame, ControlFrame or LongFrame.
// The set is closed; switches over Frame values handle every type.
type Frame interface {
	Kind() FrameKind
	frame()
}

// AckFrame is the single-character acknowledgement 0xE5.
type AckFrame struct{}

// ShortFrame carries a control field and an address.
type ShortFrame struct {
	Control Control
	Address PrimaryAddress
}

// ControlFrame is a long-format frame without data.
type ControlFrame struct {
	Control Control
	Address PrimaryAddress
	CI      ControlInformation
}

// LongFrame is a long-format frame with up to MaxDataSize data bytes.
// Its kind follows the CI field: fixed data for 0x73/0x77, variable
// data otherwise.
type LongFrame struct {
	Control Control
	Address PrimaryAddress
	CI      ControlInformation
	Data    []byte
}

func (AckFrame) frame()     {}
func (ShortFrame) frame()   {}
func (ControlFrame) frame() {}
func (LongFrame) frame()    {}

// Kind implements Frame
func (AckFrame) Kind() FrameKind { return KindAck }

// Kind implements Frame
func (ShortFrame) Kind() FrameKind { return KindShort }

// Kind implements Frame
func (ControlFrame) Kind() FrameKind { return KindControl }

// Kind implements Frame
func (f LongFrame) Kind() FrameKind {
	if f.CI.IsFixedData() {
		return KindLongFixedData
	}
	return KindLongVariableData
}

// NewShortFrame creates a SHORT frame.
func NewShortFrame(control Control, address PrimaryAddress) ShortFrame {
	return ShortFrame{Control: control, Address: address}
}

// NewControlFrame creates a CONTROL frame.
func NewControlFrame(control Control, ci ControlInformation, address PrimaryAddress) ControlFrame {
	return ControlFrame{Control: control, Address: address, CI: ci}
}

// NewLongFrame creates a LONG frame. The data slice is copied.
func NewLongFrame(control Control, ci ControlInformation, address PrimaryAddress, data []byte) LongFrame {
	d := make([]byte, len(data))
	copy(d, data)
	return LongFrame{Control: control, Address: address, CI: ci, Data: d}
}

// FrameAddress returns the address field of f. Ack frames carry none.
func FrameAddress(f Frame) (PrimaryAddress, bool) {
	switch v := f.(type) {
	case ShortFrame:
		return v.Address, true
	case ControlFrame:
		return v.Address, true
	case LongFrame:
		return v.Address, true
	}
	return 0, false
}

// emptyLongCI reports whether a long-format frame without data is a data
// response (decoded as LongFrame) rather than a ControlFrame.
func emptyLongCI(ci ControlInformation) bool {
	return ci.IsFixedData() || ci.IsVariableData()
}
