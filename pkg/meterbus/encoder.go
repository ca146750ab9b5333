// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package meterbus

import "fmt"

// Encode converts a frame to its wire form, computing length and checksum
// fields.
//
// A LongFrame without data is only accepted for data response CIs, and a
// ControlFrame is rejected for those CIs, so every encodable frame decodes
// back to the same type.
func Encode(f Frame) ([]byte, error) {
	switch v := f.(type) {
	case AckFrame:
		return []byte{AckByte}, nil

	case ShortFrame:
		c, a := byte(v.Control), byte(v.Address)
		return []byte{ShortStart, c, a, Checksum([]byte{c, a}), StopByte}, nil

	case ControlFrame:
		if emptyLongCI(v.CI) {
			return nil, fmt.Errorf("%w: control frame with data response CI 0x%02X", ErrMalformedFrame, byte(v.CI))
		}
		return encodeLong(v.Control, v.Address, v.CI, nil), nil

	case LongFrame:
		if len(v.Data) > MaxDataSize {
			return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(v.Data), MaxDataSize)
		}
		if len(v.Data) == 0 && !emptyLongCI(v.CI) {
			return nil, fmt.Errorf("%w: long frame without data, use a control frame", ErrMalformedFrame)
		}
		return encodeLong(v.Control, v.Address, v.CI, v.Data), nil

	case nil:
		return nil, fmt.Errorf("%w: nil frame", ErrMalformedFrame)

	default:
		return nil, fmt.Errorf("%w: unsupported frame type %T", ErrMalformedFrame, f)
	}
}

// MustEncode encodes a frame and panics on error.
// Intended for frames built from constants.
func MustEncode(f Frame) []byte {
	data, err := Encode(f)
	if err != nil {
		panic(fmt.Sprintf("meterbus: encode error: %v", err))
	}
	return data
}

// encodeLong builds the 0x68 L L 0x68 C A CI data CS 0x16 form.
func encodeLong(control Control, address PrimaryAddress, ci ControlInformation, data []byte) []byte {
	length := byte(controlFieldsSize + len(data))

	frame := make([]byte, 0, LongFrameMinSize+len(data))
	frame = append(frame, LongStart, length, length, LongStart)
	frame = append(frame, byte(control), byte(address), byte(ci))
	frame = append(frame, data...)

	// Checksum covers control through the last data byte
	frame = append(frame, Checksum(frame[4:]), StopByte)
	return frame
}
