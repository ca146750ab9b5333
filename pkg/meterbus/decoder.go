// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package meterbus

import "fmt"

// Decode parses one complete frame attempt. The whole buffer is treated as a
// single frame: trailing or missing bytes make it malformed. Length and
// checksum fields are only validated; the payload is taken from the bytes
// actually received.
func Decode(b []byte) (Frame, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrMalformedFrame)
	}

	switch b[0] {
	case AckByte:
		if len(b) != AckFrameSize {
			return nil, fmt.Errorf("%w: ack with %d trailing bytes", ErrMalformedFrame, len(b)-AckFrameSize)
		}
		return AckFrame{}, nil

	case ShortStart:
		return decodeShort(b)

	case LongStart:
		return decodeLong(b)

	default:
		return nil, fmt.Errorf("%w: unknown start byte 0x%02X", ErrMalformedFrame, b[0])
	}
}

func decodeShort(b []byte) (Frame, error) {
	if len(b) != ShortFrameSize {
		return nil, fmt.Errorf("%w: short frame size %d (want %d)", ErrMalformedFrame, len(b), ShortFrameSize)
	}
	if b[4] != StopByte {
		return nil, fmt.Errorf("%w: stop byte 0x%02X", ErrMalformedFrame, b[4])
	}
	if calculated := Checksum(b[1:3]); calculated != b[3] {
		return nil, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrChecksumMismatch, calculated, b[3])
	}
	return ShortFrame{Control: Control(b[1]), Address: PrimaryAddress(b[2])}, nil
}

func decodeLong(b []byte) (Frame, error) {
	n := len(b)
	if n < LongFrameMinSize {
		return nil, fmt.Errorf("%w: long frame size %d (min %d)", ErrMalformedFrame, n, LongFrameMinSize)
	}
	if b[n-1] != StopByte {
		return nil, fmt.Errorf("%w: stop byte 0x%02X", ErrMalformedFrame, b[n-1])
	}
	if b[3] != LongStart {
		return nil, fmt.Errorf("%w: second start byte 0x%02X", ErrMalformedFrame, b[3])
	}
	if b[1] != b[2] {
		return nil, fmt.Errorf("%w: length fields differ (0x%02X != 0x%02X)", ErrMalformedFrame, b[1], b[2])
	}
	if int(b[1]) != n-LongHeaderSize {
		return nil, fmt.Errorf("%w: length field %d does not match %d received bytes", ErrMalformedFrame, b[1], n-LongHeaderSize)
	}
	if calculated := Checksum(b[4 : n-2]); calculated != b[n-2] {
		return nil, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrChecksumMismatch, calculated, b[n-2])
	}

	control := Control(b[4])
	address := PrimaryAddress(b[5])
	ci := ControlInformation(b[6])

	if n == ControlFrameSize && !emptyLongCI(ci) {
		return ControlFrame{Control: control, Address: address, CI: ci}, nil
	}

	data := make([]byte, n-ControlFrameSize)
	copy(data, b[7:n-2])
	return LongFrame{Control: control, Address: address, CI: ci, Data: data}, nil
}

// StreamDecoder splits a raw byte stream into frame attempts. It only sizes
// frames from their start and length bytes; validation is left to Decode.
type StreamDecoder struct {
	state   int
	buffer  []byte
	need    int
	skipped int
}

// NewStreamDecoder creates a new stream decoder
func NewStreamDecoder() *StreamDecoder {
	return &StreamDecoder{
		state:  stateIdle,
		buffer: make([]byte, 0, MaxFrameSize),
	}
}

// Reset discards any partial frame
func (d *StreamDecoder) Reset() {
	d.state = stateIdle
	d.buffer = d.buffer[:0]
	d.need = 0
}

// Skipped returns the number of noise bytes discarded between frames.
func (d *StreamDecoder) Skipped() int {
	return d.skipped
}

// Pending reports whether a partial frame is buffered.
func (d *StreamDecoder) Pending() bool {
	return d.state != stateIdle
}

// Feed runs data through the decoder and returns every completed attempt.
func (d *StreamDecoder) Feed(data []byte) [][]byte {
	var out [][]byte
	for _, b := range data {
		if attempt := d.DecodeByte(b); attempt != nil {
			out = append(out, attempt)
		}
	}
	return out
}

// Flush returns the buffered partial frame as an attempt (for example after
// an inter-character timeout) and resets the decoder. Returns nil when idle.
func (d *StreamDecoder) Flush() []byte {
	if d.state == stateIdle {
		return nil
	}
	return d.emit()
}

// DecodeByte processes a single byte. It returns a completed frame attempt
// or nil while a frame is incomplete.
func (d *StreamDecoder) DecodeByte(b byte) []byte {
	switch d.state {
	case stateIdle:
		switch b {
		case AckByte:
			return []byte{AckByte}
		case ShortStart:
			d.buffer = append(d.buffer[:0], b)
			d.need = ShortFrameSize
			d.state = stateShort
		case LongStart:
			d.buffer = append(d.buffer[:0], b)
			d.state = stateLength
		default:
			d.skipped++
		}
		return nil

	case stateShort, stateLong:
		d.buffer = append(d.buffer, b)
		if len(d.buffer) >= d.need {
			return d.emit()
		}
		return nil

	case stateLength:
		d.buffer = append(d.buffer, b)
		if b < controlFieldsSize {
			// Cannot be a valid frame; hand it over for rejection
			return d.emit()
		}
		d.need = int(b) + LongHeaderSize
		d.state = stateLong
		return nil

	default:
		d.Reset()
		return nil
	}
}

func (d *StreamDecoder) emit() []byte {
	attempt := make([]byte, len(d.buffer))
	copy(attempt, d.buffer)
	d.Reset()
	return attempt
}
