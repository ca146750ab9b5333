// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package meterbus

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Header sizes defined by EN 13757-3
const (
	VariableHeaderSize = 12
	FixedHeaderSize    = 8
)

// Packet is the application layer payload of a long frame. The data bytes
// are handed to the consumer intact; DIF/VIF records are not interpreted.
type Packet struct {
	Address   PrimaryAddress
	Control   Control
	CI        ControlInformation
	Kind      FrameKind
	Data      []byte
	Timestamp time.Time
}

// Packet extracts the payload of f. The data slice is copied.
func (f LongFrame) Packet() *Packet {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return &Packet{
		Address:   f.Address,
		Control:   f.Control,
		CI:        f.CI,
		Kind:      f.Kind(),
		Data:      data,
		Timestamp: time.Now(),
	}
}

// VariableHeader is the fixed 12-byte header in front of variable data
// records.
type VariableHeader struct {
	Device       SecondaryAddress
	AccessNumber byte
	Status       byte
	Signature    uint16
}

// VariableHeader parses the header of a variable data response.
//
// On the wire the identification number is 4 BCD bytes least significant
// first, followed by the manufacturer (little-endian), version and medium.
// The returned Device uses the same id layout as NewSecondaryAddress, so it
// can be compared with Matches. Ids with non-decimal nibbles are kept raw.
func (p *Packet) VariableHeader() (VariableHeader, error) {
	if !p.CI.IsVariableData() {
		return VariableHeader{}, fmt.Errorf("CI %s does not carry a variable data header", p.CI)
	}
	if len(p.Data) < VariableHeaderSize {
		return VariableHeader{}, fmt.Errorf("%w: variable data header needs %d bytes, got %d",
			ErrMalformedFrame, VariableHeaderSize, len(p.Data))
	}
	d := p.Data
	device := SecondaryAddress{
		Manufacturer: Manufacturer(binary.LittleEndian.Uint16(d[4:6])),
		Version:      d[6],
		DeviceType:   DeviceType(d[7]),
	}
	if serial, err := BCDToString(d[0:4], true, false); err == nil {
		addr, err := NewSecondaryAddress(serial, device.Manufacturer, device.DeviceType)
		if err != nil {
			return VariableHeader{}, err
		}
		addr.Version = device.Version
		device = addr
	} else {
		copy(device.ID[:], d[0:4])
	}

	h := VariableHeader{
		Device:       device,
		AccessNumber: d[8],
		Status:       d[9],
		Signature:    binary.LittleEndian.Uint16(d[10:12]),
	}
	return h, nil
}

// FixedHeader is the header of a fixed data response.
type FixedHeader struct {
	ID           [4]byte
	AccessNumber byte
	Status       byte
	MediumUnit   uint16
}

// IDString returns the identification number, most significant digit first.
func (h FixedHeader) IDString() string {
	return fmt.Sprintf("%02X%02X%02X%02X", h.ID[3], h.ID[2], h.ID[1], h.ID[0])
}

// FixedHeader parses the header of a fixed data response.
func (p *Packet) FixedHeader() (FixedHeader, error) {
	if !p.CI.IsFixedData() {
		return FixedHeader{}, fmt.Errorf("CI %s does not carry a fixed data header", p.CI)
	}
	if len(p.Data) < FixedHeaderSize {
		return FixedHeader{}, fmt.Errorf("%w: fixed data header needs %d bytes, got %d",
			ErrMalformedFrame, FixedHeaderSize, len(p.Data))
	}
	d := p.Data
	h := FixedHeader{
		AccessNumber: d[4],
		Status:       d[5],
		MediumUnit:   binary.LittleEndian.Uint16(d[6:8]),
	}
	copy(h.ID[:], d[0:4])
	return h, nil
}

// Records returns the bytes following the data header, where the DIF/VIF
// records (or fixed counters) start. Unknown CIs return all data.
func (p *Packet) Records() []byte {
	switch {
	case p.CI.IsVariableData() && len(p.Data) >= VariableHeaderSize:
		return p.Data[VariableHeaderSize:]
	case p.CI.IsFixedData() && len(p.Data) >= FixedHeaderSize:
		return p.Data[FixedHeaderSize:]
	}
	return p.Data
}
