// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package meterbus

import "fmt"

// Manufacturer is a packed 3-letter manufacturer code (EN 62056-21 FLAG id).
// Each letter is stored as letter-'A'+1 in 5 bits, first letter most
// significant.
type Manufacturer uint16

// ManufacturerAny is the wildcard matching any manufacturer.
const ManufacturerAny Manufacturer = 0xFFFF

// EncodeManufacturer packs a code of exactly three letters A-Z.
func EncodeManufacturer(code string) (Manufacturer, error) {
	if len(code) != 3 {
		return 0, fmt.Errorf("%w: %q (need 3 letters)", ErrInvalidManufacturerCode, code)
	}

	var m uint16
	for i := 0; i < 3; i++ {
		c := code[i]
		if c < 'A' || c > 'Z' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidManufacturerCode, code)
		}
		m = m<<5 | uint16(c-'A'+1)
	}
	return Manufacturer(m), nil
}

// MustEncodeManufacturer is like EncodeManufacturer but panics on error.
// Intended for constant codes.
func MustEncodeManufacturer(code string) Manufacturer {
	m, err := EncodeManufacturer(code)
	if err != nil {
		panic(fmt.Sprintf("meterbus: %v", err))
	}
	return m
}

// DecodeManufacturer unpacks a manufacturer field into its 3-letter code.
func DecodeManufacturer(m Manufacturer) (string, error) {
	if m == ManufacturerAny {
		return "", fmt.Errorf("%w: wildcard has no code", ErrInvalidManufacturerCode)
	}
	var code [3]byte
	v := uint16(m)
	for i := 2; i >= 0; i-- {
		letter := v & 0x1F
		if letter < 1 || letter > 26 {
			return "", fmt.Errorf("%w: 0x%04X", ErrInvalidManufacturerCode, uint16(m))
		}
		code[i] = byte(letter) - 1 + 'A'
		v >>= 5
	}
	if v != 0 {
		return "", fmt.Errorf("%w: 0x%04X", ErrInvalidManufacturerCode, uint16(m))
	}
	return string(code[:]), nil
}

// ManufacturerFromBytes reads the big-endian 2-byte field.
func ManufacturerFromBytes(hi, lo byte) Manufacturer {
	return Manufacturer(uint16(hi)<<8 | uint16(lo))
}

// Bytes returns the big-endian 2-byte field.
func (m Manufacturer) Bytes() [2]byte {
	return [2]byte{byte(m >> 8), byte(m)}
}

// IsAny reports whether m is the wildcard.
func (m Manufacturer) IsAny() bool {
	return m == ManufacturerAny
}

// String returns the 3-letter code, "ANY" for the wildcard, or the raw hex
// value when the field does not decode.
func (m Manufacturer) String() string {
	if m.IsAny() {
		return "ANY"
	}
	code, err := DecodeManufacturer(m)
	if err != nil {
		return fmt.Sprintf("0x%04X", uint16(m))
	}
	return code
}
