// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package meterbus

import (
	"errors"
	"testing"
)

// ============================================================
// Manufacturer Tests
// ============================================================

func TestEncodeManufacturer_KnownCodes(t *testing.T) {
	tests := []struct {
		code     string
		expected Manufacturer
	}{
		{"ABC", 0x0443},
		{"ELS", 0x1593},
		{"KAM", 0x2C2D},
		{"AAA", 0x0421},
		{"ZZZ", 0x6B5A},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			m, err := EncodeManufacturer(tt.code)
			if err != nil {
				t.Fatalf("EncodeManufacturer failed: %v", err)
			}
			if m != tt.expected {
				t.Errorf("expected 0x%04X, got 0x%04X", uint16(tt.expected), uint16(m))
			}
			b := m.Bytes()
			if b[0] != byte(tt.expected>>8) || b[1] != byte(tt.expected) {
				t.Errorf("Bytes should be big-endian, got % X", b)
			}
		})
	}
}

func TestManufacturer_RoundTrip(t *testing.T) {
	for a := 'A'; a <= 'Z'; a++ {
		for _, b := range []rune{'A', 'M', 'Z'} {
			for _, c := range []rune{'A', 'N', 'Z'} {
				code := string([]rune{a, b, c})
				m, err := EncodeManufacturer(code)
				if err != nil {
					t.Fatalf("EncodeManufacturer(%q) failed: %v", code, err)
				}
				got, err := DecodeManufacturer(m)
				if err != nil {
					t.Fatalf("DecodeManufacturer(0x%04X) failed: %v", uint16(m), err)
				}
				if got != code {
					t.Errorf("expected %q, got %q", code, got)
				}
				if ManufacturerFromBytes(m.Bytes()[0], m.Bytes()[1]) != m {
					t.Errorf("%q: byte round trip failed", code)
				}
			}
		}
	}
}

func TestEncodeManufacturer_Invalid(t *testing.T) {
	for _, code := range []string{"", "AB", "ABCD", "abc", "A1C", "AB@", "[BC"} {
		if _, err := EncodeManufacturer(code); !errors.Is(err, ErrInvalidManufacturerCode) {
			t.Errorf("EncodeManufacturer(%q): expected ErrInvalidManufacturerCode, got %v", code, err)
		}
	}
}

func TestDecodeManufacturer_Invalid(t *testing.T) {
	for _, m := range []Manufacturer{ManufacturerAny, 0x0000, 0x8443, 0x041B} {
		if _, err := DecodeManufacturer(m); !errors.Is(err, ErrInvalidManufacturerCode) {
			t.Errorf("DecodeManufacturer(0x%04X): expected ErrInvalidManufacturerCode, got %v", uint16(m), err)
		}
	}
}

func TestManufacturer_String(t *testing.T) {
	if got := MustEncodeManufacturer("KAM").String(); got != "KAM" {
		t.Errorf("expected KAM, got %s", got)
	}
	if got := ManufacturerAny.String(); got != "ANY" {
		t.Errorf("expected ANY, got %s", got)
	}
	if got := Manufacturer(0).String(); got != "0x0000" {
		t.Errorf("expected 0x0000, got %s", got)
	}
}

// ============================================================
// Primary Address Tests
// ============================================================

func TestPrimaryAddress(t *testing.T) {
	tests := []struct {
		addr      PrimaryAddress
		valid     bool
		broadcast bool
	}{
		{0, true, false},
		{1, true, false},
		{250, true, false},
		{251, false, false},
		{AddressNetworkLayer, false, false},
		{AddressBroadcastReply, false, true},
		{AddressBroadcast, false, true},
	}
	for _, tt := range tests {
		if tt.addr.Valid() != tt.valid {
			t.Errorf("%s: Valid() = %v", tt.addr, tt.addr.Valid())
		}
		if tt.addr.IsBroadcast() != tt.broadcast {
			t.Errorf("%s: IsBroadcast() = %v", tt.addr, tt.addr.IsBroadcast())
		}
	}
}

func TestParsePrimaryAddress(t *testing.T) {
	tests := []struct {
		input    string
		expected PrimaryAddress
		ok       bool
	}{
		{"5", 5, true},
		{" 250 ", 250, true},
		{"0xFE", 254, true},
		{"256", 0, false},
		{"-1", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		got, err := ParsePrimaryAddress(tt.input)
		if tt.ok && (err != nil || got != tt.expected) {
			t.Errorf("ParsePrimaryAddress(%q): expected %d, got %d (%v)", tt.input, tt.expected, got, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("ParsePrimaryAddress(%q): expected ErrInvalidAddress, got %v", tt.input, err)
		}
	}
}

func TestParseDeviceType(t *testing.T) {
	for input, expected := range map[string]DeviceType{
		"water":     DeviceTypeWater,
		"Heat":      DeviceTypeHeat,
		"any":       DeviceTypeAny,
		"0x07":      DeviceTypeWater,
		"2":         DeviceTypeElectricity,
		"hot_water": DeviceTypeHotWater,
	} {
		got, err := ParseDeviceType(input)
		if err != nil || got != expected {
			t.Errorf("ParseDeviceType(%q): expected %s, got %s (%v)", input, expected, got, err)
		}
	}
	if _, err := ParseDeviceType("plasma"); err == nil {
		t.Error("expected error for unknown device type")
	}
}

// ============================================================
// Secondary Address Tests
// ============================================================

func TestNewSecondaryAddress(t *testing.T) {
	addr, err := NewSecondaryAddress("12345678", MustEncodeManufacturer("ELS"), DeviceTypeWater)
	if err != nil {
		t.Fatalf("NewSecondaryAddress failed: %v", err)
	}
	if addr.ID != [4]byte{0x21, 0x43, 0x65, 0x87} {
		t.Errorf("unexpected id % X", addr.ID)
	}
	if addr.Version != VersionAny {
		t.Errorf("version should default to the wildcard, got 0x%02X", addr.Version)
	}

	expected := [SecondaryAddressSize]byte{0x21, 0x43, 0x65, 0x87, 0x15, 0x93, 0xFF, 0x07}
	if addr.Bytes() != expected {
		t.Errorf("expected % X, got % X", expected, addr.Bytes())
	}
	if addr.Serial() != "12345678" {
		t.Errorf("expected serial 12345678, got %s", addr.Serial())
	}
}

func TestNewSecondaryAddress_ShortSerial(t *testing.T) {
	addr, err := NewSecondaryAddress("42", ManufacturerAny, DeviceTypeAny)
	if err != nil {
		t.Fatalf("NewSecondaryAddress failed: %v", err)
	}
	if addr.Serial() != "00000042" {
		t.Errorf("expected zero-padded serial, got %s", addr.Serial())
	}
}

func TestNewSecondaryAddress_Invalid(t *testing.T) {
	if _, err := NewSecondaryAddress("123456789", ManufacturerAny, DeviceTypeAny); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress for 9 digits, got %v", err)
	}
	if _, err := NewSecondaryAddress("1234567X", ManufacturerAny, DeviceTypeAny); !errors.Is(err, ErrInvalidDigit) {
		t.Errorf("expected ErrInvalidDigit, got %v", err)
	}
}

func TestSecondaryAddress_ParseRoundTrip(t *testing.T) {
	addr, err := NewSecondaryAddress("87654321", MustEncodeManufacturer("KAM"), DeviceTypeHeat)
	if err != nil {
		t.Fatalf("NewSecondaryAddress failed: %v", err)
	}
	addr.Version = 0x1A

	b := addr.Bytes()
	parsed, err := ParseSecondaryAddress(b[:])
	if err != nil {
		t.Fatalf("ParseSecondaryAddress failed: %v", err)
	}
	if parsed != addr {
		t.Errorf("byte round trip: expected %s, got %s", addr, parsed)
	}

	text := addr.String()
	if text != "876543212C2D1A04" {
		t.Errorf("unexpected text form %s", text)
	}
	parsed, err = ParseSecondaryAddressString(text)
	if err != nil {
		t.Fatalf("ParseSecondaryAddressString failed: %v", err)
	}
	if parsed != addr {
		t.Errorf("text round trip: expected %s, got %s", addr, parsed)
	}

	if _, err := ParseSecondaryAddress(b[:7]); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress for short input, got %v", err)
	}
	if _, err := ParseSecondaryAddressString("1234"); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress for short text, got %v", err)
	}
}

func TestSecondaryAddress_Matches(t *testing.T) {
	kam := MustEncodeManufacturer("KAM")
	device, _ := NewSecondaryAddress("12345678", kam, DeviceTypeHeat)
	device.Version = 0x01

	mustAddr := func(serial string, man Manufacturer, dt DeviceType) SecondaryAddress {
		a, err := NewSecondaryAddress(serial, man, dt)
		if err != nil {
			t.Fatalf("NewSecondaryAddress(%q) failed: %v", serial, err)
		}
		return a
	}

	tests := []struct {
		name     string
		pattern  SecondaryAddress
		expected bool
	}{
		{"fully wildcarded", AnySecondaryAddress, true},
		{"exact", device, true},
		{"serial only", mustAddr("12345678", ManufacturerAny, DeviceTypeAny), true},
		{"serial prefix wildcard", mustAddr("1234FFFF", ManufacturerAny, DeviceTypeAny), true},
		{"single digit wildcard", mustAddr("1234567F", kam, DeviceTypeHeat), true},
		{"other serial", mustAddr("12345679", ManufacturerAny, DeviceTypeAny), false},
		{"other manufacturer", mustAddr("FFFFFFFF", MustEncodeManufacturer("ELS"), DeviceTypeAny), false},
		{"other type", mustAddr("FFFFFFFF", ManufacturerAny, DeviceTypeWater), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pattern.Matches(device); got != tt.expected {
				t.Errorf("%s.Matches(%s) = %v", tt.pattern, device, got)
			}
			if got := device.Matches(tt.pattern); got != tt.expected {
				t.Errorf("match should be symmetric")
			}
		})
	}

	otherVersion := device
	otherVersion.Version = 0x02
	if device.Matches(otherVersion) {
		t.Error("different versions should not match")
	}
}

func TestSecondaryAddress_WireBytes(t *testing.T) {
	addr, err := NewSecondaryAddress("12345678", MustEncodeManufacturer("KAM"), DeviceTypeHeat)
	if err != nil {
		t.Fatalf("NewSecondaryAddress failed: %v", err)
	}

	expected := [SecondaryAddressSize]byte{0x78, 0x56, 0x34, 0x12, 0x2D, 0x2C, 0xFF, 0x04}
	if addr.WireBytes() != expected {
		t.Errorf("expected % X, got % X", expected, addr.WireBytes())
	}

	b := addr.WireBytes()
	parsed, err := ParseSecondaryAddressWire(b[:])
	if err != nil {
		t.Fatalf("ParseSecondaryAddressWire failed: %v", err)
	}
	if parsed != addr {
		t.Errorf("wire round trip: expected %s, got %s", addr, parsed)
	}

	// A selection built from a meter's header repeats the header bytes
	header := []byte{0x78, 0x56, 0x34, 0x12, 0x2D, 0x2C, 0x1A, 0x04}
	parsed, err = ParseSecondaryAddressWire(header)
	if err != nil {
		t.Fatalf("ParseSecondaryAddressWire failed: %v", err)
	}
	if parsed.String() != "123456782C2D1A04" {
		t.Errorf("unexpected address %s", parsed)
	}
	if b := parsed.WireBytes(); string(b[:]) != string(header) {
		t.Errorf("expected % X, got % X", header, b)
	}

	if _, err := ParseSecondaryAddressWire(header[:7]); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress for short input, got %v", err)
	}
}

func TestSecondaryAddress_WireBytesWildcard(t *testing.T) {
	addr, err := ParseSecondaryAddressString("1234FFFFFFFFFFFF")
	if err != nil {
		t.Fatalf("ParseSecondaryAddressString failed: %v", err)
	}

	expected := [SecondaryAddressSize]byte{0xFF, 0xFF, 0x34, 0x12, 0xFF, 0xFF, 0xFF, 0xFF}
	if addr.WireBytes() != expected {
		t.Errorf("expected % X, got % X", expected, addr.WireBytes())
	}
}
