// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package meterbus

import (
	"bytes"
	"errors"
	"testing"
)

func TestDigitToBCD(t *testing.T) {
	for c := '0'; c <= '9'; c++ {
		n, err := DigitToBCD(c)
		if err != nil {
			t.Fatalf("DigitToBCD(%q) failed: %v", c, err)
		}
		if n != byte(c-'0') {
			t.Errorf("DigitToBCD(%q): expected %d, got %d", c, c-'0', n)
		}
	}
	for _, c := range []rune{'F', 'f'} {
		n, err := DigitToBCD(c)
		if err != nil || n != WildcardNibble {
			t.Errorf("DigitToBCD(%q): expected wildcard, got %d (%v)", c, n, err)
		}
	}
	for _, c := range []rune{'A', 'e', ' ', '/', ':'} {
		if _, err := DigitToBCD(c); !errors.Is(err, ErrInvalidDigit) {
			t.Errorf("DigitToBCD(%q): expected ErrInvalidDigit, got %v", c, err)
		}
	}
}

func TestNibbleToDigit(t *testing.T) {
	for n := byte(0); n <= 9; n++ {
		c, err := NibbleToDigit(n)
		if err != nil || c != rune('0'+n) {
			t.Errorf("NibbleToDigit(%d): got %q (%v)", n, c, err)
		}
	}
	for _, n := range []byte{0xA, 0xF, 0x10} {
		if _, err := NibbleToDigit(n); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("NibbleToDigit(0x%X): expected ErrOutOfRange, got %v", n, err)
		}
	}
}

func TestStringToBCD(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		reverse      bool
		littleEndian bool
		expected     []byte
	}{
		{"empty", "", false, false, []byte{}},
		{"big endian", "1234", false, false, []byte{0x12, 0x34}},
		{"big endian reversed", "1234", true, false, []byte{0x34, 0x12}},
		{"little endian", "1234", false, true, []byte{0x43, 0x21}},
		{"little endian reversed", "1234", true, true, []byte{0x21, 0x43}},
		{"odd length padded", "123", false, false, []byte{0x01, 0x23}},
		{"wildcards", "12FF", false, false, []byte{0x12, 0xFF}},
		{"serial number", "12345678", true, true, []byte{0x21, 0x43, 0x65, 0x87}},
		{"wire id", "12345678", true, false, []byte{0x78, 0x56, 0x34, 0x12}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StringToBCD(tt.input, tt.reverse, tt.littleEndian)
			if err != nil {
				t.Fatalf("StringToBCD failed: %v", err)
			}
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("expected % X, got % X", tt.expected, got)
			}
		})
	}
}

func TestStringToBCD_InvalidDigit(t *testing.T) {
	if _, err := StringToBCD("12x4", false, false); !errors.Is(err, ErrInvalidDigit) {
		t.Errorf("expected ErrInvalidDigit, got %v", err)
	}
}

func TestBCD_RoundTrip(t *testing.T) {
	inputs := []string{"00", "1234", "98765432", "FFFF", "12FF34FF", "0099"}
	flags := []struct{ reverse, littleEndian bool }{
		{false, false}, {true, false}, {false, true}, {true, true},
	}

	for _, s := range inputs {
		for _, f := range flags {
			b, err := StringToBCD(s, f.reverse, f.littleEndian)
			if err != nil {
				t.Fatalf("StringToBCD(%q) failed: %v", s, err)
			}
			got, err := BCDToString(b, f.reverse, f.littleEndian)
			if err != nil {
				t.Fatalf("BCDToString(% X) failed: %v", b, err)
			}
			if got != s {
				t.Errorf("%q reverse=%v le=%v: round trip gave %q", s, f.reverse, f.littleEndian, got)
			}
		}
	}
}

func TestBCD_RoundTripOddLength(t *testing.T) {
	b, err := StringToBCD("12345", true, true)
	if err != nil {
		t.Fatalf("StringToBCD failed: %v", err)
	}
	got, err := BCDToString(b, true, true)
	if err != nil {
		t.Fatalf("BCDToString failed: %v", err)
	}
	if got != "012345" {
		t.Errorf("expected 012345, got %q", got)
	}
}

func TestBCDToString_OutOfRange(t *testing.T) {
	if _, err := BCDToString([]byte{0x1A}, false, false); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}
