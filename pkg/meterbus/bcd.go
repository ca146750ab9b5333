// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package meterbus

import "fmt"

// WildcardNibble is the BCD nibble value that matches any digit.
const WildcardNibble = 0xF

// DigitToBCD converts a decimal digit or the wildcard 'F' into a BCD nibble.
func DigitToBCD(c rune) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return byte(c - '0'), nil
	case c == 'F' || c == 'f':
		return WildcardNibble, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDigit, c)
}

// NibbleToDigit converts a BCD nibble in the range 0-9 into its digit.
// The wildcard nibble has no digit; callers special-case it first.
func NibbleToDigit(n byte) (rune, error) {
	if n > 9 {
		return 0, fmt.Errorf("%w: 0x%X", ErrOutOfRange, n)
	}
	return rune('0' + n), nil
}

// StringToBCD packs a string of decimal digits (or 'F' wildcards) into BCD
// bytes. Odd-length input is left-padded with '0'.
//
// With littleEndian set, the first digit of each pair goes into the low
// nibble and bytes are filled from the end of the slice; otherwise the first
// digit goes into the high nibble and bytes are filled from the start.
// reverse flips the resulting byte order.
//
//	StringToBCD("1234", false, false) = 12 34
//	StringToBCD("1234", true, false)  = 34 12
//	StringToBCD("1234", false, true)  = 43 21
func StringToBCD(s string, reverse, littleEndian bool) ([]byte, error) {
	if len(s) == 0 {
		return []byte{}, nil
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}

	out := make([]byte, len(s)/2)
	for i := 0; i < len(s); i += 2 {
		first, err := DigitToBCD(rune(s[i]))
		if err != nil {
			return nil, err
		}
		second, err := DigitToBCD(rune(s[i+1]))
		if err != nil {
			return nil, err
		}

		if littleEndian {
			out[len(out)-1-i/2] = second<<4 | first
		} else {
			out[i/2] = first<<4 | second
		}
	}

	if reverse {
		reverseBytes(out)
	}
	return out, nil
}

// BCDToString is the inverse of StringToBCD for the same flags. Wildcard
// nibbles decode to 'F'.
func BCDToString(b []byte, reverse, littleEndian bool) (string, error) {
	data := make([]byte, len(b))
	copy(data, b)
	if reverse {
		reverseBytes(data)
	}

	digits := make([]rune, 0, len(data)*2)
	for i := range data {
		var first, second byte
		if littleEndian {
			v := data[len(data)-1-i]
			first, second = v&0x0F, v>>4
		} else {
			v := data[i]
			first, second = v>>4, v&0x0F
		}

		for _, n := range [2]byte{first, second} {
			if n == WildcardNibble {
				digits = append(digits, 'F')
				continue
			}
			d, err := NibbleToDigit(n)
			if err != nil {
				return "", err
			}
			digits = append(digits, d)
		}
	}
	return string(digits), nil
}

func reverseBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
