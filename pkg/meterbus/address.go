// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package meterbus

import (
	"fmt"
	"strconv"
	"strings"
)

// PrimaryAddress is a single-byte device address on the bus.
type PrimaryAddress byte

// Special primary addresses
const (
	AddressUnconfigured   PrimaryAddress = 0
	AddressMaxDevice      PrimaryAddress = 250
	AddressNetworkLayer   PrimaryAddress = 253 // device selected by secondary address
	AddressBroadcastReply PrimaryAddress = 254 // all devices, reply expected
	AddressBroadcast      PrimaryAddress = 255 // all devices, no reply
)

// Valid reports whether a is an assignable device address (0-250).
func (a PrimaryAddress) Valid() bool {
	return a <= AddressMaxDevice
}

// IsBroadcast reports whether a reaches every device on the bus.
func (a PrimaryAddress) IsBroadcast() bool {
	return a == AddressBroadcast || a == AddressBroadcastReply
}

// String returns the decimal address
func (a PrimaryAddress) String() string {
	return strconv.Itoa(int(a))
}

// ParsePrimaryAddress parses a decimal (or 0x-prefixed hex) address.
func ParsePrimaryAddress(s string) (PrimaryAddress, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return PrimaryAddress(v), nil
}

// DeviceType is the EN 13757-3 medium / device class.
type DeviceType byte

// Device type values
const (
	DeviceTypeOther             DeviceType = 0x00
	DeviceTypeOil               DeviceType = 0x01
	DeviceTypeElectricity       DeviceType = 0x02
	DeviceTypeGas               DeviceType = 0x03
	DeviceTypeHeat              DeviceType = 0x04
	DeviceTypeSteam             DeviceType = 0x05
	DeviceTypeWarmWater         DeviceType = 0x06
	DeviceTypeWater             DeviceType = 0x07
	DeviceTypeHeatCostAllocator DeviceType = 0x08
	DeviceTypeCompressedAir     DeviceType = 0x09
	DeviceTypeCoolingOutlet     DeviceType = 0x0A
	DeviceTypeCoolingInlet      DeviceType = 0x0B
	DeviceTypeHeatInlet         DeviceType = 0x0C
	DeviceTypeHeatCooling       DeviceType = 0x0D
	DeviceTypeBus               DeviceType = 0x0E
	DeviceTypeUnknown           DeviceType = 0x0F
	DeviceTypeHotWater          DeviceType = 0x15
	DeviceTypeColdWater         DeviceType = 0x16
	DeviceTypeDualWater         DeviceType = 0x17
	DeviceTypePressure          DeviceType = 0x18
	DeviceTypeADConverter       DeviceType = 0x19
	DeviceTypeAny               DeviceType = 0xFF
)

var deviceTypeNames = map[DeviceType]string{
	DeviceTypeOther:             "other",
	DeviceTypeOil:               "oil",
	DeviceTypeElectricity:       "electricity",
	DeviceTypeGas:               "gas",
	DeviceTypeHeat:              "heat",
	DeviceTypeSteam:             "steam",
	DeviceTypeWarmWater:         "warm_water",
	DeviceTypeWater:             "water",
	DeviceTypeHeatCostAllocator: "heat_cost_allocator",
	DeviceTypeCompressedAir:     "compressed_air",
	DeviceTypeCoolingOutlet:     "cooling_outlet",
	DeviceTypeCoolingInlet:      "cooling_inlet",
	DeviceTypeHeatInlet:         "heat_inlet",
	DeviceTypeHeatCooling:       "heat_cooling",
	DeviceTypeBus:               "bus",
	DeviceTypeUnknown:           "unknown",
	DeviceTypeHotWater:          "hot_water",
	DeviceTypeColdWater:         "cold_water",
	DeviceTypeDualWater:         "dual_water",
	DeviceTypePressure:          "pressure",
	DeviceTypeADConverter:       "ad_converter",
	DeviceTypeAny:               "any",
}

// String returns the lower-case device class name
func (t DeviceType) String() string {
	if name, ok := deviceTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("reserved_0x%02X", byte(t))
}

// ParseDeviceType accepts a class name ("water", "heat", ...) or a numeric value.
func ParseDeviceType(s string) (DeviceType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for t, n := range deviceTypeNames {
		if n == name {
			return t, nil
		}
	}
	v, err := strconv.ParseUint(name, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown device type %q", s)
	}
	return DeviceType(v), nil
}

// VersionAny is the wildcard version / firmware value.
const VersionAny = 0xFF

// SecondaryAddress identifies a device independent of its primary address.
// Every field has a wildcard: 0xF nibbles in ID, ManufacturerAny,
// VersionAny and DeviceTypeAny.
type SecondaryAddress struct {
	ID           [4]byte
	Manufacturer Manufacturer
	Version      byte
	DeviceType   DeviceType
}

// SecondaryAddressSize is the size of the address on the wire.
const SecondaryAddressSize = 8

// AnySecondaryAddress matches every device.
var AnySecondaryAddress = SecondaryAddress{
	ID:           [4]byte{0xFF, 0xFF, 0xFF, 0xFF},
	Manufacturer: ManufacturerAny,
	Version:      VersionAny,
	DeviceType:   DeviceTypeAny,
}

// NewSecondaryAddress builds an address from a serial number of up to 8
// digits ('F' for wildcard digits). The version is set to the wildcard.
func NewSecondaryAddress(serial string, man Manufacturer, deviceType DeviceType) (SecondaryAddress, error) {
	if len(serial) > 8 {
		return SecondaryAddress{}, fmt.Errorf("%w: serial %q longer than 8 digits", ErrInvalidAddress, serial)
	}
	serial = strings.Repeat("0", 8-len(serial)) + serial

	id, err := StringToBCD(serial, true, true)
	if err != nil {
		return SecondaryAddress{}, err
	}

	addr := SecondaryAddress{
		Manufacturer: man,
		Version:      VersionAny,
		DeviceType:   deviceType,
	}
	copy(addr.ID[:], id)
	return addr, nil
}

// ParseSecondaryAddress reads the 8-byte in-memory form produced by Bytes.
func ParseSecondaryAddress(b []byte) (SecondaryAddress, error) {
	if len(b) != SecondaryAddressSize {
		return SecondaryAddress{}, fmt.Errorf("%w: secondary address needs %d bytes, got %d",
			ErrInvalidAddress, SecondaryAddressSize, len(b))
	}
	addr := SecondaryAddress{
		Manufacturer: ManufacturerFromBytes(b[4], b[5]),
		Version:      b[6],
		DeviceType:   DeviceType(b[7]),
	}
	copy(addr.ID[:], b[0:4])
	return addr, nil
}

// ParseSecondaryAddressString parses the 16-character text form
// "SSSSSSSSMMMMVVTT": 8 serial digits, then manufacturer, version and device
// type in hex. 'F' is a wildcard throughout, e.g. "12345678FFFFFFFF".
func ParseSecondaryAddressString(s string) (SecondaryAddress, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 16 {
		return SecondaryAddress{}, fmt.Errorf("%w: %q (need 16 characters)", ErrInvalidAddress, s)
	}
	man, err := strconv.ParseUint(s[8:12], 16, 16)
	if err != nil {
		return SecondaryAddress{}, fmt.Errorf("%w: manufacturer %q", ErrInvalidAddress, s[8:12])
	}
	version, err := strconv.ParseUint(s[12:14], 16, 8)
	if err != nil {
		return SecondaryAddress{}, fmt.Errorf("%w: version %q", ErrInvalidAddress, s[12:14])
	}
	deviceType, err := strconv.ParseUint(s[14:16], 16, 8)
	if err != nil {
		return SecondaryAddress{}, fmt.Errorf("%w: device type %q", ErrInvalidAddress, s[14:16])
	}

	addr, err := NewSecondaryAddress(s[:8], Manufacturer(man), DeviceType(deviceType))
	if err != nil {
		return SecondaryAddress{}, err
	}
	addr.Version = byte(version)
	return addr, nil
}

// Serial returns the serial number digits, 'F' for wildcard digits.
func (a SecondaryAddress) Serial() string {
	s, err := BCDToString(a.ID[:], true, true)
	if err != nil {
		return fmt.Sprintf("%02X%02X%02X%02X", a.ID[0], a.ID[1], a.ID[2], a.ID[3])
	}
	return s
}

// Bytes returns the 8-byte in-memory form: id as stored, manufacturer
// big-endian, version, device type. Use WireBytes for the bus.
func (a SecondaryAddress) Bytes() [SecondaryAddressSize]byte {
	man := a.Manufacturer.Bytes()
	return [SecondaryAddressSize]byte{
		a.ID[0], a.ID[1], a.ID[2], a.ID[3],
		man[0], man[1],
		a.Version,
		byte(a.DeviceType),
	}
}

// WireBytes returns the 8-byte form sent in a selection request and carried
// in a variable data header: id least significant byte first, manufacturer
// little-endian, version, device type. Wildcard nibbles keep their digit
// position.
func (a SecondaryAddress) WireBytes() [SecondaryAddressSize]byte {
	id := wireID(a.ID)
	return [SecondaryAddressSize]byte{
		id[0], id[1], id[2], id[3],
		byte(a.Manufacturer), byte(a.Manufacturer >> 8),
		a.Version,
		byte(a.DeviceType),
	}
}

// ParseSecondaryAddressWire reads the 8-byte form produced by WireBytes.
func ParseSecondaryAddressWire(b []byte) (SecondaryAddress, error) {
	if len(b) != SecondaryAddressSize {
		return SecondaryAddress{}, fmt.Errorf("%w: secondary address needs %d bytes, got %d",
			ErrInvalidAddress, SecondaryAddressSize, len(b))
	}
	var raw [4]byte
	copy(raw[:], b[0:4])
	return SecondaryAddress{
		ID:           wireID(raw),
		Manufacturer: ManufacturerFromBytes(b[5], b[4]),
		Version:      b[6],
		DeviceType:   DeviceType(b[7]),
	}, nil
}

// wireID converts between the in-memory id and the wire id. The conversion
// is its own inverse: bytes are reversed and each byte's nibbles swapped.
func wireID(id [4]byte) [4]byte {
	var out [4]byte
	for i, b := range id {
		out[len(id)-1-i] = b<<4 | b>>4
	}
	return out
}

// Matches reports whether a and other select the same device, treating each
// field's wildcard on either side as matching anything.
func (a SecondaryAddress) Matches(other SecondaryAddress) bool {
	for i := range a.ID {
		if !nibbleMatches(a.ID[i]>>4, other.ID[i]>>4) || !nibbleMatches(a.ID[i]&0x0F, other.ID[i]&0x0F) {
			return false
		}
	}
	if !a.Manufacturer.IsAny() && !other.Manufacturer.IsAny() && a.Manufacturer != other.Manufacturer {
		return false
	}
	if a.Version != VersionAny && other.Version != VersionAny && a.Version != other.Version {
		return false
	}
	if a.DeviceType != DeviceTypeAny && other.DeviceType != DeviceTypeAny && a.DeviceType != other.DeviceType {
		return false
	}
	return true
}

func nibbleMatches(x, y byte) bool {
	return x == WildcardNibble || y == WildcardNibble || x == y
}

// String returns the 16-character text form accepted by
// ParseSecondaryAddressString.
func (a SecondaryAddress) String() string {
	return fmt.Sprintf("%s%04X%02X%02X", a.Serial(), uint16(a.Manufacturer), a.Version, byte(a.DeviceType))
}
