// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package meterbus

import (
	"fmt"
	"strings"
	"time"
)

// FormatFrame formats a frame into a human-readable line
func FormatFrame(f Frame) string {
	switch v := f.(type) {
	case AckFrame:
		return "ACK"
	case ShortFrame:
		return fmt.Sprintf("SHORT %s (0x%02X) addr=%s", v.Control, byte(v.Control), v.Address)
	case ControlFrame:
		return fmt.Sprintf("CONTROL %s (0x%02X) addr=%s ci=%s", v.Control, byte(v.Control), v.Address, v.CI)
	case LongFrame:
		return fmt.Sprintf("%s %s (0x%02X) addr=%s ci=%s len=%d",
			v.Kind(), v.Control, byte(v.Control), v.Address, v.CI, len(v.Data))
	}
	return fmt.Sprintf("unknown frame %T", f)
}

// FormatPacket formats a packet with its header and record bytes
func FormatPacket(p *Packet) string {
	timestamp := p.Timestamp.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s addr=%s ci=%s len=%d\n", timestamp, p.Kind, p.Address, p.CI, len(p.Data))

	switch {
	case p.CI.IsVariableData():
		if h, err := p.VariableHeader(); err == nil {
			result += fmt.Sprintf("  Secondary: %s\n", h.Device)
			result += fmt.Sprintf("  Serial:    %s\n", h.Device.Serial())
			result += fmt.Sprintf("  Maker:     %s\n", h.Device.Manufacturer)
			result += fmt.Sprintf("  Version:   %d\n", h.Device.Version)
			result += fmt.Sprintf("  Medium:    %s\n", h.Device.DeviceType)
			result += fmt.Sprintf("  Access:    %d\n", h.AccessNumber)
			result += fmt.Sprintf("  Status:    0x%02X\n", h.Status)
		}
	case p.CI.IsFixedData():
		if h, err := p.FixedHeader(); err == nil {
			result += fmt.Sprintf("  Id:        %s\n", h.IDString())
			result += fmt.Sprintf("  Access:    %d\n", h.AccessNumber)
			result += fmt.Sprintf("  Status:    0x%02X\n", h.Status)
			result += fmt.Sprintf("  Medium/Unit: 0x%04X\n", h.MediumUnit)
		}
	}

	if records := p.Records(); len(records) > 0 {
		result += "  Records:\n"
		result += HexDump(records, "    ")
	}
	return result
}

// FormatRaw formats a raw frame attempt for the raw log, including the
// decode result
func FormatRaw(ts time.Time, dir Direction, raw []byte, decodeErr error) string {
	status := "OK"
	if decodeErr != nil {
		status = decodeErr.Error()
	}
	return fmt.Sprintf("[%s] %s % X (%s)", ts.Format("15:04:05.000"), dir, raw, status)
}

// HexDump formats data as 16-byte rows with offsets
func HexDump(data []byte, indent string) string {
	var sb strings.Builder
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		fmt.Fprintf(&sb, "%s%04X  % X\n", indent, off, data[off:end])
	}
	return sb.String()
}
