// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
)

// SerialConfig holds the line settings of a serial port. M-Bus uses 8E1.
type SerialConfig struct {
	BaudRate int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
}

// DefaultSerialConfig is the EN 13757-2 default: 2400 baud, 8E1.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		BaudRate: 2400,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	}
}

// ParseParity accepts "N", "E", "O" (or none/even/odd).
func ParseParity(s string) (serial.Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "n", "none":
		return serial.NoParity, nil
	case "e", "even":
		return serial.EvenParity, nil
	case "o", "odd":
		return serial.OddParity, nil
	}
	return 0, fmt.Errorf("unknown parity %q (use N, E or O)", s)
}

// SerialOpener opens portName with cfg on every Connect. A zero BaudRate or
// DataBits falls back to DefaultSerialConfig; start from DefaultSerialConfig
// to keep even parity.
func SerialOpener(portName string, cfg SerialConfig) Opener {
	def := DefaultSerialConfig()
	if cfg.BaudRate == 0 {
		cfg.BaudRate = def.BaudRate
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = def.DataBits
	}

	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		mode := &serial.Mode{
			BaudRate: cfg.BaudRate,
			DataBits: cfg.DataBits,
			Parity:   cfg.Parity,
			StopBits: cfg.StopBits,
		}

		port, err := serial.Open(portName, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
		}

		// Discard whatever the bus left in the driver buffer
		if err := port.ResetInputBuffer(); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to reset serial port %s: %w", portName, err)
		}
		return port, nil
	}
}

// NewSerialTransport is a StreamTransport over a serial port.
func NewSerialTransport(portName string, cfg SerialConfig, base Config) *StreamTransport {
	base.Opener = SerialOpener(portName, cfg)
	if base.Name == "" {
		base.Name = fmt.Sprintf("Serial: %s @ %d baud", portName, cfg.BaudRate)
	}
	return NewStreamTransport(base)
}

// ListSerialPorts returns the serial ports present on the system.
func ListSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
