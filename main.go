// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// mbustat - M-Bus Master and Bus Analyzer
//
// A CLI tool for reading meters over M-Bus (EN 13757-2/3) through serial
// level converters, TCP gateways or WebSocket bridges, and for analyzing
// the traffic on the bus.

package main

import (
	"os"

	"github.com/Thermoquad/mbustat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
