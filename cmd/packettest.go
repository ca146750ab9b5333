// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

var packetTestTimeout int

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid M-Bus frame",
	Long: `Wait for a valid M-Bus frame on the connection until timeout.

This command connects to a serial port, TCP gateway or WebSocket and waits
for any valid frame sent by another master or a meter. It ignores noise and
frames with a bad checksum, and waits for a complete, valid frame.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking that a gateway forwards bus traffic.`,
	Args: cobra.NoArgs,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "wait", 10, "Seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	t, connInfo, err := OpenTransport()
	if err != nil {
		return err
	}

	fmt.Printf("mbustat - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid M-Bus frame...\n\n")

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(packetTestTimeout)*time.Second)
	defer cancel()

	invalid := 0
	var found meterbus.Frame
	var raw []byte
	err = watchBus(ctx, t, func(attempt []byte) {
		if found != nil {
			return
		}
		f, decodeErr := meterbus.Decode(attempt)
		if decodeErr != nil {
			invalid++
			return
		}
		found, raw = f, attempt
		cancel()
	}, nil, nil)
	if err != nil {
		return err
	}

	if found == nil {
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
		return fmt.Errorf("%w after %d seconds", meterbus.ErrTimeout, packetTestTimeout)
	}

	if invalid > 0 {
		fmt.Printf("(skipped %d invalid frame attempts)\n", invalid)
	}
	fmt.Printf("SUCCESS: Received valid frame\n")
	fmt.Printf("  Kind: %s\n", found.Kind())
	fmt.Printf("  Frame: %s\n", meterbus.FormatFrame(found))
	fmt.Printf("  Length: %d bytes\n", len(raw))
	return nil
}
