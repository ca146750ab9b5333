// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

var linkCheckCmd = &cobra.Command{
	Use:   "link_check",
	Short: "Test raw connection stability",
	Long: `Test the connection to the bus without sending any frames.

This command connects and just waits, logging any frame attempts received
and whether the connection drops. Useful for debugging unstable gateways
and WebSocket bridges.

Exit codes:
  0 - Test completed normally
  1 - Connection dropped during the test
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runLinkCheck,
}

var linkCheckDuration int

func init() {
	rootCmd.AddCommand(linkCheckCmd)
	linkCheckCmd.Flags().IntVar(&linkCheckDuration, "duration", 30, "Test duration in seconds")
}

func runLinkCheck(cmd *cobra.Command, args []string) error {
	if linkCheckDuration < 1 {
		return fmt.Errorf("--duration must be at least 1 second")
	}
	t, connInfo, err := OpenTransport()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := t.Connect(ctx); err != nil {
		return &meterbus.TransportError{Op: "connect", Err: err}
	}
	defer t.Disconnect()

	fmt.Printf("Connection Stability Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n\n", linkCheckDuration)
	fmt.Printf("Listening for data...\n\n")

	start := time.Now()
	endTime := start.Add(time.Duration(linkCheckDuration) * time.Second)
	bytesReceived := 0
	framesReceived := 0
	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	printResults := func(result string) {
		fmt.Printf("\n--- Test Results ---\n")
		fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("Frame attempts received: %d\n", framesReceived)
		fmt.Printf("Bytes received: %d\n", bytesReceived)
		if dropped := t.Dropped(); dropped > 0 {
			fmt.Printf("Dropped (queue full): %d\n", dropped)
		}
		fmt.Printf("Result: %s\n", result)
	}

	for time.Now().Before(endTime) {
		select {
		case <-ctx.Done():
			printResults("CANCELLED")
			return nil

		case raw := <-t.Received():
			bytesReceived += len(raw)
			framesReceived++
			_, decodeErr := meterbus.Decode(raw)
			fmt.Println(meterbus.FormatRaw(time.Now(), meterbus.DirectionRX, raw, decodeErr))

		case <-t.Lost():
			fmt.Printf("\n[%s] Connection lost\n", time.Now().Format("15:04:05.000"))
			printResults("FAILED (connection lost)")
			return fmt.Errorf("connection lost after %v", time.Since(start).Round(time.Second))

		case <-heartbeat.C:
			remaining := time.Until(endTime).Seconds()
			fmt.Printf("[%s] Still connected... (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), remaining)
		}
	}

	printResults("PASSED (connection stable)")
	return nil
}
