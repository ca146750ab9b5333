// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	pingCount  int
	pingNoWait bool
)

var pingCmd = &cobra.Command{
	Use:   "ping <address|meter>",
	Short: "Send SND_NKE to a meter and wait for its acknowledgement",
	Long: `Send SND_NKE (link reset) frames to a meter and wait for the E5 acknowledgement.

This is the cheapest way to check that a meter at a primary address is alive:
the reset has no side effects besides clearing the meter's frame count bit.

With --no-wait the frame is sent without waiting, which is what you want
for the broadcast address 255.

Exit codes:
  0 - All pings acknowledged
  1 - One or more pings timed out
  2 - Connection error`,
	Args: cobra.ExactArgs(1),
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVarP(&pingCount, "count", "n", 3, "Number of pings to send")
	pingCmd.Flags().BoolVar(&pingNoWait, "no-wait", false, "Do not wait for the acknowledgement")
}

func runPing(cmd *cobra.Command, args []string) error {
	if pingCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	addr, err := resolveAddress(args[0])
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if err := s.master.Connect(ctx); err != nil {
		return err
	}

	s.printHeader("Ping")
	fmt.Printf("Address: %s\n", addr)
	fmt.Printf("Timeout: %s per ping\n", cfg.Timeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	if pingNoWait {
		for i := 1; i <= pingCount; i++ {
			if err := s.master.Ping(ctx, addr); err != nil {
				return err
			}
			fmt.Printf("Ping %d/%d: sent\n", i, pingCount)
		}
		return nil
	}

	successCount := 0
	failCount := 0
	var lastErr error

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		err := s.master.Probe(ctx, addr, 0)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println("cancelled")
				return ctx.Err()
			}
			fmt.Printf("FAILED: %v\n", err)
			failCount++
			lastErr = err
		} else {
			fmt.Printf("ACK from %s, rtt=%v\n", addr, time.Since(startTime).Round(time.Millisecond))
			successCount++
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d acknowledged, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		return fmt.Errorf("%d of %d pings failed: %w", failCount, pingCount, lastErr)
	}
	return nil
}
