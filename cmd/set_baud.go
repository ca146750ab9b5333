// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var setBaudCmd = &cobra.Command{
	Use:   "set_baud <address|meter> <baud>",
	Short: "Switch the baud rate of a meter",
	Long: `Switch a meter to another baud rate (300 to 38400).

The meter acknowledges at the current rate and listens at the new rate
afterwards. Reconnect with --baud to keep talking to it.`,
	Args: cobra.ExactArgs(2),
	RunE: runSetBaud,
}

func init() {
	rootCmd.AddCommand(setBaudCmd)
}

func runSetBaud(cmd *cobra.Command, args []string) error {
	addr, err := resolveAddress(args[0])
	if err != nil {
		return err
	}
	baud, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid baud rate %q", args[1])
	}

	return withSession(cmd, "Set Baud Rate", func(ctx context.Context, s *session) error {
		if err := s.master.SetBaudRate(ctx, addr, baud); err != nil {
			return err
		}
		fmt.Printf("Meter %s switched to %d baud\n", addr, baud)
		return nil
	})
}
