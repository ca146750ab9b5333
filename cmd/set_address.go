// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

var setAddressCmd = &cobra.Command{
	Use:   "set_address <address|meter> <new-address>",
	Short: "Change the primary address of a meter",
	Long: `Write a new primary address (0-250) to a meter.

Only one meter may listen on the current address, otherwise all of them
take the new one. Use --confirm to wait for the meter's acknowledgement.

Example:
  mbustat --port /dev/ttyUSB0 set_address 0 16`,
	Args: cobra.ExactArgs(2),
	RunE: runSetAddress,
}

func init() {
	rootCmd.AddCommand(setAddressCmd)
}

func runSetAddress(cmd *cobra.Command, args []string) error {
	addr, err := resolveAddress(args[0])
	if err != nil {
		return err
	}
	newAddr, err := meterbus.ParsePrimaryAddress(args[1])
	if err != nil {
		return err
	}

	return withSession(cmd, "Set Address", func(ctx context.Context, s *session) error {
		if err := s.master.SetMeterAddress(ctx, addr, newAddr); err != nil {
			return err
		}
		fmt.Printf("Address %s -> %s written\n", addr, newAddr)
		return nil
	})
}
