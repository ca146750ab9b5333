// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mbustat/pkg/config"
	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

var (
	selectManufacturer string
	selectDeviceType   string
	selectRead         bool
)

var selectCmd = &cobra.Command{
	Use:   "select <serial|secondary-address|meter>",
	Short: "Select a meter by secondary address",
	Long: `Select a meter by its secondary address. The selected meter then answers
on the network layer address 253.

The address is either a configured meter name, a serial number of up to 8
digits combined with --manufacturer and --device-type, or the full
16-character form SSSSSSSSMMMMVVTT. 'F' is a wildcard digit.

Examples:
  mbustat --tcp gw:10001 select 12345678 --manufacturer KAM --read
  mbustat --tcp gw:10001 select 12345678FFFFFFFF`,
	Args: cobra.ExactArgs(1),
	RunE: runSelect,
}

func init() {
	rootCmd.AddCommand(selectCmd)
	selectCmd.Flags().StringVarP(&selectManufacturer, "manufacturer", "m", "", "Manufacturer code (e.g. KAM)")
	selectCmd.Flags().StringVarP(&selectDeviceType, "device-type", "d", "", "Device type name or number (e.g. heat)")
	selectCmd.Flags().BoolVarP(&selectRead, "read", "r", false, "Request data from the selected meter")
}

func runSelect(cmd *cobra.Command, args []string) error {
	target, ok := cfg.Meter(args[0])
	if !ok {
		var err error
		target, err = config.Meter{
			Name:         args[0],
			Secondary:    args[0],
			Manufacturer: selectManufacturer,
			DeviceType:   selectDeviceType,
		}.Resolve()
		if err != nil {
			return err
		}
	}
	if target.Secondary == nil {
		return fmt.Errorf("meter %q has no secondary address", target.Name)
	}

	return withSession(cmd, "Select", func(ctx context.Context, s *session) error {
		if !selectRead {
			if err := s.master.SelectSecondary(ctx, *target.Secondary, 0); err != nil {
				return err
			}
			fmt.Printf("Selected %s\n", target.Secondary)
			return nil
		}

		packet, err := readTarget(ctx, s.master, target, false)
		if err != nil {
			return err
		}
		fmt.Printf("Selected %s\n", target.Secondary)
		fmt.Print(meterbus.FormatPacket(packet))
		return nil
	})
}
