// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

var setIDCmd = &cobra.Command{
	Use:   "set_id <address|meter> [serial]",
	Short: "Write the identification number of a meter",
	Long: `Write an identification number record (DIF 0x0C, VIF 0x79) to a meter.

The serial number has up to 8 digits. Without it a fixed demonstration
record is sent.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSetID,
}

func init() {
	rootCmd.AddCommand(setIDCmd)
}

func runSetID(cmd *cobra.Command, args []string) error {
	addr, err := resolveAddress(args[0])
	if err != nil {
		return err
	}

	var payload []byte
	if len(args) == 2 {
		if payload, err = meterbus.IDPayload(args[1]); err != nil {
			return err
		}
	}

	return withSession(cmd, "Set ID", func(ctx context.Context, s *session) error {
		if err := s.master.SetID(ctx, addr, payload); err != nil {
			return err
		}
		if payload == nil {
			payload = meterbus.DemoIDPayload
		}
		fmt.Printf("ID record written to %s:\n%s", addr, meterbus.HexDump(payload, "  "))
		return nil
	})
}
