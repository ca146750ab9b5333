// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

var initCmd = &cobra.Command{
	Use:   "init [address|meter]",
	Short: "Initialize the link layer of a meter (SND_NKE)",
	Long: `Send SND_NKE to reset the link layer of a meter to a known state.

Without an argument the reset is broadcast to address 255, which every
meter accepts without answering. Do this once before talking to a bus
whose state is unknown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	addr := meterbus.AddressBroadcast
	if len(args) == 1 {
		var err error
		if addr, err = resolveAddress(args[0]); err != nil {
			return err
		}
	}

	return withSession(cmd, "Initialize", func(ctx context.Context, s *session) error {
		if err := s.master.Initialize(ctx, addr); err != nil {
			return err
		}
		fmt.Printf("SND_NKE sent to %s\n", addr)
		return nil
	})
}
