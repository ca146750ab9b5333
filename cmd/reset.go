// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset <address|meter>",
	Short: "Reset the application layer of a meter",
	Args:  cobra.ExactArgs(1),
	RunE:  runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	addr, err := resolveAddress(args[0])
	if err != nil {
		return err
	}

	return withSession(cmd, "Application Reset", func(ctx context.Context, s *session) error {
		if err := s.master.ResetApplication(ctx, addr); err != nil {
			return err
		}
		fmt.Printf("Application reset sent to %s\n", addr)
		return nil
	})
}
