// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

var alarmCmd = &cobra.Command{
	Use:   "alarm <address|meter>",
	Short: "Request alarm data (REQ_UD1) from a meter",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlarm,
}

func init() {
	rootCmd.AddCommand(alarmCmd)
}

func runAlarm(cmd *cobra.Command, args []string) error {
	target, err := resolveTarget(args[0])
	if err != nil {
		return err
	}

	return withSession(cmd, "Alarm Request", func(ctx context.Context, s *session) error {
		packet, err := readTarget(ctx, s.master, target, true)
		if err != nil {
			return err
		}
		fmt.Print(meterbus.FormatPacket(packet))
		return nil
	})
}
