// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mbustat/pkg/config"
	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

var (
	pollInterval time.Duration
	pollCount    int
	pollAll      bool
)

var pollCmd = &cobra.Command{
	Use:   "poll [address|meter]...",
	Short: "Read user data (REQ_UD2) from meters, once or periodically",
	Long: `Request class 2 user data from one or more meters and print the responses.

Meters are given as primary addresses or names from the configuration file.
With --all every configured meter is read. Meters configured by secondary
address are selected before each request.

With --count 0 polling continues until Ctrl+C, waiting --interval between
rounds. A meter that does not answer is reported and polling continues.`,
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
	pollCmd.Flags().DurationVarP(&pollInterval, "interval", "i", 0, "Delay between rounds (default from config, 60s)")
	pollCmd.Flags().IntVarP(&pollCount, "count", "n", 1, "Number of rounds (0 = forever)")
	pollCmd.Flags().BoolVarP(&pollAll, "all", "a", false, "Read all meters of the configuration file")
}

func runPoll(cmd *cobra.Command, args []string) error {
	var targets []config.Target
	if pollAll {
		all, err := cfg.Targets()
		if err != nil {
			return err
		}
		targets = append(targets, all...)
	}
	for _, arg := range args {
		target, err := resolveTarget(arg)
		if err != nil {
			return err
		}
		targets = append(targets, target)
	}
	if len(targets) == 0 {
		return fmt.Errorf("no meters given (pass addresses, meter names or --all)")
	}

	interval := cfg.PollInterval
	if cmd.Flags().Changed("interval") {
		interval = pollInterval
	}
	if interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}

	return withSession(cmd, "Poll", func(ctx context.Context, s *session) error {
		if err := s.master.Connect(ctx); err != nil {
			return err
		}

		failures := 0
		for round := 1; pollCount == 0 || round <= pollCount; round++ {
			if round > 1 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(interval):
				}
			}

			for _, target := range targets {
				packet, err := readTarget(ctx, s.master, target, false)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					var te *meterbus.TransportError
					if errors.As(err, &te) {
						return err
					}
					fmt.Printf("%s: %v\n", target, err)
					failures++
					continue
				}
				fmt.Printf("%s\n", target)
				fmt.Print(meterbus.FormatPacket(packet))
			}
		}

		stats := s.master.Stats()
		fmt.Print(stats.String())
		if failures > 0 {
			return fmt.Errorf("%d readings failed", failures)
		}
		return nil
	})
}
