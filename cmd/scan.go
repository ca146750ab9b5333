// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

var (
	scanFrom    int
	scanTo      int
	scanVerbose bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan primary addresses for meters",
	Long: `Probe each primary address with SND_NKE and read the meters that answer.

Addresses that do not acknowledge within the timeout are skipped. A meter
that acknowledges but does not send data aborts the scan, since that
usually means two meters share the address.

A full scan of 0-250 at the default 2 s timeout takes over eight minutes;
lower --timeout on a quiet bus.

Exit codes:
  0 - Scan finished (at least one meter found)
  1 - No meters found, or scan aborted
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntVar(&scanFrom, "from", 0, "First address")
	scanCmd.Flags().IntVar(&scanTo, "to", int(meterbus.AddressMaxDevice), "Last address")
	scanCmd.Flags().BoolVar(&scanVerbose, "dump", false, "Print the full response of each meter")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFrom < 0 || scanTo > int(meterbus.AddressMaxDevice) || scanFrom > scanTo {
		return fmt.Errorf("invalid range %d-%d (addresses 0-%d)", scanFrom, scanTo, meterbus.AddressMaxDevice)
	}
	addrs := make([]meterbus.PrimaryAddress, 0, scanTo-scanFrom+1)
	for a := scanFrom; a <= scanTo; a++ {
		addrs = append(addrs, meterbus.PrimaryAddress(a))
	}

	return withSession(cmd, "Scan", func(ctx context.Context, s *session) error {
		fmt.Printf("Scanning %d-%d, timeout %s\n\n", scanFrom, scanTo, cfg.Timeout)

		s.master.OnMeter(func(ev meterbus.MeterEvent) {
			packet := ev.Frame.Packet()
			fmt.Printf("FOUND: address %s  %s\n", ev.Address, describeMeter(packet))
			if scanVerbose {
				fmt.Print(meterbus.FormatPacket(packet))
			}
		})

		events, err := s.master.Scan(ctx, addrs, 0)
		fmt.Printf("\n--- Scan summary ---\n")
		fmt.Printf("%d meters found\n", len(events))
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return fmt.Errorf("no meters found")
		}
		return nil
	})
}

// describeMeter returns the identification of a response header
func describeMeter(p *meterbus.Packet) string {
	if h, err := p.VariableHeader(); err == nil {
		return fmt.Sprintf("secondary=%s (%s, %s, version %d)",
			h.Device, h.Device.Manufacturer, h.Device.DeviceType, h.Device.Version)
	}
	if h, err := p.FixedHeader(); err == nil {
		return fmt.Sprintf("id=%s (fixed data)", h.IDString())
	}
	return fmt.Sprintf("ci=%s", p.CI)
}
