// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/mbustat/pkg/capture"
	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

var rawLogDecode bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display bus traffic in human-readable format",
	Long: `Continuously display M-Bus frames as they cross the bus, without sending
anything.

Each frame attempt is shown with timestamp, raw bytes and decode result.
With --decode, long frames are additionally broken down into their header
fields and data records. Useful next to another master, or behind a
gateway that forwards all traffic.

Supports serial, TCP and WebSocket connections. With --trace, the traffic
is also appended to a trace file.`,
	Args: cobra.NoArgs,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVarP(&rawLogDecode, "decode", "d", false, "Decode long frame headers")
}

var (
	rawOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	rawErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func runRawLog(cmd *cobra.Command, args []string) error {
	t, connInfo, err := OpenTransport()
	if err != nil {
		return err
	}

	var rec *capture.FileRecorder
	if cfg.Trace != "" {
		rec, err = capture.NewFileRecorder(cfg.Trace, connInfo)
		if err != nil {
			return fmt.Errorf("failed to open trace file: %w", err)
		}
		defer rec.Close()
	}

	fmt.Printf("mbustat - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := meterbus.NewStatistics()
	err = watchBus(cmd.Context(), t, func(raw []byte) {
		f, decodeErr := meterbus.Decode(raw)
		stats.Update(decodeErr)
		if rec != nil {
			rec.Trace(meterbus.DirectionRX, raw, decodeErr)
		}

		line := meterbus.FormatRaw(time.Now(), meterbus.DirectionRX, raw, decodeErr)
		if decodeErr != nil {
			fmt.Println(rawErrorStyle.Render(line))
			return
		}
		fmt.Println(rawOKStyle.Render(line))

		if long, ok := f.(meterbus.LongFrame); ok && rawLogDecode {
			fmt.Print(meterbus.FormatPacket(long.Packet()))
		}
	}, func() {
		fmt.Println(rawErrorStyle.Render("Connection lost - reconnecting..."))
	}, func() {
		fmt.Println(rawOKStyle.Render("Reconnected"))
	})

	fmt.Println()
	fmt.Print(stats.String())
	return err
}
