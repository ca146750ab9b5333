// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mbustat/pkg/capture"
	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

var (
	traceSession   string
	traceDirection string
	traceKind      string
	traceErrors    bool
	traceSince     string
	traceUntil     string
	traceSummary   bool
	traceDecode    bool
)

var traceCmd = &cobra.Command{
	Use:   "trace <file>",
	Short: "Print a recorded CBOR trace file",
	Long: `Print the frames recorded with --trace, one line per frame attempt.

Filters narrow the output to one recorder session, one direction, one frame
kind (ACK, SHORT, CONTROL, LONG) or to attempts that failed to decode. With
--summary only the aggregated statistics are printed.

Examples:
  mbustat trace bus.mtrace --errors
  mbustat trace bus.mtrace --direction rx --kind LONG --decode
  mbustat trace bus.mtrace --since 2025-06-01T08:00:00Z --summary`,
	Args: cobra.ExactArgs(1),
	RunE: runTrace,
}

func init() {
	rootCmd.AddCommand(traceCmd)
	traceCmd.Flags().StringVar(&traceSession, "session", "", "Only events of this session id")
	traceCmd.Flags().StringVar(&traceDirection, "direction", "", "Only tx or rx events")
	traceCmd.Flags().StringVar(&traceKind, "kind", "", "Only frames of this kind")
	traceCmd.Flags().BoolVar(&traceErrors, "errors", false, "Only attempts that failed to decode")
	traceCmd.Flags().StringVar(&traceSince, "since", "", "Only events at or after this time (RFC 3339)")
	traceCmd.Flags().StringVar(&traceUntil, "until", "", "Only events before this time (RFC 3339)")
	traceCmd.Flags().BoolVar(&traceSummary, "summary", false, "Print statistics instead of events")
	traceCmd.Flags().BoolVarP(&traceDecode, "decode", "d", false, "Decode long frames")
}

func traceFilter() (capture.Filter, error) {
	filter := capture.Filter{
		SessionID:  traceSession,
		Kind:       strings.ToUpper(traceKind),
		ErrorsOnly: traceErrors,
	}

	switch strings.ToLower(traceDirection) {
	case "":
	case "tx":
		dir := meterbus.DirectionTX
		filter.Direction = &dir
	case "rx":
		dir := meterbus.DirectionRX
		filter.Direction = &dir
	default:
		return filter, fmt.Errorf("invalid direction %q (use tx or rx)", traceDirection)
	}

	if traceSince != "" {
		t, err := time.Parse(time.RFC3339, traceSince)
		if err != nil {
			return filter, fmt.Errorf("invalid --since: %w", err)
		}
		filter.TimeStart = &t
	}
	if traceUntil != "" {
		t, err := time.Parse(time.RFC3339, traceUntil)
		if err != nil {
			return filter, fmt.Errorf("invalid --until: %w", err)
		}
		filter.TimeEnd = &t
	}
	return filter, nil
}

func runTrace(cmd *cobra.Command, args []string) error {
	filter, err := traceFilter()
	if err != nil {
		return err
	}

	r, err := capture.NewFilteredReader(args[0], filter)
	if err != nil {
		return err
	}
	defer r.Close()

	if traceSummary {
		stats, err := capture.Summary(r)
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		fmt.Print(stats.String())
		return nil
	}

	session := ""
	count := 0
	for {
		event, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}

		if event.SessionID != session {
			session = event.SessionID
			fmt.Printf("--- Session %s (%s) ---\n", session, event.Transport)
		}
		count++

		var decodeErr error
		if !event.Valid() {
			decodeErr = errors.New(event.Error)
		}
		fmt.Println(meterbus.FormatRaw(event.Timestamp, event.Direction, event.Raw, decodeErr))

		if !traceDecode || decodeErr != nil {
			continue
		}
		if f, err := event.Frame(); err == nil {
			if long, ok := f.(meterbus.LongFrame); ok {
				fmt.Print(meterbus.FormatPacket(long.Packet()))
			}
		}
	}

	fmt.Printf("\n%d event(s)\n", count)
	return nil
}
