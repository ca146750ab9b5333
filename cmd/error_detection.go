// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/mbustat/pkg/link"
	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze corrupted frames on the bus",
	Long: `Listen to the bus and track corrupted frames with statistics.

This command validates each frame attempt and detects:
  - Checksum errors and malformed frames (noise, collisions, truncation)
  - Meter responses with inconsistent data headers
  - Statistics and trends (frame rate, error rate, success rate)

By default, only errors are displayed. Use --show-all to display valid frames too.

Frames are validated in real-time, with errors highlighted immediately and
periodic statistics summaries displayed at configurable intervals.`,
	Args: cobra.NoArgs,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	if statsInterval < 1 {
		return fmt.Errorf("--stats-interval must be at least 1 second")
	}
	t, connInfo, err := OpenTransport()
	if err != nil {
		return err
	}

	if useTUI {
		return runTUIMode(cmd.Context(), t, connInfo)
	}
	return runTextMode(cmd.Context(), t, connInfo)
}

// frameIssues checks a decoded frame for content problems the checksum
// cannot catch
func frameIssues(f meterbus.Frame) []string {
	long, ok := f.(meterbus.LongFrame)
	if !ok || long.Control.FromMaster() {
		return nil
	}

	var issues []string
	packet := long.Packet()
	switch {
	case long.CI.IsVariableData():
		h, err := packet.VariableHeader()
		if err != nil {
			issues = append(issues, err.Error())
			break
		}
		if _, err := meterbus.DecodeManufacturer(h.Device.Manufacturer); err != nil {
			issues = append(issues, err.Error())
		}
	case long.CI.IsFixedData():
		if _, err := packet.FixedHeader(); err != nil {
			issues = append(issues, err.Error())
		}
	case long.CI == meterbus.CIResponseError, long.CI == meterbus.CIResponseAlarm:
	default:
		issues = append(issues, fmt.Sprintf("unexpected CI 0x%02X in meter response", byte(long.CI)))
	}
	return issues
}

// syncTracker ignores decode errors until the first valid frame, since
// listening usually starts in the middle of a frame
type syncTracker struct {
	synchronized    bool
	invalidAttempts int
}

// observe returns true for attempts that count, and true for justSynced on
// the first valid frame
func (s *syncTracker) observe(decodeErr error) (counts, justSynced bool) {
	if s.synchronized {
		return true, false
	}
	if decodeErr != nil {
		s.invalidAttempts++
		return false, false
	}
	s.synchronized = true
	return true, true
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(raw []byte, err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	fmt.Printf("  Raw: % X\n", raw)
	fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
}

// printFrameIssues prints content problems of a valid frame
func printFrameIssues(f meterbus.Frame, issues []string) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s\n", timestamp, meterbus.FormatFrame(f))
	fmt.Printf("  Checksum: \033[1;32mOK\033[0m\n")
	for i, issue := range issues {
		fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, issue)
	}
	fmt.Println()
}

// runTUIMode runs error detection in TUI mode
func runTUIMode(ctx context.Context, t *link.StreamTransport, connInfo string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := initialModel(connInfo, showAll)
	p := tea.NewProgram(m)

	tracker := &syncTracker{}
	watchErr := make(chan error, 1)
	go func() {
		err := watchBus(ctx, t, func(raw []byte) {
			f, decodeErr := meterbus.Decode(raw)
			counts, justSynced := tracker.observe(decodeErr)
			if justSynced {
				p.Send(syncMsg{invalidAttempts: tracker.invalidAttempts})
			}
			if !counts {
				return
			}
			msg := busDataMsg{frame: f, decodeErr: decodeErr}
			if decodeErr == nil {
				msg.issues = frameIssues(f)
			}
			p.Send(msg)
		}, func() {
			p.Send(connectionLostMsg{})
		}, func() {
			p.Send(reconnectedMsg{})
		})
		if err != nil {
			p.Quit()
		}
		watchErr <- err
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	cancel()
	return <-watchErr
}

// runTextMode runs error detection in text mode
func runTextMode(ctx context.Context, t *link.StreamTransport, connInfo string) error {
	fmt.Printf("mbustat - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := meterbus.NewStatistics()
	tracker := &syncTracker{}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Statistics ticker
	var mu sync.Mutex
	go func() {
		statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
		defer statsTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-statsTicker.C:
				mu.Lock()
				fmt.Println()
				fmt.Print(stats.String())
				fmt.Println()
				mu.Unlock()
			}
		}
	}()

	err := watchBus(ctx, t, func(raw []byte) {
		mu.Lock()
		defer mu.Unlock()

		f, decodeErr := meterbus.Decode(raw)
		counts, justSynced := tracker.observe(decodeErr)
		if justSynced {
			if tracker.invalidAttempts > 0 {
				fmt.Printf("[SYNC] Synchronized after skipping %d invalid frame attempts\n\n", tracker.invalidAttempts)
			} else {
				fmt.Printf("[SYNC] Synchronized\n\n")
			}
		}
		if !counts {
			return
		}

		stats.Update(decodeErr)
		switch {
		case decodeErr != nil:
			printDecodeError(raw, decodeErr)
		default:
			if issues := frameIssues(f); len(issues) > 0 {
				printFrameIssues(f, issues)
			} else if showAll {
				fmt.Println(meterbus.FormatRaw(time.Now(), meterbus.DirectionRX, raw, nil))
			}
		}
	}, func() {
		fmt.Printf("[LOST] Connection lost - reconnecting...\n\n")
	}, func() {
		fmt.Printf("[RECONNECTED]\n\n")
	})

	cancel()
	mu.Lock()
	defer mu.Unlock()
	fmt.Println()
	fmt.Print(stats.String())
	return err
}
