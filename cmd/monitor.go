// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/mbustat/pkg/config"
	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

var (
	monitorScan    bool
	monitorRefresh time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for reading meters",
	Long: `Read meters via an interactive terminal UI.

The meter list starts with the meters from the configuration file. Meters
found by a scan are added as they answer, and any address or configured
meter name can be entered directly.

Keys (meter list):
  enter  read the selected meter (REQ_UD2)
  a      read alarm data (REQ_UD1)
  p      probe the selected meter (SND_NKE)
  s      scan primary addresses 0-250
  f      toggle periodic reading of all meters
  R      reset bus statistics
  tab    switch between meter list and address input
  q      quit

Every operation opens the connection for its own exchange, so a dropped
gateway connection is recovered on the next request.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorScan, "scan", false, "Scan the bus on startup")
	monitorCmd.Flags().DurationVar(&monitorRefresh, "refresh", 0, "Periodic read interval (default: poll_interval from config)")
}

// meterManager runs bus operations for the monitor TUI. Each operation is a
// tea.Cmd; the master serializes them on the bus.
type meterManager struct {
	ctx     context.Context
	session *session
	p       *tea.Program
}

func runMonitor(cmd *cobra.Command, args []string) error {
	refresh := cfg.PollInterval
	if cmd.Flags().Changed("refresh") {
		if monitorRefresh <= 0 {
			return fmt.Errorf("--refresh must be positive")
		}
		refresh = monitorRefresh
	}

	targets, err := cfg.Targets()
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	mgr := &meterManager{ctx: ctx, session: s}
	m := initialMonitorModel(mgr, s.info, targets, refresh)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	mgr.p = p

	s.master.OnMeter(func(ev meterbus.MeterEvent) {
		p.Send(meterFoundMsg{event: ev})
	})

	if monitorScan {
		go p.Send(startScanMsg{})
	}

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// read requests user data (or alarm data) from target
func (mm *meterManager) read(target config.Target, alarm bool) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		packet, err := readTarget(mm.ctx, mm.session.master, target, alarm)
		return readResultMsg{
			target:   target,
			packet:   packet,
			err:      err,
			alarm:    alarm,
			duration: time.Since(start),
		}
	}
}

// probe checks that a primary-addressed meter acknowledges SND_NKE
func (mm *meterManager) probe(target config.Target) tea.Cmd {
	return func() tea.Msg {
		if target.Secondary != nil {
			return probeResultMsg{target: target, err: fmt.Errorf("cannot probe a secondary address")}
		}
		start := time.Now()
		err := mm.session.master.Probe(mm.ctx, target.Primary, 0)
		return probeResultMsg{target: target, err: err, duration: time.Since(start)}
	}
}

// scan probes every valid primary address. Meters show up through the
// OnMeter handler while the scan runs.
func (mm *meterManager) scan() tea.Cmd {
	return func() tea.Msg {
		addrs := make([]meterbus.PrimaryAddress, 0, meterbus.AddressMaxDevice+1)
		for a := 0; a <= int(meterbus.AddressMaxDevice); a++ {
			addrs = append(addrs, meterbus.PrimaryAddress(a))
		}
		start := time.Now()
		events, err := mm.session.master.Scan(mm.ctx, addrs, 0)
		return scanDoneMsg{found: len(events), err: err, duration: time.Since(start)}
	}
}
