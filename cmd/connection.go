// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Thermoquad/mbustat/pkg/capture"
	"github.com/Thermoquad/mbustat/pkg/config"
	"github.com/Thermoquad/mbustat/pkg/link"
	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

var errNoConnection = errors.New("one of --port, --tcp or --url must be specified")

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("MBUSTAT_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenTransport builds the serial, TCP or WebSocket transport selected by
// the configuration. The transport is not connected yet.
func OpenTransport() (*link.StreamTransport, string, error) {
	conn := cfg.Connection
	base := link.Config{
		FrameGap: cfg.FrameGap,
		Logger:   logger,
	}

	switch {
	case conn.URL != "":
		password := ""
		if conn.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}
		info := fmt.Sprintf("WebSocket: %s", conn.URL)
		base.Name = info
		t := link.NewWebSocketTransport(link.WebSocketConfig{
			URL:           conn.URL,
			Username:      conn.Username,
			Password:      password,
			SkipSSLVerify: conn.NoSSLVerify,
		}, base)
		return t, info, nil

	case conn.TCP != "":
		info := fmt.Sprintf("TCP: %s", conn.TCP)
		base.Name = info
		return link.NewTCPTransport(conn.TCP, conn.DialTimeout, base), info, nil

	case conn.Port != "":
		parity, err := link.ParseParity(conn.Parity)
		if err != nil {
			return nil, "", err
		}
		serialCfg := link.DefaultSerialConfig()
		serialCfg.BaudRate = conn.Baud
		serialCfg.Parity = parity

		info := fmt.Sprintf("Serial: %s @ %d baud", conn.Port, conn.Baud)
		base.Name = info
		return link.NewSerialTransport(conn.Port, serialCfg, base), info, nil
	}

	return nil, "", errNoConnection
}

// session bundles a master with its transport and optional trace recorder
type session struct {
	master    *meterbus.Master
	transport *link.StreamTransport
	recorder  *capture.FileRecorder
	info      string
}

// openSession creates a master on the configured transport. Extra tracers
// see every frame attempt next to the trace file.
func openSession(tracers ...meterbus.Tracer) (*session, error) {
	t, info, err := OpenTransport()
	if err != nil {
		return nil, err
	}

	s := &session{transport: t, info: info}
	if cfg.Trace != "" {
		s.recorder, err = capture.NewFileRecorder(cfg.Trace, info)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace file: %w", err)
		}
		tracers = append(tracers, s.recorder)
	}

	var tracer meterbus.Tracer
	if len(tracers) > 0 {
		tracer = capture.Tee(tracers)
	}

	s.master = meterbus.NewMaster(t, meterbus.MasterConfig{
		Timeout:         cfg.Timeout,
		Logger:          logger,
		Tracer:          tracer,
		ConfirmWrites:   cfg.ConfirmWrites,
		LooseAddressing: cfg.LooseAddressing,
	})
	return s, nil
}

// Close releases a held connection and the trace file
func (s *session) Close() {
	if s.master.Connected() {
		if err := s.master.Disconnect(); err != nil {
			logger.Warn("disconnect failed", "error", err)
		}
	}
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			logger.Warn("closing trace file failed", "error", err)
		}
	}
}

func (s *session) printHeader(title string) {
	fmt.Printf("mbustat - %s\n", title)
	fmt.Printf("Connection: %s\n", s.info)
	if s.recorder != nil {
		fmt.Printf("Trace: %s (session %s)\n", cfg.Trace, s.recorder.SessionID())
	}
	fmt.Println()
}

// resolveTarget accepts a meter name from the configuration file or a
// primary address (0-255).
func resolveTarget(arg string) (config.Target, error) {
	if target, ok := cfg.Meter(arg); ok {
		return target, nil
	}
	addr, err := meterbus.ParsePrimaryAddress(arg)
	if err != nil {
		return config.Target{}, fmt.Errorf("%q is neither a configured meter nor an address: %w", arg, err)
	}
	return config.Target{Name: addr.String(), Primary: addr}, nil
}

// resolveAddress is resolveTarget for commands that need a primary address
func resolveAddress(arg string) (meterbus.PrimaryAddress, error) {
	target, err := resolveTarget(arg)
	if err != nil {
		return 0, err
	}
	if target.Secondary != nil {
		return 0, fmt.Errorf("meter %q is addressed by secondary address; use select first", target.Name)
	}
	return target.Primary, nil
}

// readTarget requests user data from a meter, selecting it first when it is
// configured by secondary address. The connection is held across both steps.
func readTarget(ctx context.Context, m *meterbus.Master, target config.Target, alarm bool) (*meterbus.Packet, error) {
	if target.Secondary != nil {
		held := m.Connected()
		if !held {
			if err := m.Connect(ctx); err != nil {
				return nil, err
			}
			defer func() {
				if err := m.Disconnect(); err != nil {
					logger.Warn("disconnect failed", "error", err)
				}
			}()
		}
		if err := m.SelectSecondary(ctx, *target.Secondary, 0); err != nil {
			return nil, fmt.Errorf("selecting %s: %w", target.Secondary, err)
		}
	}

	if alarm {
		return m.RequestAlarm(ctx, target.Address(), 0)
	}
	return m.RequestData(ctx, target.Address(), 0)
}

// withSession opens a session, prints the banner and runs fn
func withSession(cmd *cobra.Command, title string, fn func(ctx context.Context, s *session) error) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	s.printHeader(title)
	return fn(cmd.Context(), s)
}

// watchBus connects t and hands every inbound frame attempt to fn until ctx
// is cancelled. A lost connection is re-established with exponential
// backoff; onLost and onReconnect report it.
func watchBus(ctx context.Context, t *link.StreamTransport, fn func(raw []byte), onLost func(), onReconnect func()) error {
	if err := t.Connect(ctx); err != nil {
		return &meterbus.TransportError{Op: "connect", Err: err}
	}
	defer t.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return nil

		case raw := <-t.Received():
			fn(raw)

		case <-t.Lost():
			t.Disconnect()
			if onLost != nil {
				onLost()
			}
			if !reconnect(ctx, t) {
				return nil
			}
			if onReconnect != nil {
				onReconnect()
			}
		}
	}
}

// reconnect attempts to reconnect with exponential backoff
// Returns false if ctx was cancelled during reconnection
func reconnect(ctx context.Context, t *link.StreamTransport) bool {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		err := t.Connect(ctx)
		if err == nil {
			return true
		}
		logger.Debug("reconnect failed", "error", err, "retry", backoff)

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
