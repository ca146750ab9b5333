// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mbustat/pkg/config"
	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

var (
	configPath string

	// Serial connection flags
	portName   string
	baudRate   int
	parityName string

	// TCP gateway flags
	tcpAddr string

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Bus behaviour flags
	responseTimeout time.Duration
	looseAddressing bool
	confirmWrites   bool
	tracePath       string
	verbose         bool

	// cfg is the merged configuration: file values overridden by flags
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mbustat",
	Short: "M-Bus master and bus analyzer",
	Long: `mbustat - A CLI tool for talking to and analyzing wired M-Bus (EN 13757) meters.

Acts as the bus master: addresses meters by primary or secondary address,
reads their data, reconfigures them and scans the bus. Raw traffic can be
logged live or recorded to a trace file for later inspection.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 2400] [--parity E]
  TCP:       --tcp 192.168.1.40:10001
  WebSocket: --url ws://host/path [--username user]

Settings can also be read from a YAML file with --config; flags take
precedence over the file.

For WebSocket authentication, the password is read from the MBUSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Exit codes:
  0 - Success
  1 - Protocol failure or timeout
  2 - Connection error`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 2400, "Baud rate (serial only)")
	rootCmd.PersistentFlags().StringVar(&parityName, "parity", "E", "Parity N, E or O (serial only)")

	// TCP gateway flags
	rootCmd.PersistentFlags().StringVar(&tcpAddr, "tcp", "", "TCP gateway address (host:port)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().DurationVarP(&responseTimeout, "timeout", "t", meterbus.DefaultTimeout, "Response timeout")
	rootCmd.PersistentFlags().BoolVar(&looseAddressing, "loose", false, "Accept responses from any address")
	rootCmd.PersistentFlags().BoolVar(&confirmWrites, "confirm", false, "Wait for the acknowledgement of SND_NKE/SND_UD")
	rootCmd.PersistentFlags().StringVar(&tracePath, "trace", "", "Append all bus traffic to a CBOR trace file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging on stderr")
}

// newLogger creates the text logger, at debug level with --verbose
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// setup loads the configuration file and applies flag overrides
func setup(cmd *cobra.Command, args []string) error {
	logger = newLogger(os.Stderr)

	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Connection.Port, cfg.Connection.TCP, cfg.Connection.URL = portName, "", ""
	}
	if flags.Changed("tcp") {
		cfg.Connection.Port, cfg.Connection.TCP, cfg.Connection.URL = "", tcpAddr, ""
	}
	if flags.Changed("url") {
		cfg.Connection.Port, cfg.Connection.TCP, cfg.Connection.URL = "", "", wsURL
	}
	if flags.Changed("baud") {
		cfg.Connection.Baud = baudRate
	}
	if flags.Changed("parity") {
		cfg.Connection.Parity = parityName
	}
	if flags.Changed("username") {
		cfg.Connection.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Connection.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("timeout") {
		cfg.Timeout = responseTimeout
	}
	if flags.Changed("loose") {
		cfg.LooseAddressing = looseAddressing
	}
	if flags.Changed("confirm") {
		cfg.ConfirmWrites = confirmWrites
	}
	if flags.Changed("trace") {
		cfg.Trace = tracePath
	}

	return cfg.Validate()
}

// Execute runs the root command. Ctrl+C cancels the running operation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps a command error to the process exit code
func ExitCode(err error) int {
	var te *meterbus.TransportError
	var le *config.LoadError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &te), errors.As(err, &le), errors.Is(err, errNoConnection):
		return 2
	}
	return 1
}
