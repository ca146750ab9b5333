// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/mbustat/pkg/config"
	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive command prompt on a held connection",
	Long: `Open the bus once and run master commands from an interactive prompt.

The connection stays open between commands. If it drops, it is reopened
before the next command. Type 'help' at the prompt for the command list.`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

// shell is the interactive prompt state
type shell struct {
	s   *session
	rl  *readline.Instance
	out io.Writer
}

func runShell(cmd *cobra.Command, args []string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "mbus> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    shellCompleter(),
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	// Keep log output from tearing the prompt
	logger = newLogger(rl.Stderr())

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	sh := &shell{s: s, rl: rl, out: rl.Stdout()}
	s.master.OnMeter(func(ev meterbus.MeterEvent) {
		fmt.Fprintf(sh.out, "FOUND %s: %s\n", ev.Address, describeMeter(ev.Frame.Packet()))
	})

	ctx := cmd.Context()
	fmt.Fprintf(sh.out, "mbustat shell - %s\n", s.info)
	if err := sh.ensureConnected(ctx); err != nil {
		fmt.Fprintf(sh.out, "Not connected: %v\n", err)
	}
	fmt.Fprintln(sh.out, "Type 'help' for commands.")

	return sh.run(ctx)
}

func shellCompleter() *readline.PrefixCompleter {
	meters := func(string) []string {
		names := make([]string, 0, len(cfg.Meters))
		for _, m := range cfg.Meters {
			names = append(names, m.Name)
		}
		return names
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("ping"),
		readline.PcItem("probe"),
		readline.PcItem("read", readline.PcItemDynamic(meters)),
		readline.PcItem("alarm", readline.PcItemDynamic(meters)),
		readline.PcItem("select", readline.PcItemDynamic(meters)),
		readline.PcItem("scan"),
		readline.PcItem("init"),
		readline.PcItem("set_address"),
		readline.PcItem("set_id"),
		readline.PcItem("reset"),
		readline.PcItem("baud"),
		readline.PcItem("stats"),
		readline.PcItem("quit"),
	)
}

// run reads commands until quit, EOF or ctx cancellation
func (sh *shell) run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := sh.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(sh.out, "Exiting...")
			return nil
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		name := strings.ToLower(parts[0])
		args := parts[1:]

		if name == "quit" || name == "exit" || name == "q" {
			fmt.Fprintln(sh.out, "Exiting...")
			return nil
		}

		err = sh.dispatch(ctx, name, args)
		if err == nil {
			continue
		}
		fmt.Fprintf(sh.out, "Error: %v\n", err)

		var te *meterbus.TransportError
		if errors.As(err, &te) && sh.s.master.Connected() {
			if err := sh.s.master.Disconnect(); err != nil {
				logger.Debug("disconnect failed", "error", err)
			}
			fmt.Fprintln(sh.out, "Connection dropped; it is reopened before the next command.")
		}
	}
}

func (sh *shell) ensureConnected(ctx context.Context) error {
	if sh.s.master.Connected() {
		return nil
	}
	return sh.s.master.Connect(ctx)
}

func (sh *shell) dispatch(ctx context.Context, name string, args []string) error {
	switch name {
	case "help", "?":
		sh.printHelp()
		return nil
	case "stats":
		stats := sh.s.master.Stats()
		fmt.Fprint(sh.out, stats.String())
		return nil
	}

	if err := sh.ensureConnected(ctx); err != nil {
		return err
	}

	switch name {
	case "ping":
		return sh.cmdPing(ctx, args)
	case "probe":
		return sh.cmdProbe(ctx, args)
	case "read", "r":
		return sh.cmdRead(ctx, args, false)
	case "alarm":
		return sh.cmdRead(ctx, args, true)
	case "select":
		return sh.cmdSelect(ctx, args)
	case "scan":
		return sh.cmdScan(ctx, args)
	case "init":
		return sh.cmdInit(ctx, args)
	case "set_address":
		return sh.cmdSetAddress(ctx, args)
	case "set_id":
		return sh.cmdSetID(ctx, args)
	case "reset":
		return sh.cmdReset(ctx, args)
	case "baud":
		return sh.cmdBaud(ctx, args)
	default:
		return fmt.Errorf("unknown command %q (type 'help' for commands)", name)
	}
}

func (sh *shell) printHelp() {
	fmt.Fprintln(sh.out, `
M-Bus Master Commands:
  Link:
    ping <addr>               - Send SND_NKE without waiting
    probe <addr>              - Send SND_NKE and wait for the E5 acknowledgement
    init [addr]               - Initialize the bus (default: broadcast 255)

  Reading:
    read <addr|meter>         - Request user data (REQ_UD2)
    alarm <addr|meter>        - Request alarm data (REQ_UD1)
    select <secondary|meter>  - Select a meter by secondary address
    scan [from] [to]          - Probe primary addresses (default 0-250)

  Configuration:
    set_address <addr> <new>  - Change a meter's primary address
    set_id <addr> [serial]    - Write a new identification number
    reset <addr>              - Reset the meter application
    baud <addr> <rate>        - Switch a meter's baud rate

  General:
    stats                     - Show bus statistics
    help                      - Show this help
    quit                      - Exit

  Addresses are primary addresses (0-255) or meter names from the config file.`)
}

func (sh *shell) cmdPing(ctx context.Context, args []string) error {
	addr, err := sh.address(args, 0)
	if err != nil {
		return err
	}
	if err := sh.s.master.Ping(ctx, addr); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "SND_NKE sent to %s\n", addr)
	return nil
}

func (sh *shell) cmdProbe(ctx context.Context, args []string) error {
	addr, err := sh.address(args, 0)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := sh.s.master.Probe(ctx, addr, 0); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "ACK from %s, rtt=%v\n", addr, time.Since(start).Round(time.Millisecond))
	return nil
}

func (sh *shell) cmdRead(ctx context.Context, args []string, alarm bool) error {
	if len(args) < 1 {
		return fmt.Errorf("missing address or meter name")
	}
	target, err := resolveTarget(args[0])
	if err != nil {
		return err
	}
	packet, err := readTarget(ctx, sh.s.master, target, alarm)
	if err != nil {
		return err
	}
	fmt.Fprint(sh.out, meterbus.FormatPacket(packet))
	return nil
}

func (sh *shell) cmdSelect(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: select <secondary|meter> [manufacturer] [device-type]")
	}
	target, ok := cfg.Meter(args[0])
	if !ok {
		m := config.Meter{Name: args[0], Secondary: args[0]}
		if len(args) > 1 {
			m.Manufacturer = args[1]
		}
		if len(args) > 2 {
			m.DeviceType = args[2]
		}
		var err error
		if target, err = m.Resolve(); err != nil {
			return err
		}
	}
	if target.Secondary == nil {
		return fmt.Errorf("meter %q has no secondary address", target.Name)
	}
	if err := sh.s.master.SelectSecondary(ctx, *target.Secondary, 0); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Selected %s, now answering on %s\n", target.Secondary, meterbus.AddressNetworkLayer)
	return nil
}

func (sh *shell) cmdScan(ctx context.Context, args []string) error {
	from, to := 0, int(meterbus.AddressMaxDevice)
	var err error
	if len(args) > 0 {
		if from, err = strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("invalid start address %q", args[0])
		}
	}
	if len(args) > 1 {
		if to, err = strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("invalid end address %q", args[1])
		}
	}
	if from < 0 || to > int(meterbus.AddressMaxDevice) || from > to {
		return fmt.Errorf("scan range must be within 0-%d", meterbus.AddressMaxDevice)
	}

	addrs := make([]meterbus.PrimaryAddress, 0, to-from+1)
	for a := from; a <= to; a++ {
		addrs = append(addrs, meterbus.PrimaryAddress(a))
	}
	fmt.Fprintf(sh.out, "Scanning %d-%d...\n", from, to)
	events, err := sh.s.master.Scan(ctx, addrs, 0)
	fmt.Fprintf(sh.out, "%d meter(s) found\n", len(events))
	return err
}

func (sh *shell) cmdInit(ctx context.Context, args []string) error {
	addr := meterbus.AddressBroadcast
	if len(args) > 0 {
		var err error
		if addr, err = resolveAddress(args[0]); err != nil {
			return err
		}
	}
	if err := sh.s.master.Initialize(ctx, addr); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Initialized %s\n", addr)
	return nil
}

func (sh *shell) cmdSetAddress(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set_address <addr> <new-address>")
	}
	addr, err := resolveAddress(args[0])
	if err != nil {
		return err
	}
	newAddr, err := meterbus.ParsePrimaryAddress(args[1])
	if err != nil {
		return err
	}
	if err := sh.s.master.SetMeterAddress(ctx, addr, newAddr); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Address of %s set to %s\n", addr, newAddr)
	return nil
}

func (sh *shell) cmdSetID(ctx context.Context, args []string) error {
	addr, err := sh.address(args, 0)
	if err != nil {
		return err
	}
	var payload []byte
	if len(args) > 1 {
		if payload, err = meterbus.IDPayload(args[1]); err != nil {
			return err
		}
	}
	if err := sh.s.master.SetID(ctx, addr, payload); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Identification of %s written\n", addr)
	return nil
}

func (sh *shell) cmdReset(ctx context.Context, args []string) error {
	addr, err := sh.address(args, 0)
	if err != nil {
		return err
	}
	if err := sh.s.master.ResetApplication(ctx, addr); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Application reset sent to %s\n", addr)
	return nil
}

func (sh *shell) cmdBaud(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: baud <addr> <rate>")
	}
	addr, err := resolveAddress(args[0])
	if err != nil {
		return err
	}
	baud, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid baud rate %q", args[1])
	}
	if err := sh.s.master.SetBaudRate(ctx, addr, baud); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Baud rate of %s switched to %d\n", addr, baud)
	return nil
}

// address resolves args[i] as a primary address
func (sh *shell) address(args []string, i int) (meterbus.PrimaryAddress, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("missing address")
	}
	return resolveAddress(args[i])
}
