// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the mbustat YAML configuration file.
//
// A minimal file:
//
//	connection:
//	  port: /dev/ttyUSB0
//	  baud: 2400
//	timeout: 2s
//	meters:
//	  - name: boiler
//	    primary: 5
//	  - name: flat-3
//	    secondary: "12345678"
//	    manufacturer: KAM
//	    device_type: heat
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/mbustat/pkg/link"
	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

// DefaultPollInterval is the delay between readings of the poll command.
const DefaultPollInterval = 60 * time.Second

// Config is the top-level configuration file.
type Config struct {
	Connection Connection `yaml:"connection"`

	// Timeout for each response. Default: 2s.
	Timeout time.Duration `yaml:"timeout"`

	PollInterval time.Duration `yaml:"poll_interval"`

	// FrameGap is the silence after which a partial frame is discarded.
	FrameGap time.Duration `yaml:"frame_gap"`

	LooseAddressing bool `yaml:"loose_addressing"`
	ConfirmWrites   bool `yaml:"confirm_writes"`

	// Trace is a CBOR trace file that all bus traffic is appended to.
	Trace string `yaml:"trace"`

	Meters []Meter `yaml:"meters"`
}

// Connection selects one of the serial, TCP or WebSocket transports.
type Connection struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	Parity      string        `yaml:"parity"`
	TCP         string        `yaml:"tcp"`
	URL         string        `yaml:"url"`
	Username    string        `yaml:"username"`
	NoSSLVerify bool          `yaml:"no_ssl_verify"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Configured reports whether any transport is set.
func (c Connection) Configured() bool {
	return c.Port != "" || c.TCP != "" || c.URL != ""
}

// Meter names a device on the bus, by primary address or by secondary
// address fields.
type Meter struct {
	Name    string `yaml:"name"`
	Primary *int   `yaml:"primary,omitempty"`

	// Secondary is either up to 8 serial digits, combined with
	// Manufacturer and DeviceType, or the full 16-character form.
	Secondary    string `yaml:"secondary,omitempty"`
	Manufacturer string `yaml:"manufacturer,omitempty"`
	DeviceType   string `yaml:"device_type,omitempty"`
}

// Target is a resolved meter address. Secondary is nil for meters addressed
// by primary address.
type Target struct {
	Name      string
	Primary   meterbus.PrimaryAddress
	Secondary *meterbus.SecondaryAddress
}

// Address returns the primary address requests go to: the meter's own, or
// the network layer address after secondary selection.
func (t Target) Address() meterbus.PrimaryAddress {
	if t.Secondary != nil {
		return meterbus.AddressNetworkLayer
	}
	return t.Primary
}

// String implements fmt.Stringer
func (t Target) String() string {
	if t.Secondary != nil {
		return fmt.Sprintf("%s (secondary %s)", t.Name, t.Secondary)
	}
	return fmt.Sprintf("%s (primary %s)", t.Name, t.Primary)
}

// Resolve converts the meter into bus addresses.
func (m Meter) Resolve() (Target, error) {
	target := Target{Name: m.Name}

	switch {
	case m.Primary != nil && m.Secondary != "":
		return Target{}, fmt.Errorf("meter %q: primary and secondary are mutually exclusive", m.Name)

	case m.Primary != nil:
		if *m.Primary < 0 || *m.Primary > 255 {
			return Target{}, fmt.Errorf("meter %q: %w: %d", m.Name, meterbus.ErrInvalidAddress, *m.Primary)
		}
		target.Primary = meterbus.PrimaryAddress(*m.Primary)
		if !target.Primary.Valid() {
			return Target{}, fmt.Errorf("meter %q: %w: %d", m.Name, meterbus.ErrInvalidAddress, *m.Primary)
		}
		return target, nil

	case m.Secondary != "":
		sec, err := m.secondary()
		if err != nil {
			return Target{}, fmt.Errorf("meter %q: %w", m.Name, err)
		}
		target.Secondary = &sec
		return target, nil
	}

	return Target{}, fmt.Errorf("meter %q: needs a primary or secondary address", m.Name)
}

func (m Meter) secondary() (meterbus.SecondaryAddress, error) {
	if len(m.Secondary) == 16 {
		if m.Manufacturer != "" || m.DeviceType != "" {
			return meterbus.SecondaryAddress{}, fmt.Errorf("full secondary address %q cannot be combined with manufacturer or device_type", m.Secondary)
		}
		return meterbus.ParseSecondaryAddressString(m.Secondary)
	}

	man := meterbus.ManufacturerAny
	if m.Manufacturer != "" {
		var err error
		if man, err = meterbus.EncodeManufacturer(strings.ToUpper(m.Manufacturer)); err != nil {
			return meterbus.SecondaryAddress{}, err
		}
	}

	deviceType := meterbus.DeviceTypeAny
	if m.DeviceType != "" {
		var err error
		if deviceType, err = meterbus.ParseDeviceType(m.DeviceType); err != nil {
			return meterbus.SecondaryAddress{}, err
		}
	}

	return meterbus.NewSecondaryAddress(m.Secondary, man, deviceType)
}

// LoadError reports a configuration file that could not be used.
type LoadError struct {
	// File is the path to the file that failed to load.
	File string

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	serialCfg := link.DefaultSerialConfig()
	return &Config{
		Connection: Connection{
			Baud:        serialCfg.BaudRate,
			Parity:      "even",
			DialTimeout: link.DefaultDialTimeout,
		},
		Timeout:      meterbus.DefaultTimeout,
		PollInterval: DefaultPollInterval,
		FrameGap:     link.DefaultFrameGap,
	}
}

// Parse reads a configuration from YAML bytes. Fields missing from data
// keep their defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{Message: "invalid configuration", Cause: err}
	}
	return cfg, nil
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}

	cfg, err := Parse(data)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{File: path, Message: err.Error()}
	}
	return cfg, nil
}

// Validate checks field ranges and meter definitions.
func (c *Config) Validate() error {
	set := 0
	for _, s := range []string{c.Connection.Port, c.Connection.TCP, c.Connection.URL} {
		if s != "" {
			set++
		}
	}
	if set > 1 {
		return fmt.Errorf("connection: only one of port, tcp and url may be set")
	}
	if c.Connection.Baud <= 0 {
		return fmt.Errorf("connection: invalid baud rate %d", c.Connection.Baud)
	}
	if _, err := link.ParseParity(c.Connection.Parity); err != nil {
		return fmt.Errorf("connection: %w", err)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.FrameGap <= 0 {
		return fmt.Errorf("frame_gap must be positive, got %s", c.FrameGap)
	}

	names := make(map[string]bool, len(c.Meters))
	for i, m := range c.Meters {
		if m.Name == "" {
			return fmt.Errorf("meters[%d]: name is required", i)
		}
		if names[m.Name] {
			return fmt.Errorf("meters[%d]: duplicate name %q", i, m.Name)
		}
		names[m.Name] = true
		if _, err := m.Resolve(); err != nil {
			return err
		}
	}
	return nil
}

// Meter looks up a meter by name.
func (c *Config) Meter(name string) (Target, bool) {
	for _, m := range c.Meters {
		if m.Name == name {
			target, err := m.Resolve()
			return target, err == nil
		}
	}
	return Target{}, false
}

// Targets resolves all configured meters in file order.
func (c *Config) Targets() ([]Target, error) {
	targets := make([]Target, 0, len(c.Meters))
	for _, m := range c.Meters {
		target, err := m.Resolve()
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}
