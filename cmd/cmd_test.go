// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/mbustat/pkg/config"
	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

var kamHeader = []byte{
	0x78, 0x56, 0x34, 0x12, 0x2D, 0x2C, 0x1A, 0x04, 0x2A, 0x00, 0x00, 0x00,
}

// withConfig swaps the package configuration for one test
func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	saved := cfg
	cfg = c
	t.Cleanup(func() { cfg = saved })
}

func testConfig() *config.Config {
	c := config.Default()
	boiler := 5
	c.Meters = []config.Meter{
		{Name: "boiler", Primary: &boiler},
		{Name: "flat-3", Secondary: "12345678", Manufacturer: "KAM", DeviceType: "heat"},
	}
	return c
}

// ============================================================
// Exit Codes
// ============================================================

func TestExitCode(t *testing.T) {
	transportErr := &meterbus.TransportError{Op: "connect", Err: errors.New("connection refused")}

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"success", nil, 0},
		{"transport", transportErr, 2},
		{"wrapped transport", fmt.Errorf("reading boiler: %w", transportErr), 2},
		{"config", &config.LoadError{File: "mbustat.yaml", Message: "invalid configuration"}, 2},
		{"no connection", errNoConnection, 2},
		{"timeout", meterbus.ErrTimeout, 1},
		{"other", errors.New("3 of 3 pings failed"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExitCode(tt.err))
		})
	}
}

// ============================================================
// Target Resolution
// ============================================================

func TestResolveTarget(t *testing.T) {
	withConfig(t, testConfig())

	target, err := resolveTarget("boiler")
	require.NoError(t, err)
	assert.Equal(t, meterbus.PrimaryAddress(5), target.Primary)
	assert.Nil(t, target.Secondary)

	target, err = resolveTarget("flat-3")
	require.NoError(t, err)
	require.NotNil(t, target.Secondary)
	assert.Equal(t, meterbus.AddressNetworkLayer, target.Address())

	target, err = resolveTarget("17")
	require.NoError(t, err)
	assert.Equal(t, meterbus.PrimaryAddress(17), target.Primary)

	_, err = resolveTarget("kitchen")
	assert.Error(t, err)
	_, err = resolveTarget("300")
	assert.Error(t, err)
}

func TestResolveAddress(t *testing.T) {
	withConfig(t, testConfig())

	addr, err := resolveAddress("boiler")
	require.NoError(t, err)
	assert.Equal(t, meterbus.PrimaryAddress(5), addr)

	_, err = resolveAddress("flat-3")
	assert.ErrorContains(t, err, "secondary address")
}

// secondaryMeter answers like one meter selected by secondary address. Its
// Disconnect always fails.
type secondaryMeter struct {
	mu  sync.Mutex
	rx  chan []byte
	got [][]byte
}

func newSecondaryMeter() *secondaryMeter {
	return &secondaryMeter{rx: make(chan []byte, 16)}
}

func (s *secondaryMeter) Connect(ctx context.Context) error { return nil }

func (s *secondaryMeter) Disconnect() error { return errors.New("port already closed") }

func (s *secondaryMeter) Received() <-chan []byte { return s.rx }

func (s *secondaryMeter) Send(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, append([]byte(nil), data...))

	frame, err := meterbus.Decode(data)
	if err != nil {
		return err
	}
	switch f := frame.(type) {
	case meterbus.LongFrame:
		if f.CI == meterbus.CISelectSlave {
			s.rx <- []byte{meterbus.AckByte}
		}
	case meterbus.ShortFrame:
		if f.Address == meterbus.AddressNetworkLayer {
			s.rx <- meterbus.MustEncode(meterbus.NewLongFrame(meterbus.ControlRspUd,
				meterbus.CIResponseVariable, meterbus.AddressNetworkLayer, kamHeader))
		}
	}
	return nil
}

func TestReadTarget_SecondaryLogsDisconnectFailure(t *testing.T) {
	withConfig(t, testConfig())
	var logs bytes.Buffer
	saved := logger
	logger = slog.New(slog.NewTextHandler(&logs, nil))
	t.Cleanup(func() { logger = saved })

	target, err := resolveTarget("flat-3")
	require.NoError(t, err)

	meter := newSecondaryMeter()
	m := meterbus.NewMaster(meter, meterbus.MasterConfig{})
	packet, err := readTarget(context.Background(), m, target, false)
	require.NoError(t, err)
	assert.Equal(t, kamHeader, packet.Data)
	assert.False(t, m.Connected())

	assert.Contains(t, logs.String(), "disconnect failed")
	assert.Contains(t, logs.String(), "port already closed")

	// Selection carries the meter's header identification
	require.Len(t, meter.got, 2)
	sel, err := meterbus.Decode(meter.got[0])
	require.NoError(t, err)
	assert.Equal(t, []byte{0x78, 0x56, 0x34, 0x12, 0x2D, 0x2C, 0xFF, 0x04}, sel.(meterbus.LongFrame).Data)
}

// ============================================================
// Error Detection
// ============================================================

func TestFrameIssues(t *testing.T) {
	badManufacturer := append([]byte{}, kamHeader...)
	badManufacturer[4], badManufacturer[5] = 0xFF, 0xFF

	tests := []struct {
		name   string
		frame  meterbus.Frame
		issues int
	}{
		{"ack", meterbus.AckFrame{}, 0},
		{"short", meterbus.NewShortFrame(meterbus.ControlReqUd2, 5), 0},
		{"variable data", meterbus.NewLongFrame(meterbus.ControlRspUd, meterbus.CIResponseVariable, 5, kamHeader), 0},
		{"truncated header", meterbus.NewLongFrame(meterbus.ControlRspUd, meterbus.CIResponseVariable, 5, kamHeader[:6]), 1},
		{"wildcard manufacturer", meterbus.NewLongFrame(meterbus.ControlRspUd, meterbus.CIResponseVariable, 5, badManufacturer), 1},
		{"truncated fixed data", meterbus.NewLongFrame(meterbus.ControlRspUd, meterbus.CIResponseFixed, 5, kamHeader[:4]), 1},
		{"alarm", meterbus.NewLongFrame(meterbus.ControlRspUd, meterbus.CIResponseAlarm, 5, []byte{0x01}), 0},
		{"unexpected CI", meterbus.NewLongFrame(meterbus.ControlRspUd, meterbus.CIDataSend, 5, kamHeader), 1},
		{"master frame", meterbus.NewLongFrame(meterbus.ControlSndUd, meterbus.CIDataSend, 5, []byte{0x01}), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, frameIssues(tt.frame), tt.issues)
		})
	}
}

func TestSyncTracker(t *testing.T) {
	var s syncTracker

	counts, justSynced := s.observe(meterbus.ErrMalformedFrame)
	assert.False(t, counts)
	assert.False(t, justSynced)
	s.observe(meterbus.ErrChecksumMismatch)
	assert.Equal(t, 2, s.invalidAttempts)

	counts, justSynced = s.observe(nil)
	assert.True(t, counts)
	assert.True(t, justSynced)

	// Errors after synchronization are counted
	counts, justSynced = s.observe(meterbus.ErrChecksumMismatch)
	assert.True(t, counts)
	assert.False(t, justSynced)
	assert.Equal(t, 2, s.invalidAttempts)
}

// ============================================================
// Monitor Model
// ============================================================

func TestMonitorModel_MergesScanResults(t *testing.T) {
	c := testConfig()
	targets, err := c.Targets()
	require.NoError(t, err)

	m := initialMonitorModel(nil, "TCP: 127.0.0.1:10001", targets, time.Minute)
	require.Len(t, m.meters, 2)

	found := meterbus.MeterEvent{
		Address: 5,
		Frame:   meterbus.NewLongFrame(meterbus.ControlRspUd, meterbus.CIResponseVariable, 5, kamHeader),
	}
	updated, _ := m.Update(meterFoundMsg{event: found})
	m = updated.(monitorModel)

	require.Len(t, m.meters, 2, "configured meter at the same address is reused")
	boiler := m.meters[0]
	assert.Equal(t, "boiler", boiler.target.Name)
	assert.Equal(t, sourceConfig, boiler.source)
	assert.Contains(t, boiler.ident, "123456782C2D1A04")
	assert.NotNil(t, boiler.packet)

	found.Address = 9
	found.Frame.Address = 9
	updated, _ = m.Update(meterFoundMsg{event: found})
	m = updated.(monitorModel)

	require.Len(t, m.meters, 3)
	assert.Equal(t, sourceScan, m.meters[2].source)
	assert.Equal(t, meterbus.PrimaryAddress(9), m.meters[2].target.Primary)
}

func TestMonitorModel_ReadResults(t *testing.T) {
	m := initialMonitorModel(nil, "TCP: 127.0.0.1:10001", nil, time.Minute)
	target := config.Target{Name: "7", Primary: 7}

	m.pending = 1
	updated, _ := m.Update(readResultMsg{target: target, err: meterbus.ErrTimeout})
	m = updated.(monitorModel)

	require.Len(t, m.meters, 1)
	assert.True(t, m.meters[0].failed)
	assert.Equal(t, 0, m.pending)
	require.NotEmpty(t, m.errorLog)
	assert.True(t, m.errorLog[len(m.errorLog)-1].isError)

	packet := meterbus.NewLongFrame(meterbus.ControlRspUd, meterbus.CIResponseVariable, 7, kamHeader).Packet()
	m.pending = 1
	updated, _ = m.Update(readResultMsg{target: target, packet: packet, duration: 120 * time.Millisecond})
	m = updated.(monitorModel)

	require.Len(t, m.meters, 1)
	e := m.meters[0]
	assert.False(t, e.failed)
	assert.Same(t, packet, e.packet)
	assert.Equal(t, "12 bytes", e.status)
	assert.NotContains(t, m.View(), "No data yet")
}

// ============================================================
// Trace Filters
// ============================================================

func TestTraceFilter(t *testing.T) {
	defer func() { traceDirection, traceKind, traceSince = "", "", "" }()

	traceDirection = "RX"
	traceKind = "long"
	traceSince = "2025-06-01T08:00:00Z"
	filter, err := traceFilter()
	require.NoError(t, err)
	require.NotNil(t, filter.Direction)
	assert.Equal(t, meterbus.DirectionRX, *filter.Direction)
	assert.Equal(t, "LONG", filter.Kind)
	require.NotNil(t, filter.TimeStart)
	assert.Equal(t, 8, filter.TimeStart.Hour())

	traceDirection = "both"
	_, err = traceFilter()
	assert.Error(t, err)

	traceDirection = ""
	traceSince = "yesterday"
	_, err = traceFilter()
	assert.Error(t, err)
}
