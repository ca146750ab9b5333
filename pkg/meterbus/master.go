// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package meterbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MasterConfig configures a Master. Zero values select defaults.
type MasterConfig struct {
	// Timeout is used by operations called with a zero timeout and by
	// write confirmations. Default: DefaultTimeout.
	Timeout time.Duration

	Logger *slog.Logger
	Tracer Tracer

	// ConfirmWrites makes SND_NKE and SND_UD operations wait for the
	// single-character acknowledgement.
	ConfirmWrites bool

	// LooseAddressing accepts data responses from any address. By default
	// a response must carry the address that was requested.
	LooseAddressing bool
}

// MeterEvent is emitted for every device that answered during a scan.
type MeterEvent struct {
	Address PrimaryAddress
	Frame   LongFrame
}

// Master drives request/response exchanges on one bus. Operations are
// serialized: only one request is outstanding at a time, and a response is
// correlated to the request by position.
type Master struct {
	transport Transport
	cfg       MasterConfig
	logger    *slog.Logger

	mu   sync.Mutex // serializes operations
	held bool

	statsMu sync.Mutex
	stats   *Statistics

	handlersMu sync.RWMutex
	handlers   []func(MeterEvent)
}

// NewMaster creates a master on top of t.
func NewMaster(t Transport, cfg MasterConfig) *Master {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Master{
		transport: t,
		cfg:       cfg,
		logger:    cfg.Logger,
		stats:     NewStatistics(),
	}
}

// OnMeter registers a handler called for every device found by Scan.
// Handlers run on the scanning goroutine.
func (m *Master) OnMeter(fn func(MeterEvent)) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// Stats returns a snapshot of the bus statistics.
func (m *Master) Stats() Statistics {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	s := *m.stats
	s.CalculateRates()
	return s
}

// ResetStats clears the bus statistics.
func (m *Master) ResetStats() {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.stats.Reset()
}

// Connect opens the transport and keeps it open until Disconnect. Without
// it, every operation connects and disconnects on its own.
func (m *Master) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		return nil
	}
	if err := m.transport.Connect(ctx); err != nil {
		return transportError("connect", err)
	}
	m.held = true
	m.logger.Debug("transport held open")
	return nil
}

// Disconnect releases a connection opened by Connect.
func (m *Master) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held {
		return ErrNotConnected
	}
	m.held = false
	m.logger.Debug("transport released")
	return transportError("disconnect", m.transport.Disconnect())
}

// Connected reports whether the transport is held open by Connect.
func (m *Master) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

// Ping sends SND_NKE to addr. The acknowledgement is only awaited with
// ConfirmWrites.
func (m *Master) Ping(ctx context.Context, addr PrimaryAddress) error {
	return m.write(ctx, "ping", NewShortFrame(ControlSndNke, addr))
}

// Initialize resets the link layer of addr to a known state (SND_NKE).
func (m *Master) Initialize(ctx context.Context, addr PrimaryAddress) error {
	return m.write(ctx, "initialize", NewShortFrame(ControlSndNke, addr))
}

// Probe sends SND_NKE to addr and waits for the acknowledgement.
func (m *Master) Probe(ctx context.Context, addr PrimaryAddress, timeout time.Duration) error {
	raw, err := Encode(NewShortFrame(ControlSndNke, addr))
	if err != nil {
		return err
	}
	return m.do(ctx, "probe", func(ctx context.Context) error {
		if err := m.send(ctx, raw); err != nil {
			return err
		}
		_, err := m.wait(ctx, m.timeout(timeout), isAck)
		return err
	})
}

// SetMeterAddress assigns newAddr as the primary address of the device at
// addr.
func (m *Master) SetMeterAddress(ctx context.Context, addr, newAddr PrimaryAddress) error {
	if !newAddr.Valid() {
		return fmt.Errorf("%w: %s is not a device address", ErrInvalidAddress, newAddr)
	}
	data := []byte{0x01, 0x7A, byte(newAddr)}
	return m.write(ctx, "set address", NewLongFrame(ControlSndUd, CIDataSend, addr, data))
}

// DemoIDPayload is sent by SetID when no payload is given.
var DemoIDPayload = []byte{0x0C, 0x79, 0x01, 0x02, 0x03, 0x04}

// SetID writes an identification number record to addr. A nil data sends
// DemoIDPayload; use IDPayload to build a real one.
func (m *Master) SetID(ctx context.Context, addr PrimaryAddress, data []byte) error {
	if data == nil {
		data = DemoIDPayload
	}
	if len(data) > MaxDataSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(data), MaxDataSize)
	}
	return m.write(ctx, "set id", NewLongFrame(ControlSndUd, CIDataSend, addr, data))
}

// IDPayload builds the SetID record for a serial number of up to 8 digits:
// DIF 0x0C, VIF 0x79 and the number as 4 BCD bytes, least significant first.
func IDPayload(serial string) ([]byte, error) {
	if len(serial) == 0 || len(serial) > 8 {
		return nil, fmt.Errorf("%w: serial %q must have 1 to 8 digits", ErrInvalidAddress, serial)
	}
	for len(serial) < 8 {
		serial = "0" + serial
	}
	id, err := StringToBCD(serial, true, false)
	if err != nil {
		return nil, err
	}
	return append([]byte{0x0C, 0x79}, id...), nil
}

// ResetApplication sends an application reset to addr.
func (m *Master) ResetApplication(ctx context.Context, addr PrimaryAddress) error {
	return m.write(ctx, "reset application", NewControlFrame(ControlSndUd, CIApplicationReset, addr))
}

// SetBaudRate switches the device at addr to baud. The device answers at
// the old rate, then listens at the new one.
func (m *Master) SetBaudRate(ctx context.Context, addr PrimaryAddress, baud int) error {
	ci, err := BaudRateCI(baud)
	if err != nil {
		return err
	}
	return m.write(ctx, "set baud rate", NewControlFrame(ControlSndUd, ci, addr))
}

// RequestAlarm requests class 1 (alarm) data from addr.
func (m *Master) RequestAlarm(ctx context.Context, addr PrimaryAddress, timeout time.Duration) (*Packet, error) {
	return m.request(ctx, "request alarm", ControlReqUd1, addr, timeout)
}

// RequestData requests class 2 data from addr. This is the periodic poll.
func (m *Master) RequestData(ctx context.Context, addr PrimaryAddress, timeout time.Duration) (*Packet, error) {
	return m.request(ctx, "request data", ControlReqUd2, addr, timeout)
}

// SelectSecondary selects the device matching sec. Afterwards it answers on
// AddressNetworkLayer until deselected or another device is selected.
func (m *Master) SelectSecondary(ctx context.Context, sec SecondaryAddress, timeout time.Duration) error {
	b := sec.WireBytes()
	raw, err := Encode(NewLongFrame(ControlSndUd, CISelectSlave, AddressNetworkLayer, b[:]))
	if err != nil {
		return err
	}
	return m.do(ctx, "select", func(ctx context.Context) error {
		if err := m.send(ctx, raw); err != nil {
			return err
		}
		_, err := m.wait(ctx, m.timeout(timeout), isAck)
		return err
	})
}

// Scan probes each address in turn. An address that does not acknowledge
// SND_NKE is skipped. An address that acknowledges but does not answer the
// data request fails the whole scan with ErrTimeout; events found before
// that are still returned.
func (m *Master) Scan(ctx context.Context, addrs []PrimaryAddress, timeout time.Duration) ([]MeterEvent, error) {
	timeout = m.timeout(timeout)
	var events []MeterEvent

	err := m.do(ctx, "scan", func(ctx context.Context) error {
		for _, addr := range addrs {
			if err := m.send(ctx, MustEncode(NewShortFrame(ControlSndNke, addr))); err != nil {
				return err
			}
			if _, err := m.wait(ctx, timeout, isAck); err != nil {
				if errors.Is(err, ErrTimeout) {
					m.logger.Debug("no device", "address", addr)
					continue
				}
				return err
			}

			req := NewShortFrame(ControlReqUd2.WithFCB(true), addr)
			if err := m.send(ctx, MustEncode(req)); err != nil {
				return err
			}
			f, err := m.wait(ctx, timeout, m.isResponseFrom(addr))
			if err != nil {
				if errors.Is(err, ErrTimeout) {
					return fmt.Errorf("address %s acknowledged but sent no data: %w", addr, err)
				}
				return err
			}

			ev := MeterEvent{Address: addr, Frame: f.(LongFrame)}
			m.logger.Info("meter found", "address", addr, "ci", ev.Frame.CI)
			events = append(events, ev)
			m.emit(ev)
		}
		return nil
	})
	return events, err
}

// write sends a SND_NKE or SND_UD frame, waiting for the acknowledgement
// with ConfirmWrites. Broadcasts without reply are never confirmed.
func (m *Master) write(ctx context.Context, op string, f Frame) error {
	raw, err := Encode(f)
	if err != nil {
		return err
	}
	addr, _ := FrameAddress(f)
	return m.do(ctx, op, func(ctx context.Context) error {
		if err := m.send(ctx, raw); err != nil {
			return err
		}
		if !m.cfg.ConfirmWrites || addr == AddressBroadcast {
			return nil
		}
		_, err := m.wait(ctx, m.cfg.Timeout, isAck)
		return err
	})
}

func (m *Master) request(ctx context.Context, op string, c Control, addr PrimaryAddress, timeout time.Duration) (*Packet, error) {
	raw, err := Encode(NewShortFrame(c, addr))
	if err != nil {
		return nil, err
	}

	var packet *Packet
	err = m.do(ctx, op, func(ctx context.Context) error {
		if err := m.send(ctx, raw); err != nil {
			return err
		}
		f, err := m.wait(ctx, m.timeout(timeout), m.isResponseFrom(addr))
		if err != nil {
			return err
		}
		packet = f.(LongFrame).Packet()
		return nil
	})
	return packet, err
}

// do runs one operation under the engine lock, connecting and always
// disconnecting around it unless the connection is held.
func (m *Master) do(ctx context.Context, op string, fn func(ctx context.Context) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.held {
		if err := m.transport.Connect(ctx); err != nil {
			return transportError("connect", err)
		}
		defer func() {
			if derr := m.transport.Disconnect(); derr != nil && err == nil {
				err = transportError("disconnect", derr)
			}
		}()
	}

	start := time.Now()
	err = fn(ctx)
	if err != nil {
		m.logger.Debug("operation failed", "op", op, "error", err, "elapsed", time.Since(start))
	} else {
		m.logger.Debug("operation done", "op", op, "elapsed", time.Since(start))
	}
	return err
}

// send drops stale inbound attempts, then transmits raw.
func (m *Master) send(ctx context.Context, raw []byte) error {
	m.drain()

	m.trace(DirectionTX, raw, nil)
	m.logger.Debug("tx", "raw", fmt.Sprintf("% X", raw))

	m.statsMu.Lock()
	m.stats.Requests++
	m.statsMu.Unlock()

	return transportError("send", m.transport.Send(ctx, raw))
}

func (m *Master) drain() {
	for {
		select {
		case raw := <-m.transport.Received():
			_, err := Decode(raw)
			m.record(raw, err)
			m.logger.Debug("dropped stale frame", "raw", fmt.Sprintf("% X", raw))
			if err == nil {
				m.statsMu.Lock()
				m.stats.Unexpected++
				m.statsMu.Unlock()
			}
		default:
			return
		}
	}
}

// wait returns the first inbound frame accepted by match. Attempts that fail
// validation and frames match rejects are dropped; the deadline is fixed
// when wait starts.
func (m *Master) wait(ctx context.Context, timeout time.Duration, match func(Frame) bool) (Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timer.C:
			m.statsMu.Lock()
			m.stats.Timeouts++
			m.statsMu.Unlock()
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)

		case raw := <-m.transport.Received():
			f, err := Decode(raw)
			m.record(raw, err)
			if err != nil {
				m.logger.Debug("ignored invalid frame", "raw", fmt.Sprintf("% X", raw), "error", err)
				continue
			}
			m.logger.Debug("rx", "frame", FormatFrame(f))
			if match(f) {
				return f, nil
			}
			m.statsMu.Lock()
			m.stats.Unexpected++
			m.statsMu.Unlock()
		}
	}
}

func (m *Master) record(raw []byte, decodeErr error) {
	m.trace(DirectionRX, raw, decodeErr)
	m.statsMu.Lock()
	m.stats.Update(decodeErr)
	m.statsMu.Unlock()
}

func (m *Master) trace(dir Direction, raw []byte, decodeErr error) {
	if m.cfg.Tracer != nil {
		m.cfg.Tracer.Trace(dir, raw, decodeErr)
	}
}

func (m *Master) emit(ev MeterEvent) {
	m.handlersMu.RLock()
	handlers := make([]func(MeterEvent), len(m.handlers))
	copy(handlers, m.handlers)
	m.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (m *Master) timeout(d time.Duration) time.Duration {
	if d <= 0 {
		return m.cfg.Timeout
	}
	return d
}

func isAck(f Frame) bool {
	return f.Kind() == KindAck
}

// isResponseFrom accepts slave data responses. Unless LooseAddressing is set
// the response must come from addr; requests to 253, 254 and 255 accept any
// address.
func (m *Master) isResponseFrom(addr PrimaryAddress) func(Frame) bool {
	return func(f Frame) bool {
		long, ok := f.(LongFrame)
		if !ok || long.Control.FromMaster() {
			return false
		}
		if m.cfg.LooseAddressing || addr >= AddressNetworkLayer {
			return true
		}
		return long.Address == addr
	}
}
