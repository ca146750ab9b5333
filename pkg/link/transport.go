// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link provides byte transports for the M-Bus master: serial ports,
// raw TCP (M-Bus to Ethernet gateways) and the WebSocket serial bridge.
package link

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

// Defaults
const (
	// DefaultFrameGap ends a partial frame when no byte arrives for this
	// long. Generous for 300 baud, where one character takes ~37ms.
	DefaultFrameGap = 250 * time.Millisecond

	// DefaultQueueSize is the capacity of the inbound attempt channel.
	DefaultQueueSize = 64

	readBufferSize = 512
)

// Opener opens the underlying byte stream. It is called on every Connect.
type Opener func(ctx context.Context) (io.ReadWriteCloser, error)

// Config configures a StreamTransport
type Config struct {
	Opener    Opener
	Name      string // for logs, e.g. "serial /dev/ttyUSB0"
	FrameGap  time.Duration
	QueueSize int
	Logger    *slog.Logger
}

// StreamTransport implements meterbus.Transport over any byte stream. A
// reader goroutine splits the stream into frame attempts with a
// meterbus.StreamDecoder and publishes them on a channel that lives as long
// as the transport.
type StreamTransport struct {
	cfg Config
	rx  chan []byte

	mu      sync.Mutex
	conn    io.ReadWriteCloser
	done    chan struct{}
	lost    chan struct{}
	wg      sync.WaitGroup
	dropped uint64
	skipped int
}

// NewStreamTransport creates a transport. Zero config values select defaults.
func NewStreamTransport(cfg Config) *StreamTransport {
	if cfg.FrameGap <= 0 {
		cfg.FrameGap = DefaultFrameGap
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Name == "" {
		cfg.Name = "stream"
	}
	return &StreamTransport{
		cfg: cfg,
		rx:  make(chan []byte, cfg.QueueSize),
	}
}

// Name returns the human-readable connection description
func (t *StreamTransport) Name() string {
	return t.cfg.Name
}

// Connect opens the stream and starts the reader. Connecting an open
// transport is a no-op.
func (t *StreamTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}
	if t.cfg.Opener == nil {
		return fmt.Errorf("%s: no opener configured", t.cfg.Name)
	}

	conn, err := t.cfg.Opener(ctx)
	if err != nil {
		return err
	}

	t.conn = conn
	t.done = make(chan struct{})
	t.lost = make(chan struct{})
	t.wg.Add(1)
	go t.run(conn, t.done, t.lost)

	t.cfg.Logger.Debug("connected", "transport", t.cfg.Name)
	return nil
}

// Disconnect closes the stream and waits for the reader to stop. Frames
// already queued stay on the channel.
func (t *StreamTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}

	close(t.done)
	err := t.conn.Close()
	t.wg.Wait()
	t.conn = nil

	t.cfg.Logger.Debug("disconnected", "transport", t.cfg.Name)
	return err
}

// Send writes data to the stream
func (t *StreamTransport) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return meterbus.ErrNotConnected
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Received implements meterbus.Transport
func (t *StreamTransport) Received() <-chan []byte {
	return t.rx
}

// Lost is closed when the current connection fails on its own, e.g. the
// gateway hung up. Disconnect is still required afterwards. Before the
// first Connect it returns nil.
func (t *StreamTransport) Lost() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lost
}

// Dropped returns the number of attempts discarded because the queue was
// full.
func (t *StreamTransport) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Skipped returns the number of noise bytes seen between frames.
func (t *StreamTransport) Skipped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.skipped
}

func (t *StreamTransport) run(conn io.Reader, done <-chan struct{}, lost chan<- struct{}) {
	defer t.wg.Done()

	chunks := make(chan []byte)
	readErr := make(chan error, 1)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		buf := make([]byte, readBufferSize)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunks <- chunk:
				case <-done:
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	decoder := meterbus.NewStreamDecoder()
	idle := time.NewTimer(t.cfg.FrameGap)
	idle.Stop()
	defer idle.Stop()

	for {
		select {
		case <-done:
			return

		case chunk := <-chunks:
			for _, attempt := range decoder.Feed(chunk) {
				t.publish(attempt)
			}
			if decoder.Pending() {
				idle.Reset(t.cfg.FrameGap)
			}
			t.mu.Lock()
			t.skipped = decoder.Skipped()
			t.mu.Unlock()

		case <-idle.C:
			if attempt := decoder.Flush(); attempt != nil {
				t.cfg.Logger.Debug("partial frame flushed", "transport", t.cfg.Name, "bytes", len(attempt))
				t.publish(attempt)
			}

		case err := <-readErr:
			if attempt := decoder.Flush(); attempt != nil {
				t.publish(attempt)
			}
			select {
			case <-done:
			default:
				t.cfg.Logger.Warn("read failed", "transport", t.cfg.Name, "error", err)
				close(lost)
			}
			return
		}
	}
}

func (t *StreamTransport) publish(attempt []byte) {
	select {
	case t.rx <- attempt:
	default:
		t.mu.Lock()
		t.dropped++
		t.mu.Unlock()
		t.cfg.Logger.Warn("inbound queue full, frame dropped", "transport", t.cfg.Name)
	}
}
