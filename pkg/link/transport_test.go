// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

var meterData = []byte{
	0x78, 0x56, 0x34, 0x12, 0x2D, 0x2C, 0x1A, 0x04, 0x2A, 0x00, 0x00, 0x00,
	0x04, 0x06, 0x10, 0x27, 0x00, 0x00,
}

// pipeOpener hands out the local end of a fresh net.Pipe on every Connect
type pipeOpener struct {
	mu      sync.Mutex
	remotes chan net.Conn
	opened  int
}

func newPipeOpener() *pipeOpener {
	return &pipeOpener{remotes: make(chan net.Conn, 4)}
}

func (p *pipeOpener) open(ctx context.Context) (io.ReadWriteCloser, error) {
	local, remote := net.Pipe()
	p.mu.Lock()
	p.opened++
	p.mu.Unlock()
	p.remotes <- remote
	return local, nil
}

func (p *pipeOpener) remote(t *testing.T) net.Conn {
	t.Helper()
	select {
	case r := <-p.remotes:
		return r
	case <-time.After(time.Second):
		t.Fatal("no connection opened")
		return nil
	}
}

func receive(t *testing.T, tr *StreamTransport) []byte {
	t.Helper()
	select {
	case attempt := <-tr.Received():
		return attempt
	case <-time.After(2 * time.Second):
		t.Fatal("no frame attempt received")
		return nil
	}
}

// serveMeter answers SND_NKE with an ack and REQ_UD2 with a data response
// for addr, on every connection accepted by ln
func serveMeter(ln net.Listener, addr meterbus.PrimaryAddress) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func(conn net.Conn) {
			defer conn.Close()
			decoder := meterbus.NewStreamDecoder()
			buf := make([]byte, 256)
			for {
				n, err := conn.Read(buf)
				if err != nil {
					return
				}
				for _, attempt := range decoder.Feed(buf[:n]) {
					f, err := meterbus.Decode(attempt)
					if err != nil {
						continue
					}
					short, ok := f.(meterbus.ShortFrame)
					if !ok || short.Address != addr {
						continue
					}
					switch short.Control.Function() {
					case meterbus.ControlSndNke.Function():
						conn.Write([]byte{meterbus.AckByte})
					case meterbus.ControlReqUd2.Function():
						// Split the answer to exercise reassembly
						resp := meterbus.MustEncode(meterbus.NewLongFrame(meterbus.ControlRspUd, meterbus.CIResponseVariable, addr, meterData))
						conn.Write(resp[:5])
						time.Sleep(10 * time.Millisecond)
						conn.Write(resp[5:])
					}
				}
			}
		}(conn)
	}
}

// ============================================================
// StreamTransport Tests
// ============================================================

func TestStreamTransport_SplitsFrames(t *testing.T) {
	opener := newPipeOpener()
	tr := NewStreamTransport(Config{Opener: opener.open})

	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Disconnect()
	remote := opener.remote(t)

	ack := meterbus.MustEncode(meterbus.AckFrame{})
	long := meterbus.MustEncode(meterbus.NewLongFrame(meterbus.ControlRspUd, meterbus.CIResponseVariable, 5, meterData))

	var stream []byte
	stream = append(stream, 0x00) // line noise
	stream = append(stream, ack...)
	stream = append(stream, long...)
	go remote.Write(stream)

	assert.Equal(t, ack, receive(t, tr))
	assert.Equal(t, long, receive(t, tr))
}

func TestStreamTransport_FlushesPartialFrame(t *testing.T) {
	opener := newPipeOpener()
	tr := NewStreamTransport(Config{Opener: opener.open, FrameGap: 20 * time.Millisecond})

	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Disconnect()
	remote := opener.remote(t)

	partial := []byte{0x68, 0x06, 0x06, 0x68, 0x08}
	go remote.Write(partial)

	attempt := receive(t, tr)
	assert.Equal(t, partial, attempt)
	_, err := meterbus.Decode(attempt)
	assert.ErrorIs(t, err, meterbus.ErrMalformedFrame)
}

func TestStreamTransport_Send(t *testing.T) {
	opener := newPipeOpener()
	tr := NewStreamTransport(Config{Opener: opener.open})

	err := tr.Send(context.Background(), []byte{0x10, 0x40, 0x05, 0x45, 0x16})
	assert.ErrorIs(t, err, meterbus.ErrNotConnected)

	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Disconnect()
	remote := opener.remote(t)

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := remote.Read(buf)
		got <- buf[:n]
	}()

	require.NoError(t, tr.Send(context.Background(), []byte{0x10, 0x40, 0x05, 0x45, 0x16}))
	select {
	case b := <-got:
		assert.Equal(t, []byte{0x10, 0x40, 0x05, 0x45, 0x16}, b)
	case <-time.After(time.Second):
		t.Fatal("remote did not receive the frame")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tr.Send(ctx, []byte{0xE5}), context.Canceled)
}

func TestStreamTransport_Reconnect(t *testing.T) {
	opener := newPipeOpener()
	tr := NewStreamTransport(Config{Opener: opener.open})
	ctx := context.Background()

	require.NoError(t, tr.Connect(ctx))
	require.NoError(t, tr.Connect(ctx), "connecting twice is a no-op")
	first := opener.remote(t)

	require.NoError(t, tr.Disconnect())
	require.NoError(t, tr.Disconnect(), "disconnecting twice is a no-op")

	// The remote end sees the close
	_, err := first.Read(make([]byte, 1))
	assert.Error(t, err)

	require.NoError(t, tr.Connect(ctx))
	defer tr.Disconnect()
	second := opener.remote(t)
	go second.Write([]byte{meterbus.AckByte})
	assert.Equal(t, []byte{meterbus.AckByte}, receive(t, tr))

	opener.mu.Lock()
	assert.Equal(t, 2, opener.opened)
	opener.mu.Unlock()
}

func TestStreamTransport_Lost(t *testing.T) {
	opener := newPipeOpener()
	tr := NewStreamTransport(Config{Opener: opener.open})
	assert.Nil(t, tr.Lost())

	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Disconnect()
	remote := opener.remote(t)

	lost := tr.Lost()
	select {
	case <-lost:
		t.Fatal("connection reported lost while open")
	default:
	}

	// A partial frame is still delivered when the peer hangs up
	_, err := remote.Write([]byte{0x10, 0x40})
	require.NoError(t, err)
	remote.Close()

	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("connection loss not reported")
	}
	assert.Equal(t, []byte{0x10, 0x40}, receive(t, tr))
}

func TestStreamTransport_DisconnectIsNotLoss(t *testing.T) {
	opener := newPipeOpener()
	tr := NewStreamTransport(Config{Opener: opener.open})

	require.NoError(t, tr.Connect(context.Background()))
	opener.remote(t)
	lost := tr.Lost()
	require.NoError(t, tr.Disconnect())

	select {
	case <-lost:
		t.Fatal("Disconnect reported as connection loss")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStreamTransport_NoOpener(t *testing.T) {
	tr := NewStreamTransport(Config{})
	assert.Error(t, tr.Connect(context.Background()))
}

func TestStreamTransport_QueueFull(t *testing.T) {
	opener := newPipeOpener()
	tr := NewStreamTransport(Config{Opener: opener.open, QueueSize: 2})

	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Disconnect()
	remote := opener.remote(t)

	_, err := remote.Write([]byte{0xE5, 0xE5, 0xE5, 0xE5})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return tr.Dropped() == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, tr.Received(), 2)
}

// ============================================================
// Master Integration Tests
// ============================================================

func TestTCPTransport_WithMaster(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go serveMeter(ln, 7)

	tr := NewTCPTransport(ln.Addr().String(), time.Second, Config{})
	m := meterbus.NewMaster(tr, meterbus.MasterConfig{})
	ctx := context.Background()

	p, err := m.RequestData(ctx, 7, time.Second)
	require.NoError(t, err)
	assert.Equal(t, meterbus.PrimaryAddress(7), p.Address)
	assert.Equal(t, meterData, p.Data)

	events, err := m.Scan(ctx, []meterbus.PrimaryAddress{6, 7}, 200*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, meterbus.PrimaryAddress(7), events[0].Address)
}

func TestTCPOpener_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	m := meterbus.NewMaster(NewTCPTransport(addr, time.Second, Config{}), meterbus.MasterConfig{})
	_, err = m.RequestData(context.Background(), 1, time.Second)

	var te *meterbus.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "connect", te.Op)
}

// ============================================================
// Serial Configuration Tests
// ============================================================

func TestParseParity(t *testing.T) {
	tests := []struct {
		input    string
		expected serial.Parity
	}{
		{"N", serial.NoParity},
		{"even", serial.EvenParity},
		{"e", serial.EvenParity},
		{"O", serial.OddParity},
	}
	for _, tt := range tests {
		p, err := ParseParity(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.expected, p, tt.input)
	}
	_, err := ParseParity("mark")
	assert.Error(t, err)
}

func TestDefaultSerialConfig(t *testing.T) {
	cfg := DefaultSerialConfig()
	assert.Equal(t, 2400, cfg.BaudRate)
	assert.Equal(t, 8, cfg.DataBits)
	assert.Equal(t, serial.EvenParity, cfg.Parity)
	assert.Equal(t, serial.OneStopBit, cfg.StopBits)
}
