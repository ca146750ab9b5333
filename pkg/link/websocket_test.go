// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/mbustat/pkg/meterbus"
)

// newBridge starts a WebSocket bridge that answers every binary message
// with an ack split across a text message and a binary message, then a
// data response split in two binary messages
func newBridge(t *testing.T, user, password string) *httptest.Server {
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user != "" {
			u, p, ok := r.BasicAuth()
			if !ok || u != user || p != password {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			messageType, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.BinaryMessage {
				continue
			}
			resp := meterbus.MustEncode(meterbus.NewLongFrame(meterbus.ControlRspUd, meterbus.CIResponseVariable, 3, meterData))
			conn.WriteMessage(websocket.TextMessage, []byte("status: ok"))
			conn.WriteMessage(websocket.BinaryMessage, resp[:7])
			conn.WriteMessage(websocket.BinaryMessage, resp[7:])
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketTransport_WithMaster(t *testing.T) {
	srv := newBridge(t, "admin", "secret")

	tr := NewWebSocketTransport(WebSocketConfig{
		URL:      wsURL(srv),
		Username: "admin",
		Password: "secret",
	}, Config{})
	m := meterbus.NewMaster(tr, meterbus.MasterConfig{})

	p, err := m.RequestData(context.Background(), 3, time.Second)
	require.NoError(t, err)
	assert.Equal(t, meterData, p.Data)
	assert.Contains(t, tr.Name(), "WebSocket")
}

func TestWebSocketTransport_Unauthorized(t *testing.T) {
	srv := newBridge(t, "admin", "secret")

	tr := NewWebSocketTransport(WebSocketConfig{
		URL:      wsURL(srv),
		Username: "admin",
		Password: "wrong",
	}, Config{})

	err := tr.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestDialWebSocket_InvalidScheme(t *testing.T) {
	_, err := DialWebSocket(context.Background(), WebSocketConfig{URL: "http://example.com/bus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}

func TestWebSocketConn_ReadAfterClose(t *testing.T) {
	srv := newBridge(t, "", "")

	conn, err := DialWebSocket(context.Background(), WebSocketConfig{URL: wsURL(srv)})
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	_, err = conn.Read(make([]byte, 8))
	require.Error(t, err)
	_, err = conn.Read(make([]byte, 8))
	assert.ErrorIs(t, err, ErrConnectionClosed)
}
