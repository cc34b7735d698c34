// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcpmesh/pkg/vmcp"
	"github.com/stacklok/mcpmesh/pkg/vmcp/config"
)

// handshakeOnlyWebsocketServer speaks just enough MCP to complete the
// initialize handshake, then drops the link. accepts counts dials.
func handshakeOnlyWebsocketServer(t *testing.T, accepts *atomic.Int32) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accepts.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg struct {
				ID     json.RawMessage `json:"id"`
				Method string          `json:"method"`
				Params struct {
					ProtocolVersion string `json:"protocolVersion"`
				} `json:"params"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				return
			}
			if msg.Method == "initialize" {
				resp := fmt.Sprintf(
					`{"jsonrpc":"2.0","id":%s,"result":{"protocolVersion":%q,"capabilities":{},"serverInfo":{"name":"ws-test","version":"1.0"}}}`,
					msg.ID, msg.Params.ProtocolVersion,
				)
				if err := conn.WriteMessage(websocket.TextMessage, []byte(resp)); err != nil {
					return
				}
				continue
			}
			// The initialized notification completes the handshake; drop
			// the link so the close hook fires.
			if msg.ID == nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebsocketDisconnectEvictsPooledClient(t *testing.T) {
	t.Parallel()

	var accepts atomic.Int32
	srv := handshakeOnlyWebsocketServer(t, &accepts)

	f := newTestFactory(&config.Config{})
	s := f.NewSession()
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	conn := &vmcp.Connection{
		ID:             "conn_ws",
		ConnectionType: vmcp.ConnectionTypeWebsocket,
		ConnectionURL:  "ws" + strings.TrimPrefix(srv.URL, "http"),
		Status:         vmcp.ConnectionStatusActive,
	}

	_, err := s.ClientFor(t.Context(), conn)
	require.NoError(t, err)
	require.Equal(t, int32(1), accepts.Load())

	// The server dropped the socket after the handshake; the close hook must
	// evict the pooled entry so the next caller redials instead of getting
	// the dead client back.
	require.Eventually(t, func() bool {
		if _, err := s.ClientFor(t.Context(), conn); err != nil {
			return false
		}
		return accepts.Load() >= 2
	}, 5*time.Second, 50*time.Millisecond)
}
