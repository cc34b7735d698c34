// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcpmesh/pkg/logger"
	"github.com/stacklok/mcpmesh/pkg/vmcp"
	"github.com/stacklok/mcpmesh/pkg/vmcp/headers"
)

// Websocket is a transport exchanging JSON-RPC messages as websocket text
// frames. The header set is applied once at dial; unlike the HTTP-family
// transports the connection does not observe later snapshot updates.
type Websocket struct {
	url          string
	connectionID string
	store        *headers.SnapshotStore

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan *transport.JSONRPCResponse

	notifyMu sync.RWMutex
	notify   func(mcp.JSONRPCNotification)

	closeOnce sync.Once
	closed    chan struct{}
	onClose   func()
}

// NewWebsocket creates a websocket transport for the given endpoint. Headers
// are read from the snapshot store at dial time.
func NewWebsocket(url, connectionID string, store *headers.SnapshotStore) *Websocket {
	return &Websocket{
		url:          url,
		connectionID: connectionID,
		store:        store,
		pending:      make(map[string]chan *transport.JSONRPCResponse),
		closed:       make(chan struct{}),
	}
}

// SetOnClose registers a hook invoked exactly once when the transport
// reaches its terminal closed state.
func (t *Websocket) SetOnClose(hook func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = hook
}

// Start dials the endpoint and begins receiving.
func (t *Websocket) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return fmt.Errorf("websocket transport already started")
	}
	select {
	case <-t.closed:
		return vmcp.ErrTransportClosed
	default:
	}

	header := http.Header{}
	for k, v := range t.store.Current(t.connectionID) {
		header.Set(k, v)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, t.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed (%s): %w", resp.Status, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	t.conn = conn
	go t.readLoop(conn)
	return nil
}

// SendRequest writes one request frame and blocks until the matching
// response arrives, the context is done, or the transport closes.
func (t *Websocket) SendRequest(ctx context.Context, request transport.JSONRPCRequest) (*transport.JSONRPCResponse, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	key := request.ID.String()
	ch := make(chan *transport.JSONRPCResponse, 1)

	t.mu.Lock()
	select {
	case <-t.closed:
		t.mu.Unlock()
		return nil, vmcp.ErrTransportClosed
	default:
	}
	if t.conn == nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("websocket transport not started")
	}
	t.pending[key] = ch
	err = t.conn.WriteMessage(websocket.TextMessage, data)
	t.mu.Unlock()

	if err != nil {
		t.removePending(key)
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		t.removePending(key)
		return nil, ctx.Err()
	case <-t.closed:
		return nil, vmcp.ErrTransportClosed
	}
}

// SendNotification writes one notification frame without waiting.
func (t *Websocket) SendNotification(_ context.Context, notification mcp.JSONRPCNotification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.closed:
		return vmcp.ErrTransportClosed
	default:
	}
	if t.conn == nil {
		return fmt.Errorf("websocket transport not started")
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// SetNotificationHandler sets the single consumer for incoming
// notifications.
func (t *Websocket) SetNotificationHandler(handler func(notification mcp.JSONRPCNotification)) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	t.notify = handler
}

// Close tears down the connection. Idempotent.
func (t *Websocket) Close() error {
	t.terminate()
	return nil
}

// GetSessionId implements transport.Interface; websocket has no session ids.
func (*Websocket) GetSessionId() string {
	return ""
}

func (t *Websocket) terminate() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		if t.conn != nil {
			_ = t.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), closeDeadline())
			_ = t.conn.Close()
		}
		close(t.closed)
		t.pending = make(map[string]chan *transport.JSONRPCResponse)
		hook := t.onClose
		t.mu.Unlock()

		if hook != nil {
			hook()
		}
	})
}

func closeDeadline() time.Time {
	return time.Now().Add(time.Second)
}

func (t *Websocket) removePending(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, key)
}

func (t *Websocket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.terminate()
			return
		}
		t.dispatch(data)
	}
}

func (t *Websocket) dispatch(data []byte) {
	var probe struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		logger.Warnf("Dropping malformed websocket message: %v", err)
		return
	}

	if probe.Method != "" && probe.ID == nil {
		var notification mcp.JSONRPCNotification
		if err := json.Unmarshal(data, &notification); err != nil {
			logger.Warnf("Dropping malformed websocket notification: %v", err)
			return
		}
		t.notifyMu.RLock()
		handler := t.notify
		t.notifyMu.RUnlock()
		if handler != nil {
			handler(notification)
		}
		return
	}

	var response transport.JSONRPCResponse
	if err := json.Unmarshal(data, &response); err != nil {
		logger.Warnf("Dropping malformed websocket response: %v", err)
		return
	}

	key := response.ID.String()
	t.mu.Lock()
	ch, ok := t.pending[key]
	if ok {
		delete(t.pending, key)
	}
	t.mu.Unlock()

	if ok {
		ch <- &response
	} else {
		logger.Debugf("Dropping websocket response with unknown id %s", key)
	}
}
