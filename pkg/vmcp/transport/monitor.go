// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tidwall/gjson"

	"github.com/stacklok/mcpmesh/pkg/vmcp"
	"github.com/stacklok/mcpmesh/pkg/vmcp/monitor"
)

// Monitored wraps a transport and observes every tools/call passing through
// it: span, duration histogram, counters, and one monitoring record per
// completed call. Calls still in flight when the transport closes end their
// span with transport.closed=true and emit no histogram sample.
type Monitored struct {
	base    transport.Interface
	monitor *monitor.Monitor
	conn    *vmcp.Connection

	mu       sync.Mutex
	inflight map[string]*monitor.Call
	closed   bool
}

// WithMonitoring wraps base with the monitoring middleware. A nil monitor
// returns base unchanged.
func WithMonitoring(base transport.Interface, m *monitor.Monitor, conn *vmcp.Connection) transport.Interface {
	if m == nil {
		return base
	}
	return &Monitored{
		base:     base,
		monitor:  m,
		conn:     conn,
		inflight: make(map[string]*monitor.Call),
	}
}

// Start starts the underlying transport.
func (t *Monitored) Start(ctx context.Context) error {
	return t.base.Start(ctx)
}

// SendRequest forwards the request, tracking tools/call invocations.
func (t *Monitored) SendRequest(ctx context.Context, request transport.JSONRPCRequest) (*transport.JSONRPCResponse, error) {
	if request.Method != string(mcp.MethodToolsCall) {
		return t.base.SendRequest(ctx, request)
	}

	toolName, args := parseToolCallParams(request.Params)

	ctx, call := t.monitor.Begin(ctx, t.conn, toolName, args)
	key := request.ID.String()
	t.track(key, call)

	resp, err := t.base.SendRequest(ctx, request)
	t.untrack(key)

	switch {
	case err != nil:
		if ctx.Err() != nil || errors.Is(err, vmcp.ErrTransportClosed) || vmcp.IsStaleConnectionError(err) {
			call.Abandon(err.Error())
		} else {
			call.End(ctx, nil, true, 0, err.Error())
		}
		return nil, err
	case resp.Error != nil:
		call.End(ctx, nil, true, resp.Error.Code, resp.Error.Message)
	default:
		var output any
		_ = json.Unmarshal(resp.Result, &output)
		isError := gjson.GetBytes(resp.Result, "isError").Bool()
		errMessage := ""
		if isError {
			errMessage = gjson.GetBytes(resp.Result, "content.0.text").String()
		}
		call.End(ctx, output, isError, 0, errMessage)
	}
	return resp, nil
}

// SendNotification forwards the notification unobserved.
func (t *Monitored) SendNotification(ctx context.Context, notification mcp.JSONRPCNotification) error {
	return t.base.SendNotification(ctx, notification)
}

// SetNotificationHandler forwards to the underlying transport.
func (t *Monitored) SetNotificationHandler(handler func(notification mcp.JSONRPCNotification)) {
	t.base.SetNotificationHandler(handler)
}

// Close abandons in-flight calls and closes the underlying transport.
func (t *Monitored) Close() error {
	t.mu.Lock()
	t.closed = true
	pending := t.inflight
	t.inflight = make(map[string]*monitor.Call)
	t.mu.Unlock()

	for _, call := range pending {
		call.Abandon("transport closed")
	}
	return t.base.Close()
}

// GetSessionId forwards to the underlying transport.
func (t *Monitored) GetSessionId() string {
	return t.base.GetSessionId()
}

func (t *Monitored) track(key string, call *monitor.Call) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[key] = call
}

func (t *Monitored) untrack(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, key)
}

// parseToolCallParams recovers the tool name and arguments from the request
// params, which mcp-go carries as an opaque value.
func parseToolCallParams(params any) (string, map[string]any) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", nil
	}
	var probe struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", nil
	}
	return probe.Name, probe.Arguments
}
