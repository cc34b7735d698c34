// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client builds ready-to-use MCP clients for connections. The
// factory selects the transport for the connection type, layers the
// monitoring middleware, initializes the MCP session once per pooled client,
// and hands VIRTUAL connections to the in-process bridge dialer.
package client

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcpmesh/pkg/logger"
	"github.com/stacklok/mcpmesh/pkg/vmcp"
	"github.com/stacklok/mcpmesh/pkg/vmcp/config"
	"github.com/stacklok/mcpmesh/pkg/vmcp/headers"
	"github.com/stacklok/mcpmesh/pkg/vmcp/monitor"
	"github.com/stacklok/mcpmesh/pkg/vmcp/pool"
	meshtransport "github.com/stacklok/mcpmesh/pkg/vmcp/transport"
)

// clientName identifies this gateway in MCP initialize handshakes.
const (
	clientName    = "mcpmesh-gateway"
	clientVersion = "0.1.0"
)

// VirtualDialer creates in-process clients for VIRTUAL connections. The
// bridge package provides the implementation; the indirection keeps the
// factory free of a dependency on aggregation. The dialer reaches child
// connections through the same session, so child clients share the
// request's lifecycle.
type VirtualDialer interface {
	Dial(ctx context.Context, s *Session, conn *vmcp.Connection) (*client.Client, error)
}

// StderrSink receives stderr lines from STDIO child processes, keyed by
// connection id.
type StderrSink func(connectionID, line string)

// Factory creates MCP clients for connections. One factory per process; its
// STDIO pool is process-wide because child processes must outlive individual
// requests. HTTP-family clients are pooled per Session.
type Factory struct {
	cfg     *config.Config
	headers *headers.Builder
	monitor *monitor.Monitor
	stdio   *pool.Pool
	virtual VirtualDialer
	stderr  StderrSink
}

// Option configures a Factory.
type Option func(*Factory)

// WithVirtualDialer installs the dialer for VIRTUAL connections.
func WithVirtualDialer(d VirtualDialer) Option {
	return func(f *Factory) { f.virtual = d }
}

// WithStderrSink installs the sink for STDIO child stderr output.
func WithStderrSink(s StderrSink) Option {
	return func(f *Factory) { f.stderr = s }
}

// NewFactory creates a client factory. monitor may be nil to disable call
// observation.
func NewFactory(cfg *config.Config, hb *headers.Builder, m *monitor.Monitor, opts ...Option) *Factory {
	f := &Factory{
		cfg:     cfg,
		headers: hb,
		monitor: m,
		stdio:   pool.New(),
		stderr: func(connectionID, line string) {
			logger.Debugw("stdio stderr", "connection_id", connectionID, "line", line)
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetVirtualDialer installs the VIRTUAL dialer after construction. The
// bridge needs the factory to reach child connections, so the two are wired
// in this order.
func (f *Factory) SetVirtualDialer(d VirtualDialer) {
	f.virtual = d
}

// Shutdown closes the process-wide STDIO pool.
func (f *Factory) Shutdown(ctx context.Context) error {
	return f.stdio.Shutdown(ctx)
}

// NewSession creates a request-scoped client session. HTTP-family and
// VIRTUAL clients live for the session; STDIO clients are shared across
// sessions.
func (f *Factory) NewSession() *Session {
	return &Session{
		factory: f,
		http:    pool.New(),
	}
}

// Session hands out clients for the duration of one request.
type Session struct {
	factory *Factory
	http    *pool.Pool
}

// ClientFor returns an initialized client for the connection, reusing a
// pooled one when available. The header snapshot is rebuilt on every call so
// pooled HTTP-family clients pick up refreshed credentials at send time.
func (s *Session) ClientFor(ctx context.Context, conn *vmcp.Connection) (*client.Client, error) {
	f := s.factory

	switch conn.ConnectionType {
	case vmcp.ConnectionTypeStdio:
		if !f.cfg.StdioAllowed() {
			return nil, fmt.Errorf("%w: connection %s", vmcp.ErrStdioDisallowed, conn.ID)
		}
		if conn.Stdio == nil {
			return nil, fmt.Errorf("%w: connection %s has no stdio command", vmcp.ErrInvalidInput, conn.ID)
		}
		return f.stdio.GetOrCreate(ctx, conn.ID, func(ctx context.Context) (*client.Client, error) {
			return f.connect(ctx, conn, s.stdioTransport(conn))
		})

	case vmcp.ConnectionTypeHTTP, vmcp.ConnectionTypeSSE, vmcp.ConnectionTypeWebsocket:
		// Publish fresh headers before any send, including cache hits.
		if _, err := f.headers.Build(ctx, conn); err != nil {
			return nil, fmt.Errorf("failed to build headers for %s: %w", conn.ID, err)
		}
		return s.http.GetOrCreate(ctx, conn.ID, func(ctx context.Context) (*client.Client, error) {
			base, err := s.networkTransport(conn)
			if err != nil {
				return nil, err
			}
			return f.connect(ctx, conn, func() (transport.Interface, error) { return base, nil })
		})

	case vmcp.ConnectionTypeVirtual:
		if f.virtual == nil {
			return nil, fmt.Errorf("%w: no virtual dialer configured", vmcp.ErrBackendUnavailable)
		}
		return s.http.GetOrCreate(ctx, conn.ID, func(ctx context.Context) (*client.Client, error) {
			return f.virtual.Dial(ctx, s, conn)
		})

	default:
		return nil, fmt.Errorf("%w: unsupported connection type %q", vmcp.ErrInvalidInput, conn.ConnectionType)
	}
}

// HandleError evicts the connection's pooled client when err indicates a
// stale connection. Returns true when a retry against a fresh client may
// succeed.
func (s *Session) HandleError(conn *vmcp.Connection, err error) bool {
	if conn.ConnectionType == vmcp.ConnectionTypeStdio {
		return s.factory.stdio.HandleError(conn.ID, err)
	}
	return s.http.HandleError(conn.ID, err)
}

// Recover reacts to a failed downstream call. An unauthorized response drops
// the cached OAuth token and evicts the pooled client, so the next ClientFor
// rebuilds headers without the rejected token; a stale-connection error
// evicts so the next ClientFor redials. Returns true when a single retry
// against a fresh client may succeed.
func (s *Session) Recover(ctx context.Context, conn *vmcp.Connection, err error) bool {
	if err == nil {
		return false
	}
	if vmcp.IsUnauthorized(err) {
		var userID string
		if info, _ := vmcp.RequestInfoFromContext(ctx); info != nil {
			userID = info.UserID
		}
		if ierr := s.factory.headers.Refresher().Invalidate(ctx, conn.ID, userID); ierr != nil {
			logger.Warnf("Failed to invalidate token for %s after unauthorized response: %v", conn.ID, ierr)
		}
		logger.Infof("Evicting client %s after unauthorized response: %v", conn.ID, err)
		s.evict(conn)
		return true
	}
	return s.HandleError(conn, err)
}

// evict drops the connection's pooled client regardless of error class.
func (s *Session) evict(conn *vmcp.Connection) {
	if conn.ConnectionType == vmcp.ConnectionTypeStdio {
		s.factory.stdio.Invalidate(conn.ID)
		return
	}
	s.http.Invalidate(conn.ID)
}

// Close releases the session's HTTP-family and VIRTUAL clients. STDIO
// clients stay pooled for later sessions.
func (s *Session) Close(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// stdioTransport returns a constructor for the connection's STDIO transport.
func (s *Session) stdioTransport(conn *vmcp.Connection) func() (transport.Interface, error) {
	f := s.factory
	return func() (transport.Interface, error) {
		t := meshtransport.NewStdio(conn.Stdio, func(line string) {
			f.stderr(conn.ID, line)
		})
		t.SetOnClose(func() {
			// Child death invalidates the pooled client so the next caller
			// respawns instead of hitting a closed transport.
			f.stdio.Invalidate(conn.ID)
		})
		return t, nil
	}
}

// networkTransport builds the transport for HTTP, SSE and Websocket
// connections.
func (s *Session) networkTransport(conn *vmcp.Connection) (transport.Interface, error) {
	store := s.factory.headers.SnapshotStore()
	switch conn.ConnectionType {
	case vmcp.ConnectionTypeHTTP:
		return meshtransport.NewStreamableHTTP(conn, store)
	case vmcp.ConnectionTypeSSE:
		return meshtransport.NewSSE(conn, store)
	case vmcp.ConnectionTypeWebsocket:
		t := meshtransport.NewWebsocket(conn.ConnectionURL, conn.ID, store)
		t.SetOnClose(func() {
			// A dropped socket invalidates the pooled client so the next
			// caller redials instead of hitting a closed transport.
			s.http.Invalidate(conn.ID)
		})
		return t, nil
	default:
		return nil, fmt.Errorf("%w: unsupported connection type %q", vmcp.ErrInvalidInput, conn.ConnectionType)
	}
}

// connect builds the transport, layers monitoring, starts the client and
// runs the MCP initialize handshake.
func (f *Factory) connect(ctx context.Context, conn *vmcp.Connection, build func() (transport.Interface, error)) (*client.Client, error) {
	t, err := build()
	if err != nil {
		return nil, err
	}
	t = meshtransport.WithMonitoring(t, f.monitor, conn)

	c := client.NewClient(t)
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start client for %s: %w", conn.ID, err)
	}
	if err := Initialize(ctx, c); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize client for %s: %w", conn.ID, err)
	}
	return c, nil
}

// Initialize performs the MCP initialize handshake on a started client. The
// bridge reuses it for in-process clients.
func Initialize(ctx context.Context, c *client.Client) error {
	_, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    clientName,
				Version: clientVersion,
			},
		},
	})
	return err
}
