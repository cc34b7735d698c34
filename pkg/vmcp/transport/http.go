// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/client/transport"

	"github.com/stacklok/mcpmesh/pkg/vmcp"
	"github.com/stacklok/mcpmesh/pkg/vmcp/headers"
)

const (
	// maxResponseSize caps HTTP responses from downstream MCP servers to
	// protect against memory exhaustion from a misbehaving backend. The MCP
	// specification defines no size limits, so a generous cap is applied at
	// the HTTP layer before JSON deserialization. 100 MB.
	maxResponseSize = 100 * 1024 * 1024

	// httpTimeout bounds a single HTTP round-trip to a downstream server.
	httpTimeout = 30 * time.Second
)

// roundTripperFunc is a function adapter for http.RoundTripper.
type roundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip implements http.RoundTripper.
func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// snapshotRoundTripper injects the connection's current header snapshot into
// every outgoing request. Reading the snapshot at send time is what lets a
// pooled client observe refreshed credentials without being rebuilt.
type snapshotRoundTripper struct {
	base         http.RoundTripper
	connectionID string
	store        *headers.SnapshotStore
}

// RoundTrip implements http.RoundTripper.
func (s *snapshotRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	reqClone := req.Clone(req.Context())
	for k, v := range s.store.Current(s.connectionID) {
		reqClone.Header.Set(k, v)
	}
	return s.base.RoundTrip(reqClone)
}

// HTTPClientFor builds the http.Client shared by the HTTP-family transports
// of one connection: header snapshot injection, then a response size cap.
func HTTPClientFor(connectionID string, store *headers.SnapshotStore) *http.Client {
	var base http.RoundTripper = http.DefaultTransport

	base = &snapshotRoundTripper{
		base:         base,
		connectionID: connectionID,
		store:        store,
	}

	inner := base
	base = roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		resp, err := inner.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		resp.Body = struct {
			io.Reader
			io.Closer
		}{
			Reader: io.LimitReader(resp.Body, maxResponseSize),
			Closer: resp.Body,
		}
		return resp, nil
	})

	return &http.Client{
		Transport: base,
		Timeout:   httpTimeout,
	}
}

// NewStreamableHTTP creates the streamable-HTTP transport for a connection.
func NewStreamableHTTP(conn *vmcp.Connection, store *headers.SnapshotStore) (transport.Interface, error) {
	t, err := transport.NewStreamableHTTP(
		conn.ConnectionURL,
		transport.WithHTTPTimeout(httpTimeout),
		transport.WithHTTPBasicClient(HTTPClientFor(conn.ID, store)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streamable-http transport: %w", err)
	}
	return t, nil
}

// NewSSE creates the SSE transport for a connection. The persistent GET uses
// the same shared-headers discipline as streamable HTTP.
func NewSSE(conn *vmcp.Connection, store *headers.SnapshotStore) (transport.Interface, error) {
	t, err := transport.NewSSE(
		conn.ConnectionURL,
		transport.WithHTTPClient(HTTPClientFor(conn.ID, store)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sse transport: %w", err)
	}
	return t, nil
}
