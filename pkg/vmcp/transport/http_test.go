// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcpmesh/pkg/vmcp"
	"github.com/stacklok/mcpmesh/pkg/vmcp/headers"
)

func TestHTTPClientInjectsHeaderSnapshot(t *testing.T) {
	t.Parallel()

	observed := make(chan http.Header, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observed <- r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	store := headers.NewSnapshotStore()
	store.Publish("conn_1", map[string]string{"Authorization": "Bearer first"})
	client := HTTPClientFor("conn_1", store)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer first", (<-observed).Get("Authorization"))

	// A refreshed snapshot is observed by the same client on the next
	// request without rebuilding it.
	store.Publish("conn_1", map[string]string{"Authorization": "Bearer refreshed"})

	resp, err = client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer refreshed", (<-observed).Get("Authorization"))
}

func TestHTTPClientDoesNotMutateOriginalRequest(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	store := headers.NewSnapshotStore()
	store.Publish("conn_1", map[string]string{"Authorization": "Bearer injected"})
	client := HTTPClientFor("conn_1", store)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestHTTPTransportConstructors(t *testing.T) {
	t.Parallel()

	store := headers.NewSnapshotStore()
	conn := &vmcp.Connection{ID: "conn_1", ConnectionURL: "http://127.0.0.1:0/mcp"}

	streamable, err := NewStreamableHTTP(conn, store)
	require.NoError(t, err)
	assert.NotNil(t, streamable)

	sse, err := NewSSE(conn, store)
	require.NoError(t, err)
	assert.NotNil(t, sse)
}
