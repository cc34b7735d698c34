// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the outbound MCP transports of the mesh
// gateway core and the middleware composed around them.
//
// All transports satisfy the mcp-go client transport.Interface so any of
// them can back a client.Client:
//
//   - STDIO: spawns a child process and frames messages as newline-delimited
//     JSON over stdin/stdout; stderr is forwarded to a per-connection log
//     sink.
//   - HTTP-Streamable and SSE: built on the mcp-go transports with a
//     composed http.RoundTripper chain that injects the current header
//     snapshot at send time and caps response sizes.
//   - WebSocket: JSON text frames over a gorilla/websocket connection;
//     headers are applied once at dial.
//
// Middleware wraps a base transport and transparently proxies its methods
// while observing messages. The pipeline is built left-to-right: request
// flow is outer to inner, response flow is inner to outer.
package transport
