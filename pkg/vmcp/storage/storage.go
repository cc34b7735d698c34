// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the persistence interfaces the mesh gateway core
// consumes. The core never implements durable storage itself; embedding
// processes provide backends for connections, Virtual MCP entities,
// monitoring records and downstream OAuth tokens.
//
// The in-memory implementation in this package backs tests and the dev
// serve command.
package storage

import (
	"context"
	"time"

	"github.com/stacklok/mcpmesh/pkg/vmcp"
)

// Connections provides read access to connection configurations.
type Connections interface {
	// List returns all connections belonging to an organization.
	List(ctx context.Context, organizationID string) ([]*vmcp.Connection, error)

	// FindByID returns the connection with the given id, or nil when absent.
	FindByID(ctx context.Context, id string) (*vmcp.Connection, error)
}

// VirtualMCPs provides read access to Virtual MCP compositions.
type VirtualMCPs interface {
	// FindByID returns the VirtualMCP with the given id, or nil when absent.
	// A non-empty organizationID additionally scopes the lookup.
	FindByID(ctx context.Context, id, organizationID string) (*vmcp.VirtualMCP, error)

	// ListByConnectionID returns the VirtualMCPs in an organization that
	// reference the given connection as a child.
	ListByConnectionID(ctx context.Context, organizationID, connectionID string) ([]*vmcp.VirtualMCP, error)
}

// ToolCallRecord is one completed tool call written by the monitoring sink.
type ToolCallRecord struct {
	ID              string         `json:"id"`
	OrganizationID  string         `json:"organization_id"`
	ConnectionID    string         `json:"connection_id"`
	ConnectionTitle string         `json:"connection_title"`
	ToolName        string         `json:"tool_name"`
	Input           map[string]any `json:"input,omitempty"`
	Output          any            `json:"output,omitempty"`
	IsError         bool           `json:"is_error"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	DurationMS      int64          `json:"duration_ms"`
	Timestamp       time.Time      `json:"timestamp"`
	UserID          string         `json:"user_id,omitempty"`
	RequestID       string         `json:"request_id"`
	UserAgent       string         `json:"user_agent,omitempty"`
	VirtualMCPID    string         `json:"virtual_mcp_id,omitempty"`
	Properties      map[string]any `json:"properties,omitempty"`
}

// Monitoring receives per-tool-call records. Log is fire-and-forget: it may
// fail silently and callers must never surface its errors.
type Monitoring interface {
	Log(ctx context.Context, record *ToolCallRecord) error
}

// DownstreamTokens stores per-connection OAuth tuples. userID may be empty
// for org-scoped tokens; the scope choice belongs to the implementation.
type DownstreamTokens interface {
	// Get returns the cached token, or nil when absent.
	Get(ctx context.Context, connectionID, userID string) (*vmcp.DownstreamToken, error)

	// Upsert stores the token, replacing any previous tuple for the same
	// (connection, user) pair.
	Upsert(ctx context.Context, token *vmcp.DownstreamToken) error

	// Delete removes the cached token. Deleting an absent token is not an
	// error.
	Delete(ctx context.Context, connectionID, userID string) error
}

// Store bundles the storage surfaces the core consumes.
type Store interface {
	Connections() Connections
	VirtualMCPs() VirtualMCPs
	Monitoring() Monitoring
	DownstreamTokens() DownstreamTokens
}
