// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package vmcp defines the domain model for the MCP mesh gateway core:
// connections to downstream MCP servers, Virtual MCP compositions, and the
// OAuth token tuples used to authenticate outbound requests.
//
// Subpackages implement the engine itself (transports, pooling, aggregation,
// selection strategies, the code sandbox and the monitoring sink). Following
// DDD principles, shared entities and domain errors live at the package root.
package vmcp

import (
	"strings"
	"time"
)

// ConnectionType identifies the transport used to reach a downstream server.
type ConnectionType string

// Supported connection types.
const (
	ConnectionTypeStdio     ConnectionType = "STDIO"
	ConnectionTypeHTTP      ConnectionType = "HTTP"
	ConnectionTypeSSE       ConnectionType = "SSE"
	ConnectionTypeWebsocket ConnectionType = "Websocket"
	ConnectionTypeVirtual   ConnectionType = "VIRTUAL"
)

// ConnectionStatus is the lifecycle status of a connection.
type ConnectionStatus string

// Connection statuses.
const (
	ConnectionStatusActive   ConnectionStatus = "active"
	ConnectionStatusInactive ConnectionStatus = "inactive"
	ConnectionStatusError    ConnectionStatus = "error"
)

// ToolDef is a snapshot of one downstream tool recorded at connection
// create/update time. Schemas are kept as raw JSON-schema maps.
type ToolDef struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	InputSchema  map[string]any `json:"input_schema,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty"`
}

// StdioCommand describes how to spawn a child process for a STDIO connection.
type StdioCommand struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
}

// Connection is a persistent configuration for reaching one downstream MCP
// server. Exactly one of ConnectionURL (HTTP/SSE/Websocket/VIRTUAL) or
// Stdio (STDIO) is meaningful for a given ConnectionType.
type Connection struct {
	ID             string           `json:"id"`
	OrganizationID string           `json:"organization_id"`
	Title          string           `json:"title"`
	Description    string           `json:"description,omitempty"`
	Icon           string           `json:"icon,omitempty"`
	ConnectionType ConnectionType   `json:"connection_type"`
	ConnectionURL  string           `json:"connection_url,omitempty"`
	// ConnectionToken is a static bearer used when no OAuth token is cached.
	ConnectionToken   string            `json:"connection_token,omitempty"`
	ConnectionHeaders map[string]string `json:"connection_headers,omitempty"`
	Stdio             *StdioCommand     `json:"stdio,omitempty"`
	Status            ConnectionStatus  `json:"status"`
	Tools             []ToolDef         `json:"tools,omitempty"`

	// ConfigurationState is an opaque map surfaced in the mesh JWT. Keys of
	// the form "<KEY>" may reference other connections; ConfigurationScopes
	// entries of the form "KEY::SCOPE" (or "*") grant scopes on them.
	ConfigurationState  map[string]any `json:"configuration_state,omitempty"`
	ConfigurationScopes []string       `json:"configuration_scopes,omitempty"`
}

// IsActive reports whether the connection may serve requests.
func (c *Connection) IsActive() bool {
	return c.Status == ConnectionStatusActive
}

// ToolSelectionMode controls how a VirtualMCP's selection lists are applied.
type ToolSelectionMode string

// Selection modes. Inclusion is the default: an empty selection list means
// nothing from that child. In exclusion mode an empty list means everything.
const (
	SelectionModeInclusion ToolSelectionMode = "inclusion"
	SelectionModeExclusion ToolSelectionMode = "exclusion"
)

// ChildRef names one child connection of a VirtualMCP together with its
// per-surface selection lists. Tools and prompts are selected by exact name;
// resources by URI pattern (see aggregator.MatchURIPattern).
type ChildRef struct {
	ConnectionID      string   `json:"connection_id"`
	SelectedTools     []string `json:"selected_tools,omitempty"`
	SelectedResources []string `json:"selected_resources,omitempty"`
	SelectedPrompts   []string `json:"selected_prompts,omitempty"`
}

// VirtualMCP is an organization-level composition of connections exposed as
// one MCP server.
type VirtualMCP struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	Title          string            `json:"title"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
	Connections    []ChildRef        `json:"connections"`
	SelectionMode  ToolSelectionMode `json:"tool_selection_mode,omitempty"`
}

// Instructions returns the MCP server instructions from the metadata, if any.
func (v *VirtualMCP) Instructions() string {
	if v.Metadata == nil {
		return ""
	}
	if s, ok := v.Metadata["instructions"].(string); ok {
		return s
	}
	return ""
}

// Mode returns the effective selection mode, defaulting to inclusion.
func (v *VirtualMCP) Mode() ToolSelectionMode {
	if v.SelectionMode == SelectionModeExclusion {
		return SelectionModeExclusion
	}
	return SelectionModeInclusion
}

// virtualURLScheme prefixes a VIRTUAL connection's URL.
const virtualURLScheme = "virtual://"

// VirtualMCPIDFromURL extracts the VirtualMCP id encoded in a VIRTUAL
// connection's URL. Returns the input unchanged when it does not carry the
// virtual:// scheme; the connection id remains authoritative for
// self-reference detection.
func VirtualMCPIDFromURL(url string) string {
	return strings.TrimPrefix(url, virtualURLScheme)
}

// VirtualMCPURL builds the connection URL for a VirtualMCP id.
func VirtualMCPURL(id string) string {
	return virtualURLScheme + id
}

// DownstreamToken is the per-connection OAuth tuple cached for outbound
// authentication. Created on OAuth callback, read on every request needing a
// bearer, refreshed proactively, and deleted when refresh fails or the token
// expires without refresh capability.
type DownstreamToken struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenURL     string    `json:"token_endpoint,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RefreshLeeway is how long before expiry a refreshable token is treated as
// expired, so the refresh happens while the old token is still valid.
const RefreshLeeway = 5 * time.Minute

// CanRefresh reports whether the token carries enough material to be
// refreshed (refresh token and token endpoint).
func (t *DownstreamToken) CanRefresh() bool {
	return t.RefreshToken != "" && t.TokenURL != ""
}

// IsExpired reports whether the token is expired at the given instant.
// The refresh leeway is applied only when the token can be refreshed;
// otherwise expiry is taken at the exact moment. A zero ExpiresAt never
// expires.
func (t *DownstreamToken) IsExpired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	if t.CanRefresh() {
		return now.After(t.ExpiresAt.Add(-RefreshLeeway))
	}
	return now.After(t.ExpiresAt)
}

// RequestInfo carries the per-request auth context supplied by the outer
// layers (route handlers, middleware). The core only reads it.
type RequestInfo struct {
	// RequestID is the current request id, forwarded as x-request-id.
	RequestID string

	// OrganizationID scopes storage lookups and monitoring records.
	OrganizationID string

	// UserID is the authenticated principal, when there is one.
	UserID string

	// CallerConnectionID is set when the caller is itself a connection
	// (connection-to-connection calls); forwarded as x-caller-id.
	CallerConnectionID string

	// VirtualMCPID is set when the request is routed through a Virtual MCP.
	VirtualMCPID string

	// UserAgent of the upstream caller, recorded by the monitoring sink.
	UserAgent string

	// ForwardHeaders are well-known headers copied onto outbound requests.
	ForwardHeaders map[string]string

	// Properties are free-form key-values merged into monitoring records.
	Properties map[string]any
}
