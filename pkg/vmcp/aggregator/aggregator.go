// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package aggregator merges the tool, resource, resource-template and prompt
// surfaces of a Virtual MCP's child connections into one logical MCP server
// view, routing calls back to the owning child.
//
// Each surface loads lazily with single-flight semantics, applies the
// per-child selection filters, and deduplicates first-wins in the order the
// children were configured.
package aggregator

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// Child is one live downstream participating in aggregation. The client
// package's pooled clients back the production implementation.
type Child interface {
	// ID returns the child's connection id.
	ID() string

	// Title returns the child's human-readable connection title.
	Title() string

	ListTools(ctx context.Context) ([]mcp.Tool, error)
	ListResources(ctx context.Context) ([]mcp.Resource, error)
	ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error)
	ListPrompts(ctx context.Context) ([]mcp.Prompt, error)

	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error)

	Close() error
}

// Entry pairs a child with its selection lists. Tools and prompts select by
// exact name; resources by URI pattern (see MatchURIPattern). List semantics
// depend on the aggregator's selection mode: in inclusion mode an empty list
// selects nothing from the child, in exclusion mode it excludes nothing.
type Entry struct {
	Child             Child
	SelectedTools     []string
	SelectedResources []string
	SelectedPrompts   []string
}

// Tool is an aggregated tool annotated with its owning connection.
type Tool struct {
	mcp.Tool

	ConnectionID    string
	ConnectionTitle string
}

// Aggregator presents the merged surface of a set of children and routes
// calls to the child that won the dedup for each name or URI.
type Aggregator interface {
	ListTools(ctx context.Context) ([]Tool, error)
	ListResources(ctx context.Context) ([]mcp.Resource, error)
	ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error)
	ListPrompts(ctx context.Context) ([]mcp.Prompt, error)

	// CallTool routes to the owning child. An unknown name yields an
	// isError result, not an error.
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)

	// CallStreamableTool is CallTool for streaming callers. Children reached
	// through pooled clients do not stream, so the call degrades to a
	// one-shot CallTool result.
	CallStreamableTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)

	// ReadResource routes by URI; an unmapped URI returns ErrNotFound.
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)

	// GetPrompt routes by name; an unmapped name returns ErrNotFound.
	GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error)

	// Close closes all children in parallel.
	Close() error
}
