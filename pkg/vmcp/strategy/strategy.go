// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package strategy rewrites the tool surface a Virtual MCP exposes.
// Passthrough forwards the aggregated tools unchanged; smart selection
// replaces them with search/describe/call meta-tools; code execution adds a
// sandboxed script runner on top. Resources and prompts always pass through
// the aggregator untouched.
package strategy

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcpmesh/pkg/vmcp/aggregator"
	"github.com/stacklok/mcpmesh/pkg/vmcp/sandbox"
)

// Strategy names accepted in VirtualMCP metadata.
const (
	NamePassthrough    = "passthrough"
	NameSmartSelection = "smart_selection"
	NameCodeExecution  = "code_execution"
)

// Surface is the tool surface a bridge registers on its MCP server.
type Surface interface {
	ListTools(ctx context.Context) ([]aggregator.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// Strategy decorates an aggregator's tool surface.
type Strategy interface {
	// Name returns the strategy's configuration name.
	Name() string

	// Decorate builds the exposed surface over the aggregator.
	Decorate(agg aggregator.Aggregator) Surface
}

// ForName resolves a strategy by configuration name. An empty name selects
// passthrough. The runner is only consulted for code execution.
func ForName(name string, runner sandbox.Runner) (Strategy, error) {
	switch name {
	case "", NamePassthrough:
		return NewPassthrough(), nil
	case NameSmartSelection:
		return NewSmartSelection(), nil
	case NameCodeExecution:
		if runner == nil {
			runner = sandbox.NewRunner()
		}
		return NewCodeExecution(runner), nil
	default:
		return nil, fmt.Errorf("unknown tool selection strategy %q", name)
	}
}
