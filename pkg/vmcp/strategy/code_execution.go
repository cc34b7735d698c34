// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package strategy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcpmesh/pkg/vmcp/aggregator"
	"github.com/stacklok/mcpmesh/pkg/vmcp/sandbox"
)

// ToolRunCode is the meta-tool executing scripts against the tool surface.
const ToolRunCode = "GATEWAY_RUN_CODE"

var runCodeInputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"code": {
			"type": "string",
			"description": "Script of the shape: export default async function (tools) { ... }. Call tools as await tools.<name>(args)."
		},
		"timeoutMs": {"type": "number", "description": "Wall-clock execution limit in milliseconds", "default": 3000}
	},
	"required": ["code"]
}`)

// codeExecution layers a sandboxed script runner over smart selection, so
// callers can compose several tool calls in one round trip.
type codeExecution struct {
	runner sandbox.Runner
}

// NewCodeExecution creates the code execution strategy.
func NewCodeExecution(runner sandbox.Runner) Strategy {
	return &codeExecution{runner: runner}
}

func (*codeExecution) Name() string {
	return NameCodeExecution
}

func (s *codeExecution) Decorate(agg aggregator.Aggregator) Surface {
	return &codeSurface{
		smartSurface: smartSurface{agg: agg, schemas: newSchemaCache()},
		runner:       s.runner,
	}
}

type codeSurface struct {
	smartSurface
	runner sandbox.Runner
}

// ListTools adds the run-code meta-tool to the smart selection surface.
func (s *codeSurface) ListTools(ctx context.Context) ([]aggregator.Tool, error) {
	tools, err := s.smartSurface.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	return append(tools, metaTool(ToolRunCode,
		"Run a script against the available tools and return its result, error and captured console output.",
		runCodeInputSchema)), nil
}

// CallTool handles run-code and defers everything else to smart selection.
func (s *codeSurface) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if name != ToolRunCode {
		return s.smartSurface.CallTool(ctx, name, args)
	}

	code, _ := args["code"].(string)
	if code == "" {
		return jsonError("code is required")
	}
	timeout := time.Duration(intArg(args, "timeoutMs", int(sandbox.DefaultTimeout/time.Millisecond))) * time.Millisecond

	table, err := s.toolTable(ctx)
	if err != nil {
		return nil, err
	}
	result, err := s.runner.Run(ctx, code, timeout, table)
	if err != nil {
		return nil, err
	}
	return jsonResult(result)
}

// toolTable binds every aggregated tool to the sandbox. Meta-tools stay out
// of the table; scripts compose the real tools directly.
func (s *codeSurface) toolTable(ctx context.Context) (map[string]sandbox.ToolInvoker, error) {
	tools, err := s.agg.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	table := make(map[string]sandbox.ToolInvoker, len(tools))
	for _, t := range tools {
		if isInternalName(t.Name) {
			continue
		}
		name := t.Name
		table[name] = func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
			return s.agg.CallTool(ctx, name, args)
		}
	}
	return table, nil
}
