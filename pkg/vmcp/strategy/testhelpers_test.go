// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcpmesh/pkg/vmcp"
	"github.com/stacklok/mcpmesh/pkg/vmcp/aggregator"
)

// fakeAggregator serves a fixed tool list and records calls.
type fakeAggregator struct {
	tools []aggregator.Tool

	mu    sync.Mutex
	calls []string
}

func (f *fakeAggregator) ListTools(context.Context) ([]aggregator.Tool, error) {
	return f.tools, nil
}

func (*fakeAggregator) ListResources(context.Context) ([]mcp.Resource, error) {
	return nil, nil
}

func (*fakeAggregator) ListResourceTemplates(context.Context) ([]mcp.ResourceTemplate, error) {
	return nil, nil
}

func (*fakeAggregator) ListPrompts(context.Context) ([]mcp.Prompt, error) {
	return nil, nil
}

func (f *fakeAggregator) CallTool(_ context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()

	for _, t := range f.tools {
		if t.Name == name {
			return mcp.NewToolResultText(fmt.Sprintf(`{"called":%q}`, name)), nil
		}
	}
	return mcp.NewToolResultError("Tool not found: " + name), nil
}

func (f *fakeAggregator) CallStreamableTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	return f.CallTool(ctx, name, args)
}

func (*fakeAggregator) ReadResource(_ context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return nil, fmt.Errorf("%w: resource %s", vmcp.ErrNotFound, uri)
}

func (*fakeAggregator) GetPrompt(_ context.Context, name string, _ map[string]string) (*mcp.GetPromptResult, error) {
	return nil, fmt.Errorf("%w: prompt %s", vmcp.ErrNotFound, name)
}

func (*fakeAggregator) Close() error { return nil }

// aggTool builds an aggregated tool with an object input schema requiring
// the given properties.
func aggTool(name, description, connection string, required ...string) aggregator.Tool {
	schema := map[string]any{"type": "object"}
	if len(required) > 0 {
		props := make(map[string]any, len(required))
		for _, p := range required {
			props[p] = map[string]any{"type": "string"}
		}
		schema["properties"] = props
		schema["required"] = required
	}
	raw, _ := json.Marshal(schema)
	return aggregator.Tool{
		Tool: mcp.Tool{
			Name:           name,
			Description:    description,
			RawInputSchema: raw,
		},
		ConnectionID:    "conn_" + connection,
		ConnectionTitle: connection,
	}
}

// decodePayload unmarshals a single-text-block JSON result.
func decodePayload(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.Len(t, result.Content, 1)
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(tc.Text), &payload))
	return payload
}

// payloadToolNames extracts the name field from a payload's tools array.
func payloadToolNames(t *testing.T, payload map[string]any) []string {
	t.Helper()
	raw, ok := payload["tools"].([]any)
	require.True(t, ok)
	names := make([]string, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		require.True(t, ok)
		names = append(names, entry["name"].(string))
	}
	return names
}
