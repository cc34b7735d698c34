// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textResult(text string) *mcp.CallToolResult {
	return mcp.NewToolResultText(text)
}

func staticTool(result *mcp.CallToolResult) ToolInvoker {
	return func(context.Context, map[string]any) (*mcp.CallToolResult, error) {
		return result, nil
	}
}

func TestRunReturnsValue(t *testing.T) {
	t.Parallel()

	result, err := NewRunner().Run(t.Context(),
		`export default async function (tools) { return 1 + 2; }`,
		time.Second, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Error)
	assert.Equal(t, int64(3), result.ReturnValue)
}

func TestRunInvokesTools(t *testing.T) {
	t.Parallel()

	var gotArgs map[string]any
	tools := map[string]ToolInvoker{
		"list_issues": func(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
			gotArgs = args
			return textResult(`[{"id": 1}, {"id": 2}]`), nil
		},
	}

	result, err := NewRunner().Run(t.Context(),
		`export default async function (tools) {
			const issues = await tools.list_issues({repo: "demo"});
			return issues.length;
		}`,
		time.Second, tools)
	require.NoError(t, err)
	assert.Empty(t, result.Error)
	assert.Equal(t, int64(2), result.ReturnValue)
	assert.Equal(t, map[string]any{"repo": "demo"}, gotArgs)
}

func TestRunUnwrapsResults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result *mcp.CallToolResult
		want   any
	}{
		{
			name: "structured content preferred",
			result: &mcp.CallToolResult{
				Content:           []mcp.Content{mcp.NewTextContent(`{"ignored": true}`)},
				StructuredContent: map[string]any{"count": float64(7)},
			},
			want: map[string]any{"count": float64(7)},
		},
		{
			name:   "text parsed as json",
			result: textResult(`{"ok": true}`),
			want:   map[string]any{"ok": true},
		},
		{
			name:   "raw text fallback",
			result: textResult("plain words"),
			want:   "plain words",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result, err := NewRunner().Run(t.Context(),
				`export default async function (tools) { return await tools.probe({}); }`,
				time.Second, map[string]ToolInvoker{"probe": staticTool(tt.result)})
			require.NoError(t, err)
			assert.Empty(t, result.Error)
			assert.EqualValues(t, tt.want, result.ReturnValue)
		})
	}
}

func TestRunCapturesConsole(t *testing.T) {
	t.Parallel()

	result, err := NewRunner().Run(t.Context(),
		`export default async function () {
			console.log("hello", {a: 1});
			console.warn("careful");
			console.error("broken");
		}`,
		time.Second, nil)
	require.NoError(t, err)
	require.Len(t, result.ConsoleLogs, 3)
	assert.Equal(t, ConsoleLog{Type: "log", Content: `hello {"a":1}`}, result.ConsoleLogs[0])
	assert.Equal(t, "warn", result.ConsoleLogs[1].Type)
	assert.Equal(t, "error", result.ConsoleLogs[2].Type)
}

func TestRunTimeout(t *testing.T) {
	t.Parallel()

	start := time.Now()
	result, err := NewRunner().Run(t.Context(),
		`export default async function () { while (true) {} }`,
		100*time.Millisecond, nil)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "timeout", result.Error)
	assert.Nil(t, result.ReturnValue)
	// The interrupt must fire promptly after the deadline.
	assert.Less(t, elapsed, time.Second)
}

func TestRunTimeoutCancelsPendingToolCalls(t *testing.T) {
	t.Parallel()

	toolCtxDone := make(chan struct{})
	tools := map[string]ToolInvoker{
		"slow": func(ctx context.Context, _ map[string]any) (*mcp.CallToolResult, error) {
			<-ctx.Done()
			close(toolCtxDone)
			return nil, ctx.Err()
		},
	}

	result, err := NewRunner().Run(t.Context(),
		`export default async function (tools) { return await tools.slow({}); }`,
		100*time.Millisecond, tools)
	require.NoError(t, err)
	// The failure surfaces either as the VM interrupt or as the tool's
	// context error rejecting the promise, depending on timing.
	assert.NotEmpty(t, result.Error)

	select {
	case <-toolCtxDone:
	case <-time.After(time.Second):
		t.Fatal("tool context was not cancelled")
	}
}

func TestRunScriptErrorIsReported(t *testing.T) {
	t.Parallel()

	result, err := NewRunner().Run(t.Context(),
		`export default async function () { throw new Error("kaboom"); }`,
		time.Second, nil)
	require.NoError(t, err)
	assert.Contains(t, result.Error, "kaboom")
}

func TestRunToolErrorIsCatchable(t *testing.T) {
	t.Parallel()

	failing := &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.NewTextContent("quota exceeded")},
	}

	result, err := NewRunner().Run(t.Context(),
		`export default async function (tools) {
			try {
				await tools.flaky({});
				return "unexpected";
			} catch (e) {
				return "caught: " + e;
			}
		}`,
		time.Second, map[string]ToolInvoker{"flaky": staticTool(failing)})
	require.NoError(t, err)
	assert.Empty(t, result.Error)
	assert.Equal(t, "caught: quota exceeded", result.ReturnValue)
}

func TestRunToolInvokerErrorRejects(t *testing.T) {
	t.Parallel()

	tools := map[string]ToolInvoker{
		"down": func(context.Context, map[string]any) (*mcp.CallToolResult, error) {
			return nil, errors.New("backend unavailable")
		},
	}

	result, err := NewRunner().Run(t.Context(),
		`export default async function (tools) { return await tools.down({}); }`,
		time.Second, tools)
	require.NoError(t, err)
	assert.Contains(t, result.Error, "backend unavailable")
}

func TestRunRequiresDefaultExport(t *testing.T) {
	t.Parallel()

	result, err := NewRunner().Run(t.Context(), `function f() {}`, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, "script must export a default function", result.Error)
}

func TestRunHasNoAmbientCapabilities(t *testing.T) {
	t.Parallel()

	for _, global := range []string{"fetch", "require", "process", "setTimeout"} {
		result, err := NewRunner().Run(t.Context(),
			`export default async function () { return typeof `+global+`; }`,
			time.Second, nil)
		require.NoError(t, err)
		assert.Equal(t, "undefined", result.ReturnValue, "global %s must not exist", global)
	}
}
