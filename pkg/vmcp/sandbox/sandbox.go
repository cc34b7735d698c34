// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sandbox evaluates user-supplied scripts against a bound tool
// table. The script has the shape of an ES module exporting a default async
// function that receives the tool table:
//
//	export default async function (tools) {
//	    const issues = await tools.list_issues({repo: "demo"});
//	    return issues.length;
//	}
//
// The runtime exposes console capture and the tool table, nothing else: no
// network, no filesystem, no environment, no timers. Execution is bounded by
// a wall-clock timeout that interrupts the VM and cancels pending tool
// calls.
package sandbox

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// DefaultTimeout bounds script execution when the caller does not specify
// one.
const DefaultTimeout = 3 * time.Second

// ToolInvoker executes one named tool call on behalf of the script.
type ToolInvoker func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error)

// ConsoleLog is one captured console invocation.
type ConsoleLog struct {
	// Type is the console method: "log", "warn" or "error".
	Type string `json:"type"`

	// Content is the space-joined rendering of the arguments.
	Content string `json:"content"`
}

// Result is the outcome of one script run. Exactly one of ReturnValue and
// Error is meaningful; console logs are captured either way.
type Result struct {
	ReturnValue any          `json:"returnValue,omitempty"`
	Error       string       `json:"error,omitempty"`
	ConsoleLogs []ConsoleLog `json:"consoleLogs"`
}

// Runner evaluates scripts. The goja-backed implementation is NewRunner.
type Runner interface {
	// Run evaluates code with the given tool table. Script failures and
	// timeouts are reported in Result.Error; the returned error covers only
	// harness failures.
	Run(ctx context.Context, code string, timeout time.Duration, tools map[string]ToolInvoker) (*Result, error)
}
