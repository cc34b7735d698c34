// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/mark3labs/mcp-go/mcp"
)

// entryBinding is the name the script's default export is rebound to.
const entryBinding = "__sandbox_entry__"

// gojaRunner evaluates scripts on a fresh goja VM per run. A fresh VM keeps
// runs isolated from each other and makes Interrupt safe to fire without
// cleanup.
type gojaRunner struct{}

// NewRunner creates the goja-backed script runner.
func NewRunner() Runner {
	return &gojaRunner{}
}

// Run implements Runner.
func (*gojaRunner) Run(ctx context.Context, code string, timeout time.Duration, tools map[string]ToolInvoker) (*Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	rewritten, ok := rewriteExportDefault(code)
	if !ok {
		return &Result{Error: "script must export a default function", ConsoleLogs: []ConsoleLog{}}, nil
	}

	vm := goja.New()
	logs := &consoleCapture{}
	if err := vm.Set("console", logs.object(vm)); err != nil {
		return nil, fmt.Errorf("failed to bind console: %w", err)
	}

	// runCtx bounds tool calls started from within the script; interrupting
	// the VM alone would leave an in-flight downstream call running.
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := vm.Set("__tools", toolTable(vm, runCtx, tools)); err != nil {
		return nil, fmt.Errorf("failed to bind tools: %w", err)
	}

	settled := make(chan struct{})
	defer close(settled)
	go func() {
		select {
		case <-runCtx.Done():
			vm.Interrupt(runCtx.Err())
		case <-settled:
		}
	}()

	value, err := vm.RunString(rewritten + "\n;" + entryBinding + "(__tools);")
	result := &Result{ConsoleLogs: logs.entries()}

	if err != nil {
		result.Error = runErrorMessage(err, runCtx)
		return result, nil
	}

	if promise, ok := value.Export().(*goja.Promise); ok {
		switch promise.State() {
		case goja.PromiseStateFulfilled:
			result.ReturnValue = promise.Result().Export()
		case goja.PromiseStateRejected:
			result.Error = promise.Result().String()
		default:
			// Tool calls are synchronous bindings, so a pending promise
			// means the script awaited something it cannot have.
			result.Error = "script did not settle"
		}
		return result, nil
	}

	result.ReturnValue = value.Export()
	return result, nil
}

// rewriteExportDefault rebinds the script's `export default` to a local
// binding so the module-shaped source evaluates as a plain script.
func rewriteExportDefault(code string) (string, bool) {
	const marker = "export default"
	if !strings.Contains(code, marker) {
		return "", false
	}
	return strings.Replace(code, marker, "const "+entryBinding+" =", 1), true
}

// runErrorMessage maps a VM error to the result error string.
func runErrorMessage(err error, runCtx context.Context) string {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "timeout"
		}
		return "cancelled"
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return exception.Value().String()
	}
	return err.Error()
}

// toolTable builds the `tools` object handed to the script. Each entry is a
// synchronous binding invoking the tool and unwrapping its result; awaiting
// it resolves immediately.
func toolTable(vm *goja.Runtime, ctx context.Context, tools map[string]ToolInvoker) *goja.Object {
	table := vm.NewObject()
	for name, invoke := range tools {
		fn := func(call goja.FunctionCall) goja.Value {
			var args map[string]any
			if len(call.Arguments) > 0 {
				if m, ok := call.Arguments[0].Export().(map[string]any); ok {
					args = m
				}
			}
			result, err := invoke(ctx, args)
			if err != nil {
				panic(vm.ToValue(err.Error()))
			}
			if result.IsError {
				panic(vm.ToValue(resultText(result)))
			}
			return vm.ToValue(unwrapResult(result))
		}
		_ = table.Set(name, fn)
	}
	return table
}

// unwrapResult converts an MCP tool result into the plainest value the
// script can use: structured content first, then the first text block parsed
// as JSON, then the raw text, then the whole result.
func unwrapResult(result *mcp.CallToolResult) any {
	if result.StructuredContent != nil {
		return result.StructuredContent
	}
	if text, ok := firstText(result); ok {
		var parsed any
		if err := json.Unmarshal([]byte(text), &parsed); err == nil {
			return parsed
		}
		return text
	}
	return result
}

func resultText(result *mcp.CallToolResult) string {
	if text, ok := firstText(result); ok {
		return text
	}
	return "tool call failed"
}

func firstText(result *mcp.CallToolResult) (string, bool) {
	if len(result.Content) == 0 {
		return "", false
	}
	if tc, ok := result.Content[0].(mcp.TextContent); ok {
		return tc.Text, true
	}
	return "", false
}

// consoleCapture records console.log/warn/error invocations.
type consoleCapture struct {
	logs []ConsoleLog
}

func (c *consoleCapture) entries() []ConsoleLog {
	if c.logs == nil {
		return []ConsoleLog{}
	}
	return c.logs
}

func (c *consoleCapture) object(vm *goja.Runtime) *goja.Object {
	obj := vm.NewObject()
	for _, level := range []string{"log", "warn", "error"} {
		fn := func(call goja.FunctionCall) goja.Value {
			c.logs = append(c.logs, ConsoleLog{
				Type:    level,
				Content: renderArgs(call.Arguments),
			})
			return goja.Undefined()
		}
		_ = obj.Set(level, fn)
	}
	return obj
}

// renderArgs joins console arguments with spaces; non-string values render
// as JSON so objects stay readable in captured logs.
func renderArgs(args []goja.Value) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		exported := arg.Export()
		if s, ok := exported.(string); ok {
			parts = append(parts, s)
			continue
		}
		if data, err := json.Marshal(exported); err == nil {
			parts = append(parts, string(data))
			continue
		}
		parts = append(parts, arg.String())
	}
	return strings.Join(parts, " ")
}
