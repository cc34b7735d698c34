// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package aggregator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// fakeChild is a scriptable in-memory Child.
type fakeChild struct {
	id    string
	title string

	tools     []mcp.Tool
	resources []mcp.Resource
	templates []mcp.ResourceTemplate
	prompts   []mcp.Prompt

	// listErr fails every list call when set.
	listErr error

	// listDelay postpones list responses to exercise arrival-order races.
	listDelay time.Duration

	listCalls atomic.Int32
	closed    atomic.Bool

	mu        sync.Mutex
	toolCalls []string
}

func (f *fakeChild) ID() string    { return f.id }
func (f *fakeChild) Title() string { return f.title }

func (f *fakeChild) stall() {
	if f.listDelay > 0 {
		time.Sleep(f.listDelay)
	}
}

func (f *fakeChild) ListTools(context.Context) ([]mcp.Tool, error) {
	f.listCalls.Add(1)
	f.stall()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tools, nil
}

func (f *fakeChild) ListResources(context.Context) ([]mcp.Resource, error) {
	f.stall()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.resources, nil
}

func (f *fakeChild) ListResourceTemplates(context.Context) ([]mcp.ResourceTemplate, error) {
	f.stall()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.templates, nil
}

func (f *fakeChild) ListPrompts(context.Context) ([]mcp.Prompt, error) {
	f.stall()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.prompts, nil
}

func (f *fakeChild) CallTool(_ context.Context, name string, _ map[string]any) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	f.toolCalls = append(f.toolCalls, name)
	f.mu.Unlock()
	return mcp.NewToolResultText("handled by " + f.id), nil
}

func (f *fakeChild) ReadResource(_ context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{
			mcp.TextResourceContents{URI: uri, Text: "from " + f.id},
		},
	}, nil
}

func (f *fakeChild) GetPrompt(_ context.Context, name string, _ map[string]string) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{Description: name + " from " + f.id}, nil
}

func (f *fakeChild) Close() error {
	f.closed.Store(true)
	return nil
}

func tool(name string) mcp.Tool {
	return mcp.Tool{Name: name, Description: name + " description"}
}

func resource(uri string) mcp.Resource {
	return mcp.Resource{URI: uri, Name: uri}
}

func prompt(name string) mcp.Prompt {
	return mcp.Prompt{Name: name}
}
