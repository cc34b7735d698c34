// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package aggregator

import (
	"context"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcpmesh/pkg/vmcp"
)

// clientChild adapts a pooled MCP client to the Child interface. The close
// function decides the client's fate: pooled clients usually outlive the
// aggregator, so the bridge passes a no-op or a pool eviction.
type clientChild struct {
	conn   *vmcp.Connection
	client *client.Client
	close  func() error
}

// NewClientChild wraps an initialized client as an aggregation child.
// closeFn may be nil when the client's lifecycle belongs to a pool.
func NewClientChild(conn *vmcp.Connection, c *client.Client, closeFn func() error) Child {
	return &clientChild{conn: conn, client: c, close: closeFn}
}

func (c *clientChild) ID() string {
	return c.conn.ID
}

func (c *clientChild) Title() string {
	return c.conn.Title
}

func (c *clientChild) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	result, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return result.Tools, nil
}

func (c *clientChild) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	result, err := c.client.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, err
	}
	return result.Resources, nil
}

func (c *clientChild) ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error) {
	result, err := c.client.ListResourceTemplates(ctx, mcp.ListResourceTemplatesRequest{})
	if err != nil {
		return nil, err
	}
	return result.ResourceTemplates, nil
}

func (c *clientChild) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	result, err := c.client.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

func (c *clientChild) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return c.client.CallTool(ctx, req)
}

func (c *clientChild) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	return c.client.ReadResource(ctx, req)
}

func (c *clientChild) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	req := mcp.GetPromptRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return c.client.GetPrompt(ctx, req)
}

func (c *clientChild) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}
