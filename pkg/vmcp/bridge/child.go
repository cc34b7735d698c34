// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcpmesh/pkg/vmcp"
	"github.com/stacklok/mcpmesh/pkg/vmcp/aggregator"
	meshclient "github.com/stacklok/mcpmesh/pkg/vmcp/client"
)

// sessionChild adapts one child connection to the aggregator through the
// request session. The client is fetched per operation, so an evicted pool
// entry is transparently redialed; failed calls run the session's recovery
// (stale eviction, unauthorized token invalidation) followed by one retry
// against a fresh client.
type sessionChild struct {
	conn    *vmcp.Connection
	dial    func(ctx context.Context) (aggregator.Child, error)
	recover func(ctx context.Context, err error) bool
}

func newSessionChild(s *meshclient.Session, conn *vmcp.Connection) *sessionChild {
	return &sessionChild{
		conn: conn,
		dial: func(ctx context.Context) (aggregator.Child, error) {
			c, err := s.ClientFor(ctx, conn)
			if err != nil {
				return nil, err
			}
			return aggregator.NewClientChild(conn, c, nil), nil
		},
		recover: func(ctx context.Context, err error) bool {
			return s.Recover(ctx, conn, err)
		},
	}
}

// do runs op against the current client. When the call fails and recovery
// signals a retry may succeed, op runs once more against a fresh client and
// that outcome is surfaced.
func (c *sessionChild) do(ctx context.Context, op func(aggregator.Child) error) error {
	child, err := c.dial(ctx)
	if err != nil {
		return err
	}
	err = op(child)
	if err == nil {
		return nil
	}
	if !c.recover(ctx, err) {
		return err
	}
	child, dialErr := c.dial(ctx)
	if dialErr != nil {
		return err
	}
	return op(child)
}

func (c *sessionChild) ID() string {
	return c.conn.ID
}

func (c *sessionChild) Title() string {
	return c.conn.Title
}

func (c *sessionChild) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	var out []mcp.Tool
	err := c.do(ctx, func(child aggregator.Child) error {
		var err error
		out, err = child.ListTools(ctx)
		return err
	})
	return out, err
}

func (c *sessionChild) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	var out []mcp.Resource
	err := c.do(ctx, func(child aggregator.Child) error {
		var err error
		out, err = child.ListResources(ctx)
		return err
	})
	return out, err
}

func (c *sessionChild) ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error) {
	var out []mcp.ResourceTemplate
	err := c.do(ctx, func(child aggregator.Child) error {
		var err error
		out, err = child.ListResourceTemplates(ctx)
		return err
	})
	return out, err
}

func (c *sessionChild) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	var out []mcp.Prompt
	err := c.do(ctx, func(child aggregator.Child) error {
		var err error
		out, err = child.ListPrompts(ctx)
		return err
	})
	return out, err
}

func (c *sessionChild) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	var out *mcp.CallToolResult
	err := c.do(ctx, func(child aggregator.Child) error {
		var err error
		out, err = child.CallTool(ctx, name, args)
		return err
	})
	return out, err
}

func (c *sessionChild) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	var out *mcp.ReadResourceResult
	err := c.do(ctx, func(child aggregator.Child) error {
		var err error
		out, err = child.ReadResource(ctx, uri)
		return err
	})
	return out, err
}

func (c *sessionChild) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	var out *mcp.GetPromptResult
	err := c.do(ctx, func(child aggregator.Child) error {
		var err error
		out, err = child.GetPrompt(ctx, name, args)
		return err
	})
	return out, err
}

// Close is a no-op; the pooled clients belong to the session.
func (*sessionChild) Close() error {
	return nil
}
