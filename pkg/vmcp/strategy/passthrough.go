// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package strategy

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcpmesh/pkg/vmcp/aggregator"
)

// passthrough exposes the aggregated tools unchanged.
type passthrough struct{}

// NewPassthrough creates the identity strategy.
func NewPassthrough() Strategy {
	return &passthrough{}
}

func (*passthrough) Name() string {
	return NamePassthrough
}

func (*passthrough) Decorate(agg aggregator.Aggregator) Surface {
	return &passthroughSurface{agg: agg}
}

type passthroughSurface struct {
	agg aggregator.Aggregator
}

func (s *passthroughSurface) ListTools(ctx context.Context) ([]aggregator.Tool, error) {
	return s.agg.ListTools(ctx)
}

func (s *passthroughSurface) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	return s.agg.CallTool(ctx, name, args)
}
