// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package bridge exposes a Virtual MCP composition as an ordinary MCP
// client. It resolves the composition's children, aggregates their
// surfaces, applies the configured tool selection strategy and serves the
// result over an in-process MCP server/client pair, so consumers never see
// the difference between a VIRTUAL connection and a network one.
package bridge

import (
	"context"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/mcpmesh/pkg/logger"
	"github.com/stacklok/mcpmesh/pkg/vmcp"
	"github.com/stacklok/mcpmesh/pkg/vmcp/aggregator"
	meshclient "github.com/stacklok/mcpmesh/pkg/vmcp/client"
	"github.com/stacklok/mcpmesh/pkg/vmcp/sandbox"
	"github.com/stacklok/mcpmesh/pkg/vmcp/storage"
	"github.com/stacklok/mcpmesh/pkg/vmcp/strategy"
)

// serverVersion is reported in the virtual server's handshake.
const serverVersion = "0.1.0"

// strategyMetadataKey selects the tool strategy in VirtualMCP metadata.
const strategyMetadataKey = "tool_selection_strategy"

// Dialer builds in-process clients for VIRTUAL connections. It implements
// the client factory's VirtualDialer.
type Dialer struct {
	store  storage.Store
	runner sandbox.Runner
}

// NewDialer creates a bridge dialer. runner may be nil; the code execution
// strategy then builds its own.
func NewDialer(store storage.Store, runner sandbox.Runner) *Dialer {
	return &Dialer{store: store, runner: runner}
}

// Dial resolves the VirtualMCP behind conn and returns an initialized
// in-process client over its aggregated surface.
func (d *Dialer) Dial(ctx context.Context, s *meshclient.Session, conn *vmcp.Connection) (*mcpclient.Client, error) {
	srv, err := d.Server(ctx, s, conn)
	if err != nil {
		return nil, err
	}

	c, err := mcpclient.NewInProcessClient(srv)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-process client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start in-process client: %w", err)
	}
	if err := meshclient.Initialize(ctx, c); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize in-process client: %w", err)
	}
	return c, nil
}

// Server builds the MCP server for a VIRTUAL connection without the
// in-process client half. The CLI uses it to expose a composition directly.
func (d *Dialer) Server(ctx context.Context, s *meshclient.Session, conn *vmcp.Connection) (*server.MCPServer, error) {
	id := vmcp.VirtualMCPIDFromURL(conn.ConnectionURL)
	v, err := d.store.VirtualMCPs().FindByID(ctx, id, conn.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load virtual mcp %s: %w", id, err)
	}
	if v == nil {
		return nil, fmt.Errorf("%w: virtual mcp %s", vmcp.ErrNotFound, id)
	}

	refs, err := d.childRefs(ctx, conn, v)
	if err != nil {
		return nil, err
	}
	entries := d.resolveChildren(ctx, s, conn, v, refs)

	agg := aggregator.New(entries, v.Mode())

	strategyName, _ := v.Metadata[strategyMetadataKey].(string)
	strat, err := strategy.ForName(strategyName, d.runner)
	if err != nil {
		return nil, err
	}
	surface := strat.Decorate(agg)

	return buildServer(ctx, v, agg, surface)
}

// childRefs returns the child list to aggregate. In inclusion mode it is the
// configured list as-is. In exclusion mode every active org connection
// participates: connections the VirtualMCP does not name pass everything
// (nil lists exclude nothing), named children whose lists are all empty are
// dropped entirely, and the rest carry their exclusion lists.
func (d *Dialer) childRefs(ctx context.Context, conn *vmcp.Connection, v *vmcp.VirtualMCP) ([]vmcp.ChildRef, error) {
	if v.Mode() != vmcp.SelectionModeExclusion {
		return v.Connections, nil
	}

	all, err := d.store.Connections().List(ctx, v.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections for %s: %w", v.OrganizationID, err)
	}

	named := make(map[string]vmcp.ChildRef, len(v.Connections))
	for _, ref := range v.Connections {
		named[ref.ConnectionID] = ref
	}

	var refs []vmcp.ChildRef
	for _, c := range all {
		if !c.IsActive() {
			continue
		}
		ref, ok := named[c.ID]
		if !ok {
			refs = append(refs, vmcp.ChildRef{ConnectionID: c.ID})
			continue
		}
		if len(ref.SelectedTools) == 0 && len(ref.SelectedResources) == 0 && len(ref.SelectedPrompts) == 0 {
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// resolveChildren loads and connects the children in parallel, preserving
// configuration order. Inactive children, self-references and children that
// fail to connect are dropped; one bad child never takes the composition
// down.
func (d *Dialer) resolveChildren(ctx context.Context, s *meshclient.Session, conn *vmcp.Connection, v *vmcp.VirtualMCP, refs []vmcp.ChildRef) []aggregator.Entry {
	resolved := make([]*aggregator.Entry, len(refs))
	g, ctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		g.Go(func() error {
			child, err := d.store.Connections().FindByID(ctx, ref.ConnectionID)
			if err != nil || child == nil {
				logger.Warnf("Skipping unresolvable child %s of virtual mcp %s: %v", ref.ConnectionID, v.ID, err)
				return nil
			}
			if !child.IsActive() {
				logger.Debugf("Skipping inactive child %s of virtual mcp %s", child.ID, v.ID)
				return nil
			}
			if isSelfReference(conn, v, child) {
				logger.Warnf("Skipping self-referencing child %s of virtual mcp %s", child.ID, v.ID)
				return nil
			}

			if _, err := s.ClientFor(ctx, child); err != nil {
				logger.Warnf("Skipping unreachable child %s of virtual mcp %s: %v", child.ID, v.ID, err)
				return nil
			}
			resolved[i] = &aggregator.Entry{
				Child:             newSessionChild(s, child),
				SelectedTools:     ref.SelectedTools,
				SelectedResources: ref.SelectedResources,
				SelectedPrompts:   ref.SelectedPrompts,
			}
			return nil
		})
	}
	_ = g.Wait()

	entries := make([]aggregator.Entry, 0, len(refs))
	for _, e := range resolved {
		if e != nil {
			entries = append(entries, *e)
		}
	}
	return entries
}

// isSelfReference reports whether the child would route back into the same
// composition. Connection ids are authoritative; the URL check additionally
// catches a different VIRTUAL connection pointing at the same VirtualMCP.
func isSelfReference(conn *vmcp.Connection, v *vmcp.VirtualMCP, child *vmcp.Connection) bool {
	if child.ID == conn.ID {
		return true
	}
	return child.ConnectionType == vmcp.ConnectionTypeVirtual &&
		vmcp.VirtualMCPIDFromURL(child.ConnectionURL) == v.ID
}

// buildServer registers the aggregated surfaces on an in-process MCP
// server. Tools go through the strategy surface; resources, templates and
// prompts pass through the aggregator directly.
func buildServer(ctx context.Context, v *vmcp.VirtualMCP, agg aggregator.Aggregator, surface strategy.Surface) (*server.MCPServer, error) {
	opts := []server.ServerOption{
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithPromptCapabilities(true),
	}
	if instructions := v.Instructions(); instructions != "" {
		opts = append(opts, server.WithInstructions(instructions))
	}
	srv := server.NewMCPServer(v.Title, serverVersion, opts...)

	tools, err := surface.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tools for virtual mcp %s: %w", v.ID, err)
	}
	for _, tool := range tools {
		name := tool.Name
		srv.AddTool(tool.Tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return surface.CallTool(ctx, name, req.GetArguments())
		})
	}

	resources, err := agg.ListResources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load resources for virtual mcp %s: %w", v.ID, err)
	}
	for _, resource := range resources {
		uri := resource.URI
		srv.AddResource(resource, func(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			result, err := agg.ReadResource(ctx, uri)
			if err != nil {
				return nil, err
			}
			return result.Contents, nil
		})
	}

	templates, err := agg.ListResourceTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load resource templates for virtual mcp %s: %w", v.ID, err)
	}
	for _, template := range templates {
		srv.AddResourceTemplate(template, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			result, err := agg.ReadResource(ctx, req.Params.URI)
			if err != nil {
				return nil, err
			}
			return result.Contents, nil
		})
	}

	prompts, err := agg.ListPrompts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts for virtual mcp %s: %w", v.ID, err)
	}
	for _, prompt := range prompts {
		name := prompt.Name
		srv.AddPrompt(prompt, func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			return agg.GetPrompt(ctx, name, req.Params.Arguments)
		})
	}

	return srv, nil
}
