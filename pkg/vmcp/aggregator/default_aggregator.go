// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package aggregator

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/mcpmesh/pkg/logger"
	"github.com/stacklok/mcpmesh/pkg/vmcp"
)

// defaultAggregator merges children with lazily-loaded per-surface caches.
// Routing maps record the child index that won the first-wins dedup.
type defaultAggregator struct {
	entries []Entry
	mode    vmcp.ToolSelectionMode
	onClose func()

	tools     lazy[*toolSurface]
	resources lazy[*resourceSurface]
	templates lazy[[]mcp.ResourceTemplate]
	prompts   lazy[*promptSurface]
}

type toolSurface struct {
	tools  []Tool
	routes map[string]int // tool name -> entry index
}

type resourceSurface struct {
	resources []mcp.Resource
	routes    map[string]int // resource URI -> entry index
}

type promptSurface struct {
	prompts []mcp.Prompt
	routes  map[string]int // prompt name -> entry index
}

// Option configures the aggregator.
type Option func(*defaultAggregator)

// WithCloseHook registers a hook that runs after all children closed.
func WithCloseHook(hook func()) Option {
	return func(a *defaultAggregator) { a.onClose = hook }
}

// New creates an aggregator over the given children. Entry order decides
// first-wins dedup; mode decides how the selection lists are interpreted.
func New(entries []Entry, mode vmcp.ToolSelectionMode, opts ...Option) Aggregator {
	a := &defaultAggregator{
		entries: entries,
		mode:    mode,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ListTools returns the deduplicated tool surface.
func (a *defaultAggregator) ListTools(ctx context.Context) ([]Tool, error) {
	s, err := a.tools.get(ctx, a.loadTools)
	if err != nil {
		return nil, err
	}
	return s.tools, nil
}

// ListResources returns the deduplicated resource surface.
func (a *defaultAggregator) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	s, err := a.resources.get(ctx, a.loadResources)
	if err != nil {
		return nil, err
	}
	return s.resources, nil
}

// ListResourceTemplates returns all children's templates concatenated.
// Templates are parameterized URIs, so they are not deduplicated.
func (a *defaultAggregator) ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error) {
	return a.templates.get(ctx, a.loadTemplates)
}

// ListPrompts returns the deduplicated prompt surface.
func (a *defaultAggregator) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	s, err := a.prompts.get(ctx, a.loadPrompts)
	if err != nil {
		return nil, err
	}
	return s.prompts, nil
}

// CallTool forwards to the child owning the tool. An unknown name yields an
// isError result so callers surface it as tool output, not a protocol fault.
func (a *defaultAggregator) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	s, err := a.tools.get(ctx, a.loadTools)
	if err != nil {
		return nil, err
	}
	idx, ok := s.routes[name]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("Tool not found: %s", name)), nil
	}
	return a.entries[idx].Child.CallTool(ctx, name, args)
}

// CallStreamableTool degrades to a one-shot CallTool; pooled children do not
// expose client-side streaming.
func (a *defaultAggregator) CallStreamableTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	return a.CallTool(ctx, name, args)
}

// ReadResource forwards to the child owning the URI.
func (a *defaultAggregator) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	s, err := a.resources.get(ctx, a.loadResources)
	if err != nil {
		return nil, err
	}
	idx, ok := s.routes[uri]
	if !ok {
		return nil, fmt.Errorf("%w: resource %s", vmcp.ErrNotFound, uri)
	}
	return a.entries[idx].Child.ReadResource(ctx, uri)
}

// GetPrompt forwards to the child owning the prompt.
func (a *defaultAggregator) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	s, err := a.prompts.get(ctx, a.loadPrompts)
	if err != nil {
		return nil, err
	}
	idx, ok := s.routes[name]
	if !ok {
		return nil, fmt.Errorf("%w: prompt %s", vmcp.ErrNotFound, name)
	}
	return a.entries[idx].Child.GetPrompt(ctx, name, args)
}

// Close closes every child in parallel, ignoring individual errors, then
// runs the close hook.
func (a *defaultAggregator) Close() error {
	var g errgroup.Group
	for _, entry := range a.entries {
		g.Go(func() error {
			if err := entry.Child.Close(); err != nil {
				logger.Debugf("Error closing child %s: %v", entry.Child.ID(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if a.onClose != nil {
		a.onClose()
	}
	return nil
}

// fanOut loads one surface from every child in parallel. A child's failure
// is logged and yields an empty slice; other children are unaffected.
// Results keep the entry index so dedup follows configuration order, not
// arrival order.
func fanOut[T any](ctx context.Context, entries []Entry, load func(ctx context.Context, e Entry) ([]T, error)) [][]T {
	results := make([][]T, len(entries))
	g, ctx := errgroup.WithContext(ctx)
	for i, entry := range entries {
		g.Go(func() error {
			items, err := load(ctx, entry)
			if err != nil {
				if vmcp.IsMethodNotFound(err) {
					logger.Debugf("Child %s does not implement surface, treating as empty", entry.Child.ID())
				} else {
					logger.Warnf("Failed to load surface from child %s: %v", entry.Child.ID(), err)
				}
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (a *defaultAggregator) loadTools(ctx context.Context) (*toolSurface, error) {
	perChild := fanOut(ctx, a.entries, func(ctx context.Context, e Entry) ([]mcp.Tool, error) {
		return e.Child.ListTools(ctx)
	})

	s := &toolSurface{routes: make(map[string]int)}
	for i, tools := range perChild {
		entry := a.entries[i]
		for _, tool := range tools {
			if !selectedByName(tool.Name, entry.SelectedTools, a.mode) {
				continue
			}
			if _, seen := s.routes[tool.Name]; seen {
				continue
			}
			s.routes[tool.Name] = i
			s.tools = append(s.tools, Tool{
				Tool:            tool,
				ConnectionID:    entry.Child.ID(),
				ConnectionTitle: entry.Child.Title(),
			})
		}
	}
	return s, nil
}

func (a *defaultAggregator) loadResources(ctx context.Context) (*resourceSurface, error) {
	perChild := fanOut(ctx, a.entries, func(ctx context.Context, e Entry) ([]mcp.Resource, error) {
		return e.Child.ListResources(ctx)
	})

	s := &resourceSurface{routes: make(map[string]int)}
	for i, resources := range perChild {
		entry := a.entries[i]
		for _, resource := range resources {
			if !selectedByURI(resource.URI, entry.SelectedResources, a.mode) {
				continue
			}
			if _, seen := s.routes[resource.URI]; seen {
				continue
			}
			s.routes[resource.URI] = i
			s.resources = append(s.resources, resource)
		}
	}
	return s, nil
}

func (a *defaultAggregator) loadTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error) {
	perChild := fanOut(ctx, a.entries, func(ctx context.Context, e Entry) ([]mcp.ResourceTemplate, error) {
		return e.Child.ListResourceTemplates(ctx)
	})

	var out []mcp.ResourceTemplate
	for _, templates := range perChild {
		out = append(out, templates...)
	}
	return out, nil
}

func (a *defaultAggregator) loadPrompts(ctx context.Context) (*promptSurface, error) {
	perChild := fanOut(ctx, a.entries, func(ctx context.Context, e Entry) ([]mcp.Prompt, error) {
		return e.Child.ListPrompts(ctx)
	})

	s := &promptSurface{routes: make(map[string]int)}
	for i, prompts := range perChild {
		entry := a.entries[i]
		for _, prompt := range prompts {
			if !selectedByName(prompt.Name, entry.SelectedPrompts, a.mode) {
				continue
			}
			if _, seen := s.routes[prompt.Name]; seen {
				continue
			}
			s.routes[prompt.Name] = i
			s.prompts = append(s.prompts, prompt)
		}
	}
	return s, nil
}
