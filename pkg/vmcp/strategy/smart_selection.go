// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/xeipuuv/gojsonschema"

	"github.com/stacklok/mcpmesh/pkg/vmcp/aggregator"
)

// Meta-tool names exposed by the non-passthrough strategies.
const (
	ToolSearch   = "GATEWAY_SEARCH_TOOLS"
	ToolDescribe = "GATEWAY_DESCRIBE_TOOLS"
	ToolCall     = "GATEWAY_CALL_TOOL"
)

// defaultSearchLimit caps search results when the caller gives no limit.
const defaultSearchLimit = 10

// internalPrefixes mark gateway-owned tool names that never appear in
// search results.
var internalPrefixes = []string{"CODE_EXECUTION_", "GATEWAY_"}

// tokenPattern splits a search query into terms.
var tokenPattern = regexp.MustCompile(`[\s_\-./]+`)

// Static meta-tool parameter schemas.
var (
	searchInputSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Free-text search over tool names and descriptions"},
			"limit": {"type": "number", "description": "Maximum number of results", "default": 10}
		}
	}`)

	describeInputSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"names": {"type": "array", "items": {"type": "string"}, "description": "Tool names to describe"}
		},
		"required": ["names"]
	}`)
)

// smartSelection replaces the tool surface with search/describe/call
// meta-tools so large aggregations stay navigable.
type smartSelection struct{}

// NewSmartSelection creates the smart selection strategy.
func NewSmartSelection() Strategy {
	return &smartSelection{}
}

func (*smartSelection) Name() string {
	return NameSmartSelection
}

func (*smartSelection) Decorate(agg aggregator.Aggregator) Surface {
	return &smartSurface{agg: agg, schemas: newSchemaCache()}
}

type smartSurface struct {
	agg     aggregator.Aggregator
	schemas *schemaCache
}

// ListTools returns the meta-tools. The call tool's name schema is an enum
// of the currently aggregated tool names.
func (s *smartSurface) ListTools(ctx context.Context) ([]aggregator.Tool, error) {
	tools, err := s.agg.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}

	return []aggregator.Tool{
		metaTool(ToolSearch,
			"Search the available tools by free-text query. Returns matching tools ranked by relevance.",
			searchInputSchema),
		metaTool(ToolDescribe,
			"Describe tools by name, including their full input and output schemas.",
			describeInputSchema),
		metaTool(ToolCall,
			"Call one of the available tools by name with the given arguments.",
			s.schemas.callToolSchema(names)),
	}, nil
}

// CallTool dispatches the meta-tools; anything else is unknown by
// construction.
func (s *smartSurface) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	switch name {
	case ToolSearch:
		return s.search(ctx, args)
	case ToolDescribe:
		return s.describe(ctx, args)
	case ToolCall:
		return s.call(ctx, args)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("Tool not found: %s", name)), nil
	}
}

// search ranks the searchable tools against the query terms.
func (s *smartSurface) search(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	tools, err := s.searchableTools(ctx)
	if err != nil {
		return nil, err
	}

	query, _ := args["query"].(string)
	limit := intArg(args, "limit", defaultSearchLimit)
	terms := tokenize(query)

	type scored struct {
		tool  aggregator.Tool
		score int
	}

	var matches []scored
	if len(terms) == 0 {
		for _, t := range tools {
			matches = append(matches, scored{tool: t})
		}
	} else {
		for _, t := range tools {
			if score := scoreTool(t, terms); score > 0 {
				matches = append(matches, scored{tool: t, score: score})
			}
		}
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].score > matches[j].score
		})
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}

	payload := make([]map[string]any, 0, len(matches))
	for _, m := range matches {
		payload = append(payload, map[string]any{
			"name":        m.tool.Name,
			"description": m.tool.Description,
			"connection":  m.tool.ConnectionTitle,
		})
	}
	return jsonResult(map[string]any{"tools": payload})
}

// describe returns full definitions for the requested tool names.
func (s *smartSurface) describe(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	tools, err := s.agg.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]aggregator.Tool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}

	described := make([]map[string]any, 0)
	notFound := make([]string, 0)
	for _, name := range stringsArg(args, "names") {
		t, ok := byName[name]
		if !ok {
			notFound = append(notFound, name)
			continue
		}
		input, output := toolSchemas(t.Tool)
		described = append(described, map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"connection":   t.ConnectionTitle,
			"inputSchema":  input,
			"outputSchema": output,
		})
	}
	return jsonResult(map[string]any{"tools": described, "notFound": notFound})
}

// call validates and forwards one underlying tool call.
func (s *smartSurface) call(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	name, _ := args["name"].(string)
	if name == "" {
		return jsonError("name is required")
	}

	tools, err := s.agg.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	var target *aggregator.Tool
	for i := range tools {
		if tools[i].Name == name {
			target = &tools[i]
			break
		}
	}
	if target == nil {
		return jsonError(fmt.Sprintf("Tool not found: %s", name))
	}

	toolArgs, _ := args["arguments"].(map[string]any)
	input, _ := toolSchemas(target.Tool)
	if msg := validateArgs(input, toolArgs); msg != "" {
		return jsonError(msg)
	}
	return s.agg.CallTool(ctx, name, toolArgs)
}

// searchableTools filters out the gateway's own meta-tools.
func (s *smartSurface) searchableTools(ctx context.Context) ([]aggregator.Tool, error) {
	tools, err := s.agg.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]aggregator.Tool, 0, len(tools))
	for _, t := range tools {
		if isInternalName(t.Name) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func isInternalName(name string) bool {
	for _, prefix := range internalPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// tokenize splits a query into lowercase terms of at least two characters.
func tokenize(query string) []string {
	var terms []string
	for _, token := range tokenPattern.Split(query, -1) {
		if len(token) < 2 {
			continue
		}
		terms = append(terms, strings.ToLower(token))
	}
	return terms
}

// scoreTool computes the relevance of one tool against the query terms.
func scoreTool(t aggregator.Tool, terms []string) int {
	name := strings.ToLower(t.Name)
	description := strings.ToLower(t.Description)
	title := strings.ToLower(t.ConnectionTitle)

	score := 0
	for _, term := range terms {
		switch {
		case name == term:
			score += 10
		case strings.Contains(name, term):
			score += 3
		}
		if strings.Contains(description, term) {
			score += 2
		}
		if title != "" && strings.Contains(title, term) {
			score += 1
		}
	}
	return score
}

// toolSchemas extracts a tool's input and output schemas as plain values by
// round-tripping the wire representation.
func toolSchemas(t mcp.Tool) (any, any) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil
	}
	return m["inputSchema"], m["outputSchema"]
}

// validateArgs checks tool arguments against the tool's input schema.
// Returns a human-readable message on failure and "" when valid. A schema
// that cannot be compiled never blocks the call.
func validateArgs(schema any, args map[string]any) string {
	if schema == nil {
		return ""
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(args))
	if err != nil {
		return ""
	}
	if result.Valid() {
		return ""
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return "invalid arguments: " + strings.Join(msgs, "; ")
}

// metaTool builds a gateway meta-tool definition.
func metaTool(name, description string, schema json.RawMessage) aggregator.Tool {
	return aggregator.Tool{
		Tool: mcp.Tool{
			Name:           name,
			Description:    description,
			RawInputSchema: schema,
		},
		ConnectionTitle: "Gateway",
	}
}

// jsonResult renders a payload as one JSON text content block.
func jsonResult(payload any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool payload: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// jsonError renders a validation failure as an isError JSON text block.
func jsonError(message string) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool error: %w", err)
	}
	return mcp.NewToolResultError(string(data)), nil
}

// intArg reads a numeric argument, tolerating the float64 typing of decoded
// JSON.
func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return fallback
}

// stringsArg reads a string-array argument.
func stringsArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// schemaCache memoizes the call meta-tool's input schema by the sorted-name
// signature of the current tool set. Entries are only ever added.
type schemaCache struct {
	mu      sync.RWMutex
	entries map[string]json.RawMessage
}

func newSchemaCache() *schemaCache {
	return &schemaCache{entries: make(map[string]json.RawMessage)}
}

// callToolSchema returns the enum-of-names schema for GATEWAY_CALL_TOOL.
func (c *schemaCache) callToolSchema(names []string) json.RawMessage {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	key := strings.Join(sorted, "\x00")

	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return cached
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Name of the tool to call",
				"enum":        sorted,
			},
			"arguments": map[string]any{
				"type":        "object",
				"description": "Arguments for the tool, matching its input schema",
			},
		},
		"required": []string{"name"},
	}
	// Marshaling a map of JSON-safe values cannot fail.
	raw, _ := json.Marshal(schema)

	c.mu.Lock()
	c.entries[key] = raw
	c.mu.Unlock()
	return raw
}
