// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcpmesh/pkg/vmcp/aggregator"
)

func searchFixture() *fakeAggregator {
	return &fakeAggregator{tools: []aggregator.Tool{
		aggTool("create_issue", "Create a new issue in the tracker", "GitHub"),
		aggTool("list_issues", "List issues in a repository", "GitHub"),
		aggTool("send_email", "Send an email message", "Mailer"),
		aggTool("issue", "Look up a single issue", "Tracker"),
	}}
}

func TestSearchRanksByRelevance(t *testing.T) {
	t.Parallel()

	surface := NewSmartSelection().Decorate(searchFixture())

	result, err := surface.CallTool(t.Context(), ToolSearch, map[string]any{"query": "issue"})
	require.NoError(t, err)
	require.False(t, result.IsError)

	names := payloadToolNames(t, decodePayload(t, result))

	// "issue" scores: exact name match (10) + description contains (2) = 12
	// for the `issue` tool; name-contains (3) + description contains (2) = 5
	// for create_issue; list_issues only matches via tokenized name (3) +
	// description (2). send_email scores 0 and must be absent.
	require.NotEmpty(t, names)
	assert.Equal(t, "issue", names[0])
	assert.Contains(t, names, "create_issue")
	assert.Contains(t, names, "list_issues")
	assert.NotContains(t, names, "send_email")
}

func TestSearchScoresConnectionTitle(t *testing.T) {
	t.Parallel()

	surface := NewSmartSelection().Decorate(searchFixture())

	result, err := surface.CallTool(t.Context(), ToolSearch, map[string]any{"query": "github"})
	require.NoError(t, err)

	names := payloadToolNames(t, decodePayload(t, result))
	assert.ElementsMatch(t, []string{"create_issue", "list_issues"}, names)
}

func TestSearchEmptyQueryReturnsHead(t *testing.T) {
	t.Parallel()

	surface := NewSmartSelection().Decorate(searchFixture())

	result, err := surface.CallTool(t.Context(), ToolSearch, map[string]any{"query": "", "limit": float64(2)})
	require.NoError(t, err)

	names := payloadToolNames(t, decodePayload(t, result))
	assert.Equal(t, []string{"create_issue", "list_issues"}, names)
}

func TestSearchTokenization(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"list", "issues"}, tokenize("list_issues"))
	assert.Equal(t, []string{"send", "email"}, tokenize("send.email"))
	assert.Equal(t, []string{"ab"}, tokenize("a ab x"))
	assert.Nil(t, tokenize(""))
	assert.Nil(t, tokenize("a-b/c.d"))
}

func TestSearchFiltersInternalTools(t *testing.T) {
	t.Parallel()

	agg := &fakeAggregator{tools: []aggregator.Tool{
		aggTool("GATEWAY_CALL_TOOL", "internal call gateway tool", "Gateway"),
		aggTool("CODE_EXECUTION_HELPER", "internal code helper", "Gateway"),
		aggTool("gateway_stats", "gateway statistics tool", "Ops"),
	}}
	surface := NewSmartSelection().Decorate(agg)

	result, err := surface.CallTool(t.Context(), ToolSearch, map[string]any{"query": "gateway"})
	require.NoError(t, err)

	names := payloadToolNames(t, decodePayload(t, result))
	assert.Equal(t, []string{"gateway_stats"}, names)
}

func TestListToolsExposesMetaTools(t *testing.T) {
	t.Parallel()

	surface := NewSmartSelection().Decorate(searchFixture())

	tools, err := surface.ListTools(t.Context())
	require.NoError(t, err)

	names := make([]string, 0, len(tools))
	for _, tl := range tools {
		names = append(names, tl.Name)
	}
	assert.Equal(t, []string{ToolSearch, ToolDescribe, ToolCall}, names)

	// The call tool's schema carries the enum of underlying tool names.
	for _, tl := range tools {
		if tl.Name == ToolCall {
			assert.Contains(t, string(tl.RawInputSchema), "create_issue")
			assert.Contains(t, string(tl.RawInputSchema), "send_email")
		}
	}
}

func TestDescribeTools(t *testing.T) {
	t.Parallel()

	surface := NewSmartSelection().Decorate(searchFixture())

	result, err := surface.CallTool(t.Context(), ToolDescribe, map[string]any{
		"names": []any{"create_issue", "ghost"},
	})
	require.NoError(t, err)

	payload := decodePayload(t, result)
	assert.Equal(t, []string{"create_issue"}, payloadToolNames(t, payload))
	assert.Equal(t, []any{"ghost"}, payload["notFound"])

	described := payload["tools"].([]any)[0].(map[string]any)
	assert.Equal(t, "GitHub", described["connection"])
	assert.NotNil(t, described["inputSchema"])
}

func TestCallToolForwardsValidCall(t *testing.T) {
	t.Parallel()

	agg := &fakeAggregator{tools: []aggregator.Tool{
		aggTool("create_issue", "Create an issue", "GitHub", "title"),
	}}
	surface := NewSmartSelection().Decorate(agg)

	result, err := surface.CallTool(t.Context(), ToolCall, map[string]any{
		"name":      "create_issue",
		"arguments": map[string]any{"title": "bug"},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, []string{"create_issue"}, agg.calls)
}

func TestCallToolValidationFailureIsError(t *testing.T) {
	t.Parallel()

	agg := &fakeAggregator{tools: []aggregator.Tool{
		aggTool("create_issue", "Create an issue", "GitHub", "title"),
	}}
	surface := NewSmartSelection().Decorate(agg)

	result, err := surface.CallTool(t.Context(), ToolCall, map[string]any{
		"name":      "create_issue",
		"arguments": map[string]any{},
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Empty(t, agg.calls)

	payload := decodePayload(t, result)
	assert.Contains(t, payload["error"], "title")
}

func TestCallToolUnknownNameIsError(t *testing.T) {
	t.Parallel()

	surface := NewSmartSelection().Decorate(searchFixture())

	result, err := surface.CallTool(t.Context(), ToolCall, map[string]any{"name": "ghost"})
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = surface.CallTool(t.Context(), ToolCall, map[string]any{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestUnknownMetaToolIsError(t *testing.T) {
	t.Parallel()

	surface := NewSmartSelection().Decorate(searchFixture())

	result, err := surface.CallTool(t.Context(), "create_issue", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSchemaCacheReusesBySignature(t *testing.T) {
	t.Parallel()

	cache := newSchemaCache()

	a := cache.callToolSchema([]string{"b", "a"})
	b := cache.callToolSchema([]string{"a", "b"})
	assert.Equal(t, a, b)
	assert.Len(t, cache.entries, 1)

	c := cache.callToolSchema([]string{"a", "b", "c"})
	assert.NotEqual(t, string(a), string(c))
	assert.Len(t, cache.entries, 2)
}
