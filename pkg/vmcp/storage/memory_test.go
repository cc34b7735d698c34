// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcpmesh/pkg/vmcp"
)

func TestMemoryConnections(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.PutConnection(&vmcp.Connection{ID: "conn_1", OrganizationID: "org_1", Title: "GitHub"})
	store.PutConnection(&vmcp.Connection{ID: "conn_2", OrganizationID: "org_1", Title: "Mailer"})
	store.PutConnection(&vmcp.Connection{ID: "conn_3", OrganizationID: "org_2", Title: "Other"})

	conns := store.Connections()

	found, err := conns.FindByID(t.Context(), "conn_1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "GitHub", found.Title)

	missing, err := conns.FindByID(t.Context(), "conn_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	listed, err := conns.List(t.Context(), "org_1")
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	empty, err := conns.List(t.Context(), "org_none")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryConnectionsReturnsCopies(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.PutConnection(&vmcp.Connection{ID: "conn_1", Title: "original"})

	found, err := store.Connections().FindByID(t.Context(), "conn_1")
	require.NoError(t, err)
	found.Title = "mutated"

	again, err := store.Connections().FindByID(t.Context(), "conn_1")
	require.NoError(t, err)
	assert.Equal(t, "original", again.Title)
}

func TestMemoryVirtualMCPs(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.PutVirtualMCP(&vmcp.VirtualMCP{
		ID:             "vmcp_1",
		OrganizationID: "org_1",
		Title:          "Composed",
		Connections:    []vmcp.ChildRef{{ConnectionID: "conn_1"}, {ConnectionID: "conn_2"}},
	})
	store.PutVirtualMCP(&vmcp.VirtualMCP{
		ID:             "vmcp_2",
		OrganizationID: "org_2",
		Connections:    []vmcp.ChildRef{{ConnectionID: "conn_1"}},
	})

	virtuals := store.VirtualMCPs()

	found, err := virtuals.FindByID(t.Context(), "vmcp_1", "org_1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Composed", found.Title)

	// Organization scoping: wrong org sees nothing, empty org sees anything.
	scoped, err := virtuals.FindByID(t.Context(), "vmcp_1", "org_2")
	require.NoError(t, err)
	assert.Nil(t, scoped)

	unscoped, err := virtuals.FindByID(t.Context(), "vmcp_1", "")
	require.NoError(t, err)
	assert.NotNil(t, unscoped)

	byConn, err := virtuals.ListByConnectionID(t.Context(), "org_1", "conn_1")
	require.NoError(t, err)
	require.Len(t, byConn, 1)
	assert.Equal(t, "vmcp_1", byConn[0].ID)

	none, err := virtuals.ListByConnectionID(t.Context(), "org_1", "conn_unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryTokens(t *testing.T) {
	t.Parallel()

	tokens := NewMemoryStore().DownstreamTokens()

	absent, err := tokens.Get(t.Context(), "conn_1", "user_1")
	require.NoError(t, err)
	assert.Nil(t, absent)

	require.NoError(t, tokens.Upsert(t.Context(), &vmcp.DownstreamToken{
		ConnectionID: "conn_1",
		UserID:       "user_1",
		AccessToken:  "one",
	}))
	require.NoError(t, tokens.Upsert(t.Context(), &vmcp.DownstreamToken{
		ConnectionID: "conn_1",
		AccessToken:  "org-scoped",
	}))

	// (connection, user) pairs are independent.
	got, err := tokens.Get(t.Context(), "conn_1", "user_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "one", got.AccessToken)

	orgScoped, err := tokens.Get(t.Context(), "conn_1", "")
	require.NoError(t, err)
	require.NotNil(t, orgScoped)
	assert.Equal(t, "org-scoped", orgScoped.AccessToken)

	// Upsert replaces.
	require.NoError(t, tokens.Upsert(t.Context(), &vmcp.DownstreamToken{
		ConnectionID: "conn_1",
		UserID:       "user_1",
		AccessToken:  "two",
	}))
	got, err = tokens.Get(t.Context(), "conn_1", "user_1")
	require.NoError(t, err)
	assert.Equal(t, "two", got.AccessToken)

	require.NoError(t, tokens.Delete(t.Context(), "conn_1", "user_1"))
	gone, err := tokens.Get(t.Context(), "conn_1", "user_1")
	require.NoError(t, err)
	assert.Nil(t, gone)

	// Deleting an absent token is not an error.
	require.NoError(t, tokens.Delete(t.Context(), "conn_1", "user_1"))
}

func TestMemoryMonitoring(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	require.NoError(t, store.Monitoring().Log(t.Context(), &ToolCallRecord{
		OrganizationID: "org_1",
		ConnectionID:   "conn_1",
		ToolName:       "create_issue",
	}))

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "create_issue", records[0].ToolName)
	assert.True(t, len(records[0].ID) > len(vmcp.IDPrefixAudit))
}
