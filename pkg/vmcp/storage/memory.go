// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"sync"

	"github.com/stacklok/mcpmesh/pkg/vmcp"
)

// MemoryStore is an in-memory Store for tests and local development.
// All maps are guarded by a single RWMutex; the store holds copies of the
// records it is given so callers cannot mutate shared state.
type MemoryStore struct {
	mu          sync.RWMutex
	connections map[string]*vmcp.Connection
	virtuals    map[string]*vmcp.VirtualMCP
	tokens      map[tokenKey]*vmcp.DownstreamToken
	records     []*ToolCallRecord
}

type tokenKey struct {
	connectionID string
	userID       string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		connections: make(map[string]*vmcp.Connection),
		virtuals:    make(map[string]*vmcp.VirtualMCP),
		tokens:      make(map[tokenKey]*vmcp.DownstreamToken),
	}
}

// Connections implements Store.
func (s *MemoryStore) Connections() Connections { return (*memoryConnections)(s) }

// VirtualMCPs implements Store.
func (s *MemoryStore) VirtualMCPs() VirtualMCPs { return (*memoryVirtualMCPs)(s) }

// Monitoring implements Store.
func (s *MemoryStore) Monitoring() Monitoring { return (*memoryMonitoring)(s) }

// DownstreamTokens implements Store.
func (s *MemoryStore) DownstreamTokens() DownstreamTokens { return (*memoryTokens)(s) }

// PutConnection seeds or replaces a connection.
func (s *MemoryStore) PutConnection(conn *vmcp.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *conn
	s.connections[conn.ID] = &cp
}

// PutVirtualMCP seeds or replaces a VirtualMCP.
func (s *MemoryStore) PutVirtualMCP(v *vmcp.VirtualMCP) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.virtuals[v.ID] = &cp
}

// Records returns a snapshot of the monitoring records written so far.
func (s *MemoryStore) Records() []*ToolCallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ToolCallRecord, len(s.records))
	copy(out, s.records)
	return out
}

// memoryConnections is the Connections view over MemoryStore.
type memoryConnections MemoryStore

func (m *memoryConnections) List(_ context.Context, organizationID string) ([]*vmcp.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*vmcp.Connection
	for _, conn := range m.connections {
		if conn.OrganizationID == organizationID {
			cp := *conn
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryConnections) FindByID(_ context.Context, id string) (*vmcp.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.connections[id]
	if !ok {
		return nil, nil
	}
	cp := *conn
	return &cp, nil
}

// memoryVirtualMCPs is the VirtualMCPs view over MemoryStore.
type memoryVirtualMCPs MemoryStore

func (m *memoryVirtualMCPs) FindByID(_ context.Context, id, organizationID string) (*vmcp.VirtualMCP, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.virtuals[id]
	if !ok {
		return nil, nil
	}
	if organizationID != "" && v.OrganizationID != organizationID {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (m *memoryVirtualMCPs) ListByConnectionID(
	_ context.Context, organizationID, connectionID string,
) ([]*vmcp.VirtualMCP, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*vmcp.VirtualMCP
	for _, v := range m.virtuals {
		if v.OrganizationID != organizationID {
			continue
		}
		for _, child := range v.Connections {
			if child.ConnectionID == connectionID {
				cp := *v
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

// memoryMonitoring is the Monitoring view over MemoryStore.
type memoryMonitoring MemoryStore

func (m *memoryMonitoring) Log(_ context.Context, record *ToolCallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *record
	if cp.ID == "" {
		cp.ID = vmcp.NewID(vmcp.IDPrefixAudit)
	}
	m.records = append(m.records, &cp)
	return nil
}

// memoryTokens is the DownstreamTokens view over MemoryStore.
type memoryTokens MemoryStore

func (m *memoryTokens) Get(_ context.Context, connectionID, userID string) (*vmcp.DownstreamToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.tokens[tokenKey{connectionID, userID}]
	if !ok {
		return nil, nil
	}
	cp := *tok
	return &cp, nil
}

func (m *memoryTokens) Upsert(_ context.Context, token *vmcp.DownstreamToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *token
	m.tokens[tokenKey{token.ConnectionID, token.UserID}] = &cp
	return nil
}

func (m *memoryTokens) Delete(_ context.Context, connectionID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, tokenKey{connectionID, userID})
	return nil
}
