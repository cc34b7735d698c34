// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package headers

import (
	"maps"
	"sync"
	"sync/atomic"
)

// SnapshotStore holds the current outbound header set for each connection.
// Transports read the snapshot at send time; the header builder publishes a
// new immutable snapshot on every request. Mutating headers in place would
// race with in-flight sends, so writers swap the pointer instead. This is
// what lets a pooled client observe fresh credentials without being rebuilt.
type SnapshotStore struct {
	mu        sync.Mutex
	snapshots map[string]*atomic.Pointer[map[string]string]
}

// NewSnapshotStore creates an empty snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snapshots: make(map[string]*atomic.Pointer[map[string]string]),
	}
}

func (s *SnapshotStore) pointer(connectionID string) *atomic.Pointer[map[string]string] {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.snapshots[connectionID]
	if !ok {
		p = &atomic.Pointer[map[string]string]{}
		s.snapshots[connectionID] = p
	}
	return p
}

// Publish replaces the header snapshot for a connection. The map is copied;
// the caller keeps ownership of its argument.
func (s *SnapshotStore) Publish(connectionID string, headers map[string]string) {
	cp := maps.Clone(headers)
	if cp == nil {
		cp = map[string]string{}
	}
	s.pointer(connectionID).Store(&cp)
}

// Current returns the latest header snapshot for a connection. The returned
// map must not be mutated. Returns an empty map when nothing was published.
func (s *SnapshotStore) Current(connectionID string) map[string]string {
	if p := s.pointer(connectionID).Load(); p != nil {
		return *p
	}
	return map[string]string{}
}

// Drop forgets the snapshot for a connection.
func (s *SnapshotStore) Drop(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, connectionID)
}
