// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package headers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotPublishAndCurrent(t *testing.T) {
	t.Parallel()

	store := NewSnapshotStore()
	assert.Empty(t, store.Current("conn_a"))

	store.Publish("conn_a", map[string]string{"Authorization": "Bearer one"})
	assert.Equal(t, map[string]string{"Authorization": "Bearer one"}, store.Current("conn_a"))

	// A new publish replaces the snapshot wholesale.
	store.Publish("conn_a", map[string]string{"x-request-id": "req_1"})
	assert.Equal(t, map[string]string{"x-request-id": "req_1"}, store.Current("conn_a"))

	// Connections are independent.
	assert.Empty(t, store.Current("conn_b"))
}

func TestSnapshotPublishCopiesInput(t *testing.T) {
	t.Parallel()

	store := NewSnapshotStore()
	headers := map[string]string{"Authorization": "Bearer one"}
	store.Publish("conn_a", headers)

	headers["Authorization"] = "Bearer two"
	assert.Equal(t, "Bearer one", store.Current("conn_a")["Authorization"])
}

func TestSnapshotDrop(t *testing.T) {
	t.Parallel()

	store := NewSnapshotStore()
	store.Publish("conn_a", map[string]string{"k": "v"})
	store.Drop("conn_a")
	assert.Empty(t, store.Current("conn_a"))

	// Dropping an absent connection is a no-op.
	store.Drop("conn_missing")
}
