// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package aggregator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLazySharesSingleLoad(t *testing.T) {
	t.Parallel()

	var loads atomic.Int32
	l := &lazy[int]{}
	load := func(context.Context) (int, error) {
		loads.Add(1)
		time.Sleep(20 * time.Millisecond)
		return 42, nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]int, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := l.get(t.Context(), load)
			require.NoError(t, err)
			results[i] = v
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestLazyFailureIsNotMemoized(t *testing.T) {
	t.Parallel()

	var loads atomic.Int32
	l := &lazy[string]{}

	_, err := l.get(t.Context(), func(context.Context) (string, error) {
		loads.Add(1)
		return "", errors.New("boom")
	})
	require.Error(t, err)

	v, err := l.get(t.Context(), func(context.Context) (string, error) {
		loads.Add(1)
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
	assert.Equal(t, int32(2), loads.Load())

	// Success is memoized: no further loads.
	v, err = l.get(t.Context(), func(context.Context) (string, error) {
		loads.Add(1)
		return "again", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
	assert.Equal(t, int32(2), loads.Load())
}
