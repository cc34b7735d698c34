// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package aggregator

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// lazy memoizes a single load. Concurrent first callers share one in-flight
// load; a failed load is not memoized, so the next caller retries. The value
// is immutable once stored.
type lazy[T any] struct {
	mu    sync.RWMutex
	done  bool
	value T

	group singleflight.Group
}

// get returns the memoized value, loading it on first use.
func (l *lazy[T]) get(ctx context.Context, load func(ctx context.Context) (T, error)) (T, error) {
	l.mu.RLock()
	if l.done {
		v := l.value
		l.mu.RUnlock()
		return v, nil
	}
	l.mu.RUnlock()

	// The first caller's context drives the shared load; sharers that
	// cancelled still receive the outcome and discard it.
	v, err, _ := l.group.Do("load", func() (any, error) {
		l.mu.RLock()
		if l.done {
			v := l.value
			l.mu.RUnlock()
			return v, nil
		}
		l.mu.RUnlock()

		value, err := load(ctx)
		if err != nil {
			return nil, err
		}

		l.mu.Lock()
		l.value = value
		l.done = true
		l.mu.Unlock()
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
