// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package pool caches live MCP clients keyed by connection id.
// Construction is single-flighted so concurrent callers share one connect
// attempt, and entries whose clients report stale-connection errors are
// evicted so the next caller reconnects.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/stacklok/mcpmesh/pkg/logger"
	"github.com/stacklok/mcpmesh/pkg/vmcp"
)

// connectTimeout bounds a single connect attempt, covering transport start
// and MCP initialization.
const connectTimeout = 30 * time.Second

// Factory builds and initializes a client for a pool key. It is called at
// most once per key per flight.
type Factory func(ctx context.Context) (*client.Client, error)

// Pool is a keyed cache of live MCP clients. The zero value is not usable;
// use New.
type Pool struct {
	group singleflight.Group

	mu      sync.Mutex
	clients map[string]*client.Client
	closed  bool
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{
		clients: make(map[string]*client.Client),
	}
}

// GetOrCreate returns the cached client for key, or builds one via factory.
// Concurrent callers for the same key share a single construction; the
// connect attempt is bounded by a 30 second timeout regardless of the
// caller's deadline.
func (p *Pool) GetOrCreate(ctx context.Context, key string, factory Factory) (*client.Client, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, vmcp.ErrTransportClosed
	}
	if c, ok := p.clients[key]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do(key, func() (any, error) {
		// Recheck under the flight: a previous flight may have populated
		// the entry between the fast path and here.
		p.mu.Lock()
		if c, ok := p.clients[key]; ok {
			p.mu.Unlock()
			return c, nil
		}
		p.mu.Unlock()

		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()

		c, err := factory(connectCtx)
		if err != nil {
			if errors.Is(connectCtx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: failed to connect %s: %v", vmcp.ErrTimeout, key, err)
			}
			return nil, fmt.Errorf("failed to connect %s: %w", key, err)
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			go closeQuietly(key, c)
			return nil, vmcp.ErrTransportClosed
		}
		p.clients[key] = c
		p.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*client.Client), nil
}

// Get returns the cached client for key without creating one.
func (p *Pool) Get(key string) (*client.Client, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clients[key]
	return c, ok
}

// Invalidate removes the entry for key and closes its client in the
// background. Safe to call for absent keys.
func (p *Pool) Invalidate(key string) {
	p.mu.Lock()
	c, ok := p.clients[key]
	if ok {
		delete(p.clients, key)
	}
	p.mu.Unlock()

	if ok {
		go closeQuietly(key, c)
	}
}

// HandleError evicts the entry when err indicates the cached client's
// connection went stale. Returns true when an eviction happened, signalling
// the caller that a retry against a fresh client may succeed.
func (p *Pool) HandleError(key string, err error) bool {
	if err == nil || !vmcp.IsStaleConnectionError(err) {
		return false
	}
	logger.Infof("Evicting stale client %s: %v", key, err)
	p.Invalidate(key)
	return true
}

// Shutdown closes every pooled client in parallel and rejects further use.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	clients := p.clients
	p.clients = make(map[string]*client.Client)
	p.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for key, c := range clients {
		g.Go(func() error {
			closeQuietly(key, c)
			return nil
		})
	}
	return g.Wait()
}

// Len returns the number of cached clients.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

func closeQuietly(key string, c *client.Client) {
	if err := c.Close(); err != nil {
		logger.Debugf("Error closing pooled client %s: %v", key, err)
	}
}
