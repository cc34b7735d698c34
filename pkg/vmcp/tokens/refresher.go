// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tokens manages the downstream OAuth tuples used to authenticate
// outbound requests. It implements the proactive refresh algorithm: a
// refreshable token is refreshed five minutes before expiry; a
// non-refreshable expired token is deleted so the static bearer takes over.
package tokens

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/stacklok/mcpmesh/pkg/logger"
	"github.com/stacklok/mcpmesh/pkg/vmcp"
	"github.com/stacklok/mcpmesh/pkg/vmcp/storage"
)

// Refresher resolves a usable downstream access token for a connection.
type Refresher interface {
	// AccessToken returns the current access token for (connectionID,
	// userID), refreshing it first when needed. Returns "" when no usable
	// token is cached; that is not an error.
	AccessToken(ctx context.Context, connectionID, userID string) (string, error)

	// Invalidate drops the cached token after a downstream 401 so the next
	// request falls back to the static bearer.
	Invalidate(ctx context.Context, connectionID, userID string) error
}

// tokenSourceFunc obtains a fresh token tuple from the token endpoint.
// Abstracted so tests can stub the OAuth round-trip.
type tokenSourceFunc func(ctx context.Context, token *vmcp.DownstreamToken) (*oauth2.Token, error)

type refresher struct {
	store  storage.DownstreamTokens
	now    func() time.Time
	source tokenSourceFunc
}

// NewRefresher creates a Refresher backed by the given token storage.
func NewRefresher(store storage.DownstreamTokens) Refresher {
	return &refresher{
		store:  store,
		now:    time.Now,
		source: oauthRefresh,
	}
}

// oauthRefresh performs one refresh-grant round-trip. No retries: a single
// failure deletes the cached token.
func oauthRefresh(ctx context.Context, token *vmcp.DownstreamToken) (*oauth2.Token, error) {
	conf := &oauth2.Config{
		ClientID:     token.ClientID,
		ClientSecret: token.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: token.TokenURL},
	}
	// Expiry in the past forces TokenSource to hit the endpoint.
	seed := &oauth2.Token{
		RefreshToken: token.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	}
	return conf.TokenSource(ctx, seed).Token()
}

func (r *refresher) AccessToken(ctx context.Context, connectionID, userID string) (string, error) {
	token, err := r.store.Get(ctx, connectionID, userID)
	if err != nil {
		return "", fmt.Errorf("failed to read downstream token for %s: %w", connectionID, err)
	}
	if token == nil {
		return "", nil
	}

	if !token.IsExpired(r.now()) {
		return token.AccessToken, nil
	}

	if !token.CanRefresh() {
		// Expired with no refresh capability: delete so callers fall back to
		// the connection's static bearer.
		if err := r.store.Delete(ctx, connectionID, userID); err != nil {
			logger.Warnf("Failed to delete expired token for %s: %v", connectionID, err)
		}
		return "", nil
	}

	fresh, err := r.source(ctx, token)
	if err != nil {
		logger.Warnf("Token refresh failed for connection %s: %v", connectionID, err)
		if delErr := r.store.Delete(ctx, connectionID, userID); delErr != nil {
			logger.Warnf("Failed to delete token for %s after refresh failure: %v", connectionID, delErr)
		}
		return "", nil
	}

	updated := *token
	updated.AccessToken = fresh.AccessToken
	if fresh.RefreshToken != "" {
		updated.RefreshToken = fresh.RefreshToken
	}
	updated.ExpiresAt = fresh.Expiry
	if scope, ok := fresh.Extra("scope").(string); ok && scope != "" {
		updated.Scope = scope
	}
	updated.UpdatedAt = r.now()

	if err := r.store.Upsert(ctx, &updated); err != nil {
		logger.Warnf("Failed to persist refreshed token for %s: %v", connectionID, err)
	}

	logger.Debugf("Refreshed downstream token for connection %s", connectionID)
	return updated.AccessToken, nil
}

func (r *refresher) Invalidate(ctx context.Context, connectionID, userID string) error {
	return r.store.Delete(ctx, connectionID, userID)
}
