// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package headers assembles the per-request header set for outbound
// HTTP-family transports: request correlation headers, the Authorization
// bearer (cached OAuth token first, static bearer second) and the
// mesh-issued JWT carrying the caller's identity and connection permissions.
package headers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/stacklok/mcpmesh/pkg/vmcp"
	"github.com/stacklok/mcpmesh/pkg/vmcp/tokens"
)

// Header names emitted by the builder.
const (
	HeaderRequestID     = "x-request-id"
	HeaderCallerID      = "x-caller-id"
	HeaderMeshToken     = "x-mesh-token"
	HeaderAuthorization = "Authorization"
)

// meshTokenTTL bounds the lifetime of mesh-issued JWTs.
const meshTokenTTL = 5 * time.Minute

// forwardableHeaders are the well-known request-metadata headers copied onto
// outbound requests when present in RequestInfo.ForwardHeaders.
var forwardableHeaders = []string{
	"traceparent",
	"tracestate",
	"x-forwarded-for",
	"accept-language",
}

// Builder assembles outbound headers and publishes them to the shared
// snapshot store before each send.
type Builder struct {
	refresher tokens.Refresher
	store     *SnapshotStore
	meshURL   string
	jwtSecret []byte
	now       func() time.Time
}

// NewBuilder creates a header builder. meshURL becomes the JWT audience;
// jwtSecret signs mesh tokens with HS256.
func NewBuilder(refresher tokens.Refresher, store *SnapshotStore, meshURL string, jwtSecret []byte) *Builder {
	return &Builder{
		refresher: refresher,
		store:     store,
		meshURL:   meshURL,
		jwtSecret: jwtSecret,
		now:       time.Now,
	}
}

// SnapshotStore returns the store transports read from.
func (b *Builder) SnapshotStore() *SnapshotStore {
	return b.store
}

// Refresher returns the token refresher bearer tokens come from. Callers
// use it to drop a cached token after a downstream rejects it.
func (b *Builder) Refresher() tokens.Refresher {
	return b.refresher
}

// Build assembles the header map for one outbound request and publishes it
// as the connection's current snapshot.
func (b *Builder) Build(ctx context.Context, conn *vmcp.Connection) (map[string]string, error) {
	out := make(map[string]string, len(conn.ConnectionHeaders)+4)
	for k, v := range conn.ConnectionHeaders {
		out[k] = v
	}

	info, _ := vmcp.RequestInfoFromContext(ctx)
	if info == nil {
		info = &vmcp.RequestInfo{}
	}

	if info.RequestID != "" {
		out[HeaderRequestID] = info.RequestID
	}
	if info.CallerConnectionID != "" {
		out[HeaderCallerID] = info.CallerConnectionID
	}
	for _, name := range forwardableHeaders {
		if v, ok := info.ForwardHeaders[name]; ok && v != "" {
			out[name] = v
		}
	}

	bearer, err := b.bearer(ctx, conn, info)
	if err != nil {
		return nil, err
	}
	if bearer != "" {
		out[HeaderAuthorization] = "Bearer " + bearer
	}

	meshToken, err := b.meshToken(conn, info)
	if err != nil {
		return nil, fmt.Errorf("failed to issue mesh token: %w", err)
	}
	out[HeaderMeshToken] = meshToken

	b.store.Publish(conn.ID, out)
	return out, nil
}

// bearer chooses the Authorization token: a valid (possibly just refreshed)
// cached OAuth token wins; the connection's static bearer is the fallback;
// otherwise no Authorization header is emitted.
func (b *Builder) bearer(ctx context.Context, conn *vmcp.Connection, info *vmcp.RequestInfo) (string, error) {
	token, err := b.refresher.AccessToken(ctx, conn.ID, info.UserID)
	if err != nil {
		return "", err
	}
	if token != "" {
		return token, nil
	}
	return conn.ConnectionToken, nil
}

// meshToken issues the short-lived x-mesh-token JWT.
func (b *Builder) meshToken(conn *vmcp.Connection, info *vmcp.RequestInfo) (string, error) {
	now := b.now()
	builder := jwt.NewBuilder().
		Subject(conn.ID).
		Audience([]string{b.meshURL}).
		IssuedAt(now).
		Expiration(now.Add(meshTokenTTL)).
		Claim("meshUrl", b.meshURL).
		Claim("connectionId", conn.ID).
		Claim("organizationId", conn.OrganizationID).
		Claim("permissions", ConnectionPermissions(conn))
	if info.UserID != "" {
		builder = builder.Claim("user", info.UserID)
	}
	if len(conn.ConfigurationState) > 0 {
		builder = builder.Claim("configurationState", conn.ConfigurationState)
	}

	token, err := builder.Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), b.jwtSecret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

// ConnectionPermissions derives the {referenced connection id → scopes}
// mapping from a connection's configuration state and scopes. A scope entry
// "KEY::SCOPE" grants SCOPE on the connection id stored under KEY in the
// configuration state; "*" grants "*" on every referenced connection.
func ConnectionPermissions(conn *vmcp.Connection) map[string][]string {
	refs := make(map[string]string) // state key -> referenced connection id
	for key, value := range conn.ConfigurationState {
		if id, ok := value.(string); ok && strings.HasPrefix(id, vmcp.IDPrefixConnection) {
			refs[key] = id
		}
	}

	perms := make(map[string][]string)
	for _, entry := range conn.ConfigurationScopes {
		if entry == "*" {
			for _, id := range refs {
				perms[id] = []string{"*"}
			}
			continue
		}
		key, scope, ok := strings.Cut(entry, "::")
		if !ok {
			continue
		}
		id, ok := refs[key]
		if !ok {
			continue
		}
		if contains(perms[id], "*") {
			continue
		}
		if !contains(perms[id], scope) {
			perms[id] = append(perms[id], scope)
		}
	}
	return perms
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
