// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package vmcp

import (
	"errors"
	"strings"
)

// Common domain errors used across vmcp subpackages.
// Following DDD principles, domain errors are defined at the package root.
// These errors should be checked using errors.Is().

var (
	// ErrNotFound indicates a requested tool, resource, prompt or entity was
	// not found. Wrapping errors should name what was missing.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the downstream server rejected our
	// credentials. Triggers at most one token-refresh retry.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTransportClosed indicates the transport was closed; all in-flight
	// requests fail with this terminal error.
	ErrTransportClosed = errors.New("transport closed")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidInput indicates invalid input parameters.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBackendUnavailable indicates a downstream server could not be
	// reached or failed at the transport level.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrStdioDisallowed indicates a STDIO connection was requested in
	// production without the explicit override.
	ErrStdioDisallowed = errors.New("stdio transport disallowed in production")
)

// staleConnectionPatterns are matched by substring against error messages to
// detect a dead pooled client. The underlying SDK and HTTP libraries do not
// expose structured types for these, so substring matching is the fallback.
var staleConnectionPatterns = []string{
	"server not initialized",
	"connection closed",
	"socket hang up",
	"econnreset",
	"econnrefused",
}

// IsStaleConnectionError reports whether err indicates the pooled client
// behind it is no longer usable and should be evicted.
func IsStaleConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range staleConnectionPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsMethodNotFound reports whether err is a downstream JSON-RPC method-not-
// found fault. During aggregation these are treated as an empty surface.
func IsMethodNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "method not found") || strings.Contains(msg, "-32601")
}

// IsUnauthorized reports whether err looks like a downstream 401/403.
func IsUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "401") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "forbidden")
}
