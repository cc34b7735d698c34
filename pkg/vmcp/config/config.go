// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config exposes the environment toggles recognized by the mesh
// gateway core. Values are read through viper so tests and the CLI can
// override them uniformly.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Environment keys recognized by the core.
const (
	// KeyNodeEnv gates production behavior; "production" disallows STDIO
	// transports unless KeyUnsafeAllowStdio is set.
	KeyNodeEnv = "NODE_ENV"

	// KeyUnsafeAllowStdio overrides the production STDIO gate.
	KeyUnsafeAllowStdio = "UNSAFE_ALLOW_STDIO_TRANSPORT"

	// KeyMeshURL is the public URL of this mesh, used as JWT audience.
	KeyMeshURL = "MESH_URL"

	// KeyBaseURL is the fallback for KeyMeshURL.
	KeyBaseURL = "BASE_URL"

	// KeyMonitoringEnabled toggles monitoring DB writes. Metrics still emit
	// when off.
	KeyMonitoringEnabled = "MONITORING_ENABLED"

	// KeyJWTSecret is the HMAC secret used to sign mesh-issued JWTs.
	KeyJWTSecret = "MESH_JWT_SECRET"
)

// Config holds the resolved core configuration.
type Config struct {
	// Production is true when NODE_ENV=production.
	Production bool

	// AllowStdio permits STDIO transports even in production.
	AllowStdio bool

	// MeshURL is the JWT audience (MESH_URL, falling back to BASE_URL).
	MeshURL string

	// MonitoringEnabled controls monitoring DB writes.
	MonitoringEnabled bool

	// JWTSecret signs mesh-issued JWTs.
	JWTSecret string
}

// Load resolves the configuration from the environment.
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()
	for _, key := range []string{
		KeyNodeEnv, KeyUnsafeAllowStdio, KeyMeshURL, KeyBaseURL,
		KeyMonitoringEnabled, KeyJWTSecret,
	} {
		// BindEnv only fails on an empty key.
		_ = v.BindEnv(key)
	}
	return FromViper(v)
}

// FromViper resolves the configuration from an explicit viper instance.
// Tests use this to avoid mutating the process environment.
func FromViper(v *viper.Viper) *Config {
	meshURL := v.GetString(KeyMeshURL)
	if meshURL == "" {
		meshURL = v.GetString(KeyBaseURL)
	}
	return &Config{
		Production:        strings.EqualFold(v.GetString(KeyNodeEnv), "production"),
		AllowStdio:        v.GetBool(KeyUnsafeAllowStdio),
		MeshURL:           meshURL,
		MonitoringEnabled: v.GetBool(KeyMonitoringEnabled),
		JWTSecret:         v.GetString(KeyJWTSecret),
	}
}

// StdioAllowed reports whether a STDIO connection may be used under this
// configuration.
func (c *Config) StdioAllowed() bool {
	return !c.Production || c.AllowStdio
}
