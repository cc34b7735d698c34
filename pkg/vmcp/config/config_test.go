// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func viperWith(values map[string]any) *viper.Viper {
	v := viper.New()
	for key, value := range values {
		v.Set(key, value)
	}
	return v
}

func TestFromViperDefaults(t *testing.T) {
	t.Parallel()

	cfg := FromViper(viper.New())
	assert.False(t, cfg.Production)
	assert.False(t, cfg.AllowStdio)
	assert.Empty(t, cfg.MeshURL)
	assert.False(t, cfg.MonitoringEnabled)
	assert.True(t, cfg.StdioAllowed())
}

func TestFromViperProductionIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	for _, value := range []string{"production", "PRODUCTION", "Production"} {
		cfg := FromViper(viperWith(map[string]any{KeyNodeEnv: value}))
		assert.True(t, cfg.Production, "NODE_ENV=%s", value)
	}

	cfg := FromViper(viperWith(map[string]any{KeyNodeEnv: "development"}))
	assert.False(t, cfg.Production)
}

func TestFromViperMeshURLFallsBackToBaseURL(t *testing.T) {
	t.Parallel()

	cfg := FromViper(viperWith(map[string]any{
		KeyMeshURL: "https://mesh.example.com",
		KeyBaseURL: "https://base.example.com",
	}))
	assert.Equal(t, "https://mesh.example.com", cfg.MeshURL)

	cfg = FromViper(viperWith(map[string]any{KeyBaseURL: "https://base.example.com"}))
	assert.Equal(t, "https://base.example.com", cfg.MeshURL)
}

func TestStdioAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		production bool
		allowStdio bool
		want       bool
	}{
		{"development", false, false, true},
		{"production", true, false, false},
		{"production with override", true, true, true},
		{"development with override", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Production: tt.production, AllowStdio: tt.allowStdio}
			assert.Equal(t, tt.want, cfg.StdioAllowed())
		})
	}
}

func TestFromViperRemainingKeys(t *testing.T) {
	t.Parallel()

	cfg := FromViper(viperWith(map[string]any{
		KeyMonitoringEnabled: "true",
		KeyJWTSecret:         "s3cret",
	}))
	assert.True(t, cfg.MonitoringEnabled)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}
