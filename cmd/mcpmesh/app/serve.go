// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/stacklok/mcpmesh/pkg/logger"
	"github.com/stacklok/mcpmesh/pkg/vmcp"
	"github.com/stacklok/mcpmesh/pkg/vmcp/bridge"
	meshclient "github.com/stacklok/mcpmesh/pkg/vmcp/client"
	"github.com/stacklok/mcpmesh/pkg/vmcp/config"
	"github.com/stacklok/mcpmesh/pkg/vmcp/headers"
	"github.com/stacklok/mcpmesh/pkg/vmcp/monitor"
	"github.com/stacklok/mcpmesh/pkg/vmcp/sandbox"
	"github.com/stacklok/mcpmesh/pkg/vmcp/storage"
	"github.com/stacklok/mcpmesh/pkg/vmcp/tokens"
)

// seedFile is the JSON shape of the --seed flag: the connections and
// Virtual MCP compositions loaded into the in-memory store.
type seedFile struct {
	Connections []*vmcp.Connection `json:"connections"`
	VirtualMCPs []*vmcp.VirtualMCP `json:"virtual_mcps"`
}

func newServeCmd() *cobra.Command {
	var (
		seedPath  string
		virtualID string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose a Virtual MCP composition over stdio",
		Long: `Serve a Virtual MCP composition as an MCP server on stdin/stdout.

Connections and compositions are loaded from the --seed JSON file into an
in-memory store; durable storage belongs to the embedding process.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, seedPath, virtualID)
		},
	}

	cmd.Flags().StringVar(&seedPath, "seed", "", "Path to the JSON seed file (required)")
	cmd.Flags().StringVar(&virtualID, "virtual", "", "ID of the Virtual MCP to serve (required)")
	_ = cmd.MarkFlagRequired("seed")
	_ = cmd.MarkFlagRequired("virtual")
	return cmd
}

func runServe(cmd *cobra.Command, seedPath, virtualID string) error {
	ctx := cmd.Context()
	cfg := config.Load()

	store, err := loadSeed(seedPath)
	if err != nil {
		return err
	}

	v, err := store.VirtualMCPs().FindByID(ctx, virtualID, "")
	if err != nil {
		return err
	}
	if v == nil {
		return fmt.Errorf("%w: virtual mcp %s", vmcp.ErrNotFound, virtualID)
	}

	refresher := tokens.NewRefresher(store.DownstreamTokens())
	builder := headers.NewBuilder(refresher, headers.NewSnapshotStore(), cfg.MeshURL, []byte(cfg.JWTSecret))
	sink := monitor.New(store.Monitoring(), cfg.MonitoringEnabled)

	factory := meshclient.NewFactory(cfg, builder, sink)
	dialer := bridge.NewDialer(store, sandbox.NewRunner())
	factory.SetVirtualDialer(dialer)

	session := factory.NewSession()
	defer func() {
		if err := session.Close(ctx); err != nil {
			logger.Warnf("Error closing client session: %v", err)
		}
		if err := factory.Shutdown(ctx); err != nil {
			logger.Warnf("Error shutting down client factory: %v", err)
		}
	}()

	ctx = vmcp.WithRequestInfo(ctx, &vmcp.RequestInfo{
		RequestID:      uuid.NewString(),
		OrganizationID: v.OrganizationID,
		VirtualMCPID:   v.ID,
	})

	conn := &vmcp.Connection{
		ID:             vmcp.NewID(vmcp.IDPrefixConnection),
		OrganizationID: v.OrganizationID,
		Title:          v.Title,
		ConnectionType: vmcp.ConnectionTypeVirtual,
		ConnectionURL:  vmcp.VirtualMCPURL(v.ID),
		Status:         vmcp.ConnectionStatusActive,
	}

	srv, err := dialer.Server(ctx, session, conn)
	if err != nil {
		return fmt.Errorf("failed to build virtual mcp server: %w", err)
	}

	logger.Infof("Serving virtual mcp %s (%s) on stdio", v.ID, v.Title)
	return server.ServeStdio(srv)
}

// loadSeed reads the seed file into a fresh in-memory store.
func loadSeed(path string) (*storage.MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	store := storage.NewMemoryStore()
	for _, conn := range seed.Connections {
		store.PutConnection(conn)
	}
	for _, v := range seed.VirtualMCPs {
		store.PutVirtualMCP(v)
	}
	return store, nil
}
