// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the mcpmesh command-line
// application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/mcpmesh/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "mcpmesh",
	DisableAutoGenTag: true,
	Short:             "MCP mesh gateway - compose and proxy downstream MCP servers",
	Long: `mcpmesh is the engine of a multi-tenant MCP mesh gateway. It speaks MCP to
downstream tool servers over STDIO, streamable HTTP, SSE and WebSocket, and
exposes Virtual MCP compositions that aggregate their tools, resources and
prompts into one logical server with optional tool-selection strategies.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates the root command for the mcpmesh CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}
