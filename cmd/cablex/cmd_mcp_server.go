package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cablex/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Run the MCP server over stdio",
		Long: `Serve the cablex_expand, cablex_inspect and cablex_runs tools over the
Model Context Protocol on stdin/stdout. Tool paths are confined to the
workspace root and ~/.cablex.

Example client configuration:
  {"command": "cablex", "args": ["mcp-server", "--root", "/path/to/models"]}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			root, err := workspaceRoot(cmd)
			if err != nil {
				return err
			}

			// stdout carries the protocol; logs go to stderr only.
			logger, decisions := newLoggers(cmd, cfg, root)
			defer decisions.Close()

			server, err := mcp.NewServer(&mcp.Config{
				Name:      "cablex",
				Version:   version,
				Root:      root,
				Defaults:  cfg,
				Logger:    logger,
				Decisions: decisions,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}

			logger.Info("mcp server starting", "root", root)
			return server.Run(cmd.Context())
		},
	}
}
