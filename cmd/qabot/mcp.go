package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/qabot/internal/api"
	"github.com/kalambet/qabot/internal/config"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the knowledge base to MCP clients over stdio",
	Long: `Serve ask, teach and stats tools and the qa://recent resource over the
MCP stdio transport. The data dir is opened directly, so the HTTP server must
not be running on the same data dir.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		// stdout carries the protocol; logs go to stderr.
		if err := setupLogging(cfg); err != nil {
			return err
		}

		ctx := cmd.Context()
		local, err := openLocal(ctx, cfg)
		if err != nil {
			return err
		}
		defer local.Close()

		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Engine: local.eng,
			Asks:   local.asks,
			Logger: slog.Default(),
		}, version)

		slog.Info("MCP server started (stdio transport)", "records", local.eng.Stats(ctx).Count)
		stdioSrv := server.NewStdioServer(mcpSrv)
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
