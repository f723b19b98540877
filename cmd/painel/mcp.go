package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/painel/internal/analyzers"
	"github.com/kalambet/painel/internal/api"
	"github.com/kalambet/painel/internal/config"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve analyses to an MCP client over stdio",
	Long: `Serve analyses, hash lookups and notes to an MCP client over stdin/stdout.

The server reads the same database as the daemon and can run while it is up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// stdout carries the protocol.
	setupLogging(cfg.Log.Level)

	db, recs, err := openRecords(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	vt := analyzers.NewVirusTotalAnalyzer(analyzers.NewClient(cfg.Relay.URL), hashCacheSize, nil)
	mcpSrv := api.NewMCPServer(api.Deps{
		Records: recs,
		Lookup:  vt,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
