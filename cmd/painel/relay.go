package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/kalambet/painel/internal/config"
	"github.com/kalambet/painel/internal/metrics"
	"github.com/kalambet/painel/internal/relay"
)

var relayListen string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the provider relay (foreground)",
	Long: `Run the relay that forwards analyzer calls to Hybrid Analysis and VirusTotal.

Server-side keys come from PAINEL_HYBRID_API_KEY and PAINEL_VIRUSTOTAL_API_KEY.
A key sent by the caller takes precedence over the server-side one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay()
	},
}

func init() {
	relayCmd.Flags().StringVar(&relayListen, "listen", "", "listen address (default 127.0.0.1:<relay.port>)")
}

func runRelay() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	m := metrics.New()
	srv := relay.New(relay.Config{
		HybridKey:         cfg.Relay.HybridAPIKey,
		VirusTotalKey:     cfg.Relay.VirusTotalAPIKey,
		HybridBaseURL:     cfg.Relay.HybridBaseURL,
		VirusTotalBaseURL: cfg.Relay.VirusTotalBaseURL,
		// Files travel base64-encoded inside the JSON envelope.
		MaxBodyBytes: cfg.Analysis.MaxUploadBytes()*4/3 + 1<<20,
	}, m)

	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Mount("/", srv.Handler())

	addr := relayListen
	if addr == "" {
		addr = fmt.Sprintf("127.0.0.1:%d", cfg.Relay.Port)
	}
	if cfg.Relay.HybridAPIKey == "" {
		printWarning("no server-side Hybrid Analysis key; callers must send their own")
	}
	if cfg.Relay.VirusTotalAPIKey == "" {
		printWarning("no server-side VirusTotal key; callers must send their own")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "painel relay listening on %s\n", addr)
	return serve(ctx, addr, r)
}
