package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/painel/internal/analyzers"
	"github.com/kalambet/painel/internal/api"
	"github.com/kalambet/painel/internal/archive"
	"github.com/kalambet/painel/internal/config"
	"github.com/kalambet/painel/internal/metrics"
	"github.com/kalambet/painel/internal/orchestrator"
	"github.com/kalambet/painel/internal/records"
	"github.com/kalambet/painel/internal/reports"
	"github.com/kalambet/painel/internal/storage"
)

const (
	maxConnections = 64
	hashCacheSize  = 256
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the painel daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running painel daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show painel daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "painel.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// openRecords opens the database and the record store on top of it.
func openRecords(dataDir string) (*storage.Store, *records.Store, error) {
	db, err := storage.Open(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}
	return db, records.NewStore(db.Namespace("painel")), nil
}

func runServer() error {
	fmt.Fprintln(os.Stderr, versionString())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	apiToken, err := config.GetAPIToken(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("painel is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("painel is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, recs, err := openRecords(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	m := metrics.New()
	m.CountRecordsWith(func() float64 {
		list, err := recs.List(context.Background())
		if err != nil {
			return 0
		}
		return float64(len(list))
	})

	client := analyzers.NewClient(cfg.Relay.URL)
	hybrid := analyzers.NewHybridAnalyzer(client)
	vt := analyzers.NewVirusTotalAnalyzer(client, hashCacheSize, m)

	worker := reports.NewWorker(db, recs, hybrid, vt, reports.Options{
		MaxAttempts: cfg.Analysis.ReportAttempts,
		Metrics:     m,
	})
	recs.OnReset(worker.CancelAll)
	recs.OnReset(func(context.Context) { vt.PurgeCache() })

	opts := orchestrator.Options{
		Hybrid:          hybrid,
		VirusTotal:      vt,
		Store:           recs,
		Scheduler:       worker,
		Metrics:         m,
		HybridDelay:     cfg.Analysis.HybridDelay,
		VirusTotalDelay: cfg.Analysis.VirusTotalDelay,
	}
	if cfg.Archive.Enabled() {
		arc, err := archive.New(ctx, archive.Config{
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			Bucket:    cfg.Archive.Bucket,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			slog.Warn("sample archive unavailable, continuing without it", "endpoint", cfg.Archive.Endpoint, "error", err)
		} else {
			opts.Archive = arc
		}
	}

	handler := api.NewHandler(api.Deps{
		Records:        recs,
		Submitter:      orchestrator.New(opts),
		Lookup:         vt,
		Metrics:        m,
		Token:          apiToken,
		MaxUploadBytes: cfg.Analysis.MaxUploadBytes(),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	fmt.Fprintf(os.Stderr, "painel listening on %s (relay %s)\n", addr, cfg.Relay.URL)
	return serve(ctx, addr, handler, worker.Run)
}

// serve runs an HTTP server on addr alongside the background tasks until ctx
// is cancelled, then shuts the server down gracefully.
func serve(ctx context.Context, addr string, handler http.Handler, background ...func(context.Context)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return gctx
		},
	}

	for _, run := range background {
		g.Go(func() error {
			run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		if err := srv.Serve(netutil.LimitListener(ln, maxConnections)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("painel is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop painel (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to painel (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Daemon", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Daemon", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Daemon", "error (HTTP %d)", resp.StatusCode)
		}
	}

	relayResp, err := client.Get(strings.TrimRight(cfg.Relay.URL, "/") + "/health")
	if err != nil {
		printStatus("Relay", "not reachable at %s", cfg.Relay.URL)
	} else {
		relayResp.Body.Close()
		printStatus("Relay", "running at %s", cfg.Relay.URL)
	}

	if running {
		if c, err := newAPIClient(); err == nil {
			reqCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			var dash api.Dashboard
			if resp, err := c.get(reqCtx, "/dashboard"); err == nil && decodeJSON(resp, &dash) == nil {
				printStatus("Analyses", "%d (%d active, %d threats)", dash.Summary.Total, dash.Summary.Active, dash.Summary.Threats)
			}
			var creds api.CredentialStatus
			if resp, err := c.get(reqCtx, "/credentials"); err == nil && decodeJSON(resp, &creds) == nil {
				printStatus("Hybrid Analysis key", "%s", configuredLabel(creds.HybridAnalysis))
				printStatus("VirusTotal key", "%s", configuredLabel(creds.VirusTotal))
			}
		}
	}

	printStatus("Archive", "%s", configuredLabel(cfg.Archive.Enabled()))
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func configuredLabel(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}
