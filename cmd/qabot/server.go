package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/qabot/internal/api"
	"github.com/kalambet/qabot/internal/config"
	"github.com/kalambet/qabot/internal/notify"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Start the qabot HTTP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running qabot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show qabot server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "qabot.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
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

func runServer(ctx context.Context) error {
	fmt.Fprintf(os.Stderr, "qabot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	// Check if a server is already answering on the configured port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(cfg.BaseURL() + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("qabot is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("qabot is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	local, err := openLocal(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := local.Close(); err != nil {
			slog.Warn("closing engine", "error", err)
		}
	}()

	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	stats := local.eng.Stats(ctx)
	slog.Info("knowledge base loaded", "records", stats.Count, "data_dir", cfg.Storage.DataDir)

	handler := api.NewHandler(api.Deps{
		Engine: local.eng,
		Asks:   local.asks,
		Logger: slog.Default(),
	})

	addr := cfg.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	chat := notify.NewClient(cfg.GoogleChat.WebhookURL, cfg.Notify.RatePerMinute)
	if chat.Configured() {
		worker := notify.NewWorker(local.store, chat, 2*time.Second, slog.Default())
		g.Go(func() error { return worker.Run(gctx) })
		slog.Info("google chat notifications enabled", "rate_per_minute", cfg.Notify.RatePerMinute)
	} else {
		slog.Info("google chat webhook not configured; unanswered questions are only logged")
	}

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "qabot listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
		printError("qabot is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop qabot (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to qabot (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    cfg.BaseURL(),
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}

	var status struct {
		Records int    `json:"records"`
		State   string `json:"state"`
	}
	resp, err := client.get(ctx, "/api/status")
	if err == nil {
		err = decodeJSON(resp, &status)
	}
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		printStatus("Server", "running at %s", cfg.BaseURL())
		printStatus("Engine", "%s", status.State)
		printStatus("Records", "%d", status.Records)
	}

	printStatus("Threshold", "%.2f", cfg.Matcher.Threshold)
	printStatus("Diacritics", "%s", foldLabel(cfg.Matcher.FoldDiacritics))
	if cfg.GoogleChat.WebhookURL != "" {
		printStatus("Google Chat", "webhook configured")
	} else {
		printStatus("Google Chat", "not configured")
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func foldLabel(fold bool) string {
	if fold {
		return "folded (xin chao = xin chào)"
	}
	return "significant"
}
