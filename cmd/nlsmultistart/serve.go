package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/nlsmultistart/internal/config"
	"github.com/cwbudde/nlsmultistart/internal/server"
	"github.com/cwbudde/nlsmultistart/internal/store"
)

var (
	envFile      string
	serveAddr    string
	serveDataDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP job server",
	Long: `Starts the HTTP API for submitting fit jobs, following their progress over
server-sent events and fetching result tables. Settings come from NLS_*
environment variables, optionally loaded from an env file.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&envFile, "env-file", ".env", "Environment file to load if present")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides NLS_ADDR)")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "", "Run store directory (overrides NLS_DATA_DIR)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServerConfig(envFile)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if serveDataDir != "" {
		cfg.DataDir = serveDataDir
	}
	if !cmd.Flags().Changed("log-level") {
		setupLogger(cfg.LogLevel)
	}

	st, err := store.NewFSStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	srv := server.NewServer(cfg.Addr, st, cfg.MaxJobs)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case sig := <-sigCh:
		slog.Info("Received signal", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
