// CLAUDE:SUMMARY Entry point for retrace: loads YAML or -url, starts the daemon and serves the settings surface over HTTP.
// Command retrace drives Chrome and restores user context across
// navigations: form values come back when a page is revisited, and the
// page just left is shown as a preview after each route change.
//
// Usage:
//
//	retrace -config retrace.yaml          # tabs and settings from YAML
//	retrace -url https://example.com      # quick single-tab session
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/retrace/daemon"
	"github.com/hazyhaar/retrace/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to retrace.yaml config file")
	singleURL := flag.String("url", "", "open a single URL")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	httpAddr := flag.String("http", "", "settings surface listen address (overrides config)")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *singleURL, *httpAddr); err != nil {
		logger.Error("retrace: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, singleURL, httpAddr string) error {
	var cfg *config.Config
	switch {
	case configPath != "":
		c, err := config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
	case singleURL != "":
		cfg = config.Default()
	default:
		fmt.Fprintln(os.Stderr, "usage: retrace -config <file> | -url <url>")
		os.Exit(2)
	}
	if singleURL != "" {
		cfg.Tabs = append(cfg.Tabs, config.TabConfig{URL: singleURL})
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if tok := os.Getenv("RETRACE_TOKEN"); tok != "" {
		cfg.HTTP.Token = tok
	}

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		d.Stop()
		return fmt.Errorf("start: %w", err)
	}
	defer d.Stop()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("retrace: listening", "addr", cfg.HTTP.Addr, "auth", cfg.HTTP.Token != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("retrace: http shutdown", "error", err)
	}
	logger.Info("retrace: stopped")
	return nil
}
