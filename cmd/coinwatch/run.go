package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/coinwatch"
)

func newRunCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the watcher until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatcher(gf)
		},
	}
}

func runWatcher(gf *GlobalFlags) error {
	w, cfg, closeLog, err := buildWatcher(gf)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		if err := coinwatch.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		go func() {
			if err := coinwatch.ServeMetrics(cfg.Metrics.Listen); err != nil && err != http.ErrServerClosed {
				fmt.Fprintln(os.Stderr, "metrics server:", err)
			}
		}()
	}

	if err := w.Start(ctx); err != nil {
		return err
	}

	var api *http.Server
	if cfg.HTTP.Enabled {
		api, err = w.NewHTTPServer(cfg.HTTP.Listen, cfg.HTTP.BasePath)
		if err != nil {
			w.Stop()
			return err
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	if api != nil {
		_ = api.Close()
	}
	w.Stop()
	return nil
}

// buildWatcher loads environment, config, and logging, and wires a Watcher.
// The returned closer flushes the log file when one is configured.
func buildWatcher(gf *GlobalFlags) (*coinwatch.Watcher, coinwatch.Config, func(), error) {
	// Missing .env is fine; explicit config problems are not.
	_ = godotenv.Load(gf.EnvFile)

	cfg, err := coinwatch.LoadConfig(gf.ConfigPath)
	if err != nil {
		return nil, cfg, nil, err
	}
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, cfg, nil, err
	}

	logger, closer, err := newLogger(cfg)
	if err != nil {
		return nil, cfg, nil, err
	}
	closeLog := func() {
		if closer != nil {
			_ = closer.Close()
		}
	}
	for _, warn := range warnings {
		logger.Warn(warn)
	}

	w, err := coinwatch.New(cfg, logger)
	if err != nil {
		closeLog()
		return nil, cfg, nil, err
	}
	return w, cfg, closeLog, nil
}
