package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourorg/card-orchestrator/internal/config"
	"github.com/yourorg/card-orchestrator/internal/logging"
	"github.com/yourorg/card-orchestrator/internal/tracing"
)

const serviceName = "card-orchestrator"

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "card-orchestrator",
		Short:         "Card payment orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	root.AddCommand(newServeCmd(), newReconcileCmd(os.Stdout))
	return root
}

// setup loads configuration and builds the logger.
func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	shutdownTracing, err := tracing.Init(cfg.Tracing.Enabled, serviceName, os.Stdout, log)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	gin.SetMode(gin.ReleaseMode)
	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.WithError(err).Warn("Error while closing resources")
		}
	}()

	if cfg.Reconciliation.Interval > 0 {
		go reconcileLoop(ctx, a, cfg.Reconciliation, log)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("Starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// reconcileLoop scans for stale pending transactions until ctx ends.
func reconcileLoop(ctx context.Context, a *app, cfg config.ReconciliationConfig, log logrus.FieldLogger) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.reporter.FindStalePending(ctx, cfg.PendingThreshold); err != nil {
				log.WithError(err).Error("Stale pending scan failed")
			}
		}
	}
}

func newReconcileCmd(out io.Writer) *cobra.Command {
	var threshold time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "List transactions left pending longer than the threshold",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if threshold <= 0 {
				threshold = cfg.Reconciliation.PendingThreshold
			}
			return reconcile(cmd.Context(), cfg, log, threshold, out)
		},
	}
	cmd.Flags().DurationVar(&threshold, "threshold", 0, "minimum age of a pending transaction (default from config)")
	return cmd
}

func reconcile(ctx context.Context, cfg *config.Config, log *logrus.Logger, threshold time.Duration, out io.Writer) error {
	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	report, err := a.reporter.FindStalePending(ctx, threshold)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
