// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/bayesbridge/cmd/bayesbridge/config"
	bstore "github.com/AleutianAI/bayesbridge/services/bridge/storage/badger"
	"github.com/AleutianAI/bayesbridge/services/bridge/telemetry"
)

// app holds what every command shares: configuration, logger and
// telemetry, set up once in the root command's PersistentPreRunE.
type app struct {
	cfgPath     string
	logLevel    string
	logFormat   string
	logFile     string
	metricsAddr string

	cfg     config.Config
	logger  *slog.Logger
	metrics *telemetry.Metrics

	closers []func(context.Context) error
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:   "bayesbridge",
		Short: "Gibbs sampler for Bayesian bridge regression",
		Long: `bayesbridge draws posterior samples of linear, logistic and Cox
regression coefficients under a bridge prior, along with the global and
local shrinkage scales. Runs are checkpointed and can be resumed or merged.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "YAML config file (defaults apply when omitted)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: text or json")
	pf.StringVar(&a.logFile, "log-file", "", "also write JSON logs to this file")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "serve prometheus /metrics on this address")

	root.AddCommand(
		a.runCmd(),
		a.resumeCmd(),
		a.mergeCmd(),
		a.summaryCmd(),
		a.archivesCmd(),
		a.configCmd(),
	)
	return root, a
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if flags.Changed("log-file") {
		cfg.Log.File = a.logFile
	}
	if a.metricsAddr != "" {
		cfg.Telemetry.MetricExporter = "prometheus"
	}

	logger, logCloser, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func(context.Context) error { return logCloser.Close() })
	slog.SetDefault(logger)
	a.logger = logger
	a.cfg = cfg

	shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	a.metrics, err = telemetry.NewMetrics(otel.Meter("bayesbridge/chain"))
	if err != nil {
		return err
	}

	if a.metricsAddr != "" {
		if err := a.serveMetrics(); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) serveMetrics() error {
	handler := telemetry.MetricsHandler()
	if handler == nil {
		return errors.New("prometheus exporter is not enabled")
	}
	ln, err := net.Listen("tcp", a.metricsAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.metricsAddr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	a.logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))
	a.closers = append(a.closers, srv.Shutdown)
	return nil
}

// close releases everything setup acquired, last first.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openStore opens the configured archive store. A nil store and no error
// means no store is configured.
func (a *app) openStore(path string) (*bstore.ArchiveStore, io.Closer, error) {
	if path == "" {
		path = a.cfg.Storage.Path
	}
	if path == "" {
		return nil, io.NopCloser(nil), nil
	}
	cfg := bstore.DefaultConfig()
	cfg.Path = path
	cfg.SyncWrites = a.cfg.Storage.SyncWrites
	cfg.GCInterval = a.cfg.Storage.GCInterval
	cfg.Logger = a.logger.With(slog.String("component", "badger"))

	db, err := bstore.OpenDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := bstore.NewArchiveStore(db, a.logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db, nil
}
