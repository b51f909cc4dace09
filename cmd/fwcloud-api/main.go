// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command fwcloud-api serves the firewall management backend: rule ordering,
// policy compilation, remote install and tree maintenance.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/api"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/config"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/db"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/events"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/logging"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to HCL config file")
	logLevel := flag.String("log-level", "", "Override log level (debug, info, warn, error)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", *configPath, err)
		}
		cfg = loaded
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logging.New(logging.Config{Level: logging.ParseLevel(cfg.LogLevel), Output: os.Stderr})
	logging.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error("create data directory", "error", err)
		os.Exit(1)
	}
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("open database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	hub := events.NewHub()
	collector := metrics.New()
	if err := collector.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("register metrics", "error", err)
		os.Exit(1)
	}

	server, err := api.NewServer(api.Options{
		Config:    cfg,
		Store:     store,
		Logger:    logger,
		Hub:       hub,
		Collector: collector,
	})
	if err != nil {
		logger.Error("initialize API server", "error", err)
		os.Exit(1)
	}

	if err := server.Start(); err != nil {
		logger.Error("start API server", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Error("shutdown", "error", err)
		os.Exit(1)
	}
}
