// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command guardd runs the loopguard daemon: a runaway-execution guard
// with an HTTP API, a live websocket incident feed, Prometheus metrics
// and an optional durable incident archive.
//
// Usage:
//
//	go run ./cmd/guardd
//	go run ./cmd/guardd -config /etc/loopguard/loopguard.yaml
//	go run ./cmd/guardd -demo
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8099/v1/guard/health
//
//	# Current stats
//	curl http://localhost:8099/v1/guard/stats | jq
//
//	# Execute the emergency stop
//	curl -X POST http://localhost:8099/v1/guard/stop \
//	  -H "Content-Type: application/json" \
//	  -d '{"reason": "operator request"}'
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/simulateai/loopguard/pkg/logging"
	"github.com/simulateai/loopguard/services/guard"
	"github.com/simulateai/loopguard/services/guard/config"
	guardbadger "github.com/simulateai/loopguard/services/guard/storage/badger"
	"github.com/simulateai/loopguard/services/guard/telemetry"
)

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "loopguard.yaml"
	}
	return filepath.Join(home, ".loopguard", "loopguard.yaml")
}

func main() {
	configPath := flag.String("config", defaultConfigPath(), "Path to the YAML config file")
	debug := flag.Bool("debug", false, "Enable debug mode")
	demo := flag.Bool("demo", false, "Run a demo workload that periodically trips the guard")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Default().Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	if *debug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "guardd",
		JSON:    true,
		Quiet:   cfg.Logging.Quiet,
	})
	defer logger.Close()
	slogger := logger.Slog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:    "guardd",
			ServiceVersion: "1.0.0",
			TraceExporter:  cfg.Telemetry.TraceExporter,
			MetricExporter: "prometheus",
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
			OTLPInsecure:   true,
		})
		if err != nil {
			slogger.Error("failed to init telemetry", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slogger.Warn("telemetry shutdown", "error", err)
			}
		}()
	}

	guardOpts := []guard.Option{guard.WithLogger(slogger)}

	var archive *guardbadger.Archive
	if cfg.Storage.Enabled {
		var storeCfg guardbadger.Config
		if cfg.Storage.Dir == "" {
			storeCfg = guardbadger.InMemoryConfig()
		} else {
			storeCfg = guardbadger.DefaultConfig(cfg.Storage.Dir)
		}
		db, err := guardbadger.Open(storeCfg)
		if err != nil {
			slogger.Error("failed to open the incident archive", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		archive = guardbadger.NewArchive(db, slogger)
		guardOpts = append(guardOpts, guard.WithSink(archive))
	}

	g, err := guard.New(cfg, guardOpts...)
	if err != nil {
		slogger.Error("failed to create the guard", "error", err)
		os.Exit(1)
	}
	defer g.Close()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Telemetry.Enabled {
		router.Use(otelgin.Middleware("guardd"))
	}
	if *debug {
		router.Use(gin.Logger())
	}

	handlers := guard.NewHandlers(g, archiveOrNil(archive), slogger)
	stream := guard.NewStream(g, slogger)
	guard.RegisterRoutes(router.Group("/v1"), handlers, stream)

	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	} else {
		router.GET("/metrics", gin.WrapH(defaultMetricsHandler()))
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		slogger.Info("guardd listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		slogger.Info("shutting down guardd")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownGrace))
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Hot reload: a valid config edit resets the guard with the new
	// thresholds.
	watcher, err := config.NewWatcher(*configPath, slogger, func(newCfg config.Config) {
		if err := g.Reset(newCfg); err != nil {
			slogger.Warn("config reload rejected", "error", err)
		}
	})
	if err != nil {
		slogger.Warn("config watcher unavailable, hot reload disabled", "error", err)
	} else {
		group.Go(func() error {
			if err := watcher.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if *demo {
		group.Go(func() error {
			runDemoWorkload(groupCtx, g, slogger)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		slogger.Error("guardd exited with error", "error", err)
		os.Exit(1)
	}
	slogger.Info("guardd stopped")
}

// archiveOrNil avoids handing a typed-nil Archiver to the handlers.
func archiveOrNil(a *guardbadger.Archive) guard.Archiver {
	if a == nil {
		return nil
	}
	return a
}
