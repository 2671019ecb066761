// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/ashish-admin/stra-tech-sub000/services/strategist/budget"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/cache"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/config"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/datatypes"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/handlers"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/observability"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/orchestrator"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/providers"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/resilience"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/router"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/routes"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/stream"
	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

// cacheSweepInterval bounds how long expired entries linger in memory
// when their fingerprints stop being requested.
const cacheSweepInterval = 10 * time.Minute

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	if endpoint == "" {
		endpoint = "stratech-otel-collector:4317"
	}
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("strategist-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	configPath := os.Getenv("STRATEGIST_CONFIG")
	if configPath == "" {
		configPath = "/etc/strategist/strategist.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("FATAL: could not load configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	cleanup, err := initTracer(cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	db, err := budget.OpenStore(budget.StoreConfig{
		Path:       cfg.Store.Path,
		InMemory:   cfg.Store.InMemory,
		SyncWrites: true,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("FATAL: could not open budget store: %v", err)
	}
	defer db.Close()

	ledger, err := budget.NewLedger(cfg.Ceilings(), db, nil)
	if err != nil {
		log.Fatalf("FATAL: could not initialize budget ledger: %v", err)
	}
	breaker := resilience.NewBreaker(cfg.Breaker.Resilience(), nil)
	responseCache := cache.NewResponseCache(cfg.Cache.TTLTable())
	hub := stream.NewHub()

	settings := make([]providers.Settings, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		settings = append(settings, pc.Settings())
	}
	pool, offline, err := providers.BuildPool(settings)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	for _, p := range pool {
		slog.Info("provider registered", "provider", p.ID())
	}
	if offline != nil {
		slog.Info("offline fallback configured", "provider", offline.ID())
	}

	selector := router.NewSelector(pool, breaker, ledger)
	engine := orchestrator.New(selector, responseCache, breaker, ledger, hub, offline,
		timeoutsFromConfig(cfg.Timeouts), cfg.Cache.TTLTable())

	// Hot reload for runtime tunables.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() {
		err := config.Watch(watchCtx, configPath, func(next config.Config) {
			responseCache.SetTTLTable(next.Cache.TTLTable())
			ledger.SetCeilings(next.Ceilings())
		})
		if err != nil {
			slog.Warn("config watcher stopped", "error", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(cacheSweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			if n := responseCache.Sweep(); n > 0 {
				slog.Debug("cache sweep", "removed", n)
			}
		}
	}()

	analysisHandler := handlers.NewAnalysisHandler(engine, hub)
	adminHandler := handlers.NewAdminHandler(breaker, ledger, responseCache)

	ginRouter := gin.Default()
	ginRouter.Use(otelgin.Middleware("strategist-service"))
	routes.SetupRoutes(ginRouter, analysisHandler, adminHandler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	slog.Info("starting strategist server", "addr", addr, "providers", len(pool))
	if err := ginRouter.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func timeoutsFromConfig(tc config.TimeoutConfig) orchestrator.TimeoutTable {
	table := orchestrator.DefaultTimeoutTable()
	if tc.Quick > 0 {
		table[datatypes.DepthQuick] = tc.Quick.Std()
	}
	if tc.Standard > 0 {
		table[datatypes.DepthStandard] = tc.Standard.Std()
	}
	if tc.Deep > 0 {
		table[datatypes.DepthDeep] = tc.Deep.Std()
	}
	return table
}
