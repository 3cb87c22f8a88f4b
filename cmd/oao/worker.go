package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/yashsham/open-agent-orchestrator/config"
	"github.com/yashsham/open-agent-orchestrator/event"
	"github.com/yashsham/open-agent-orchestrator/scheduler"
	"github.com/yashsham/open-agent-orchestrator/server"
	"github.com/yashsham/open-agent-orchestrator/telemetry"
	oao "github.com/yashsham/open-agent-orchestrator"
)

func workerCommand(args []string) error {
	flags := flag.NewFlagSet("worker", flag.ExitOnError)
	configPath := flags.String("config", "", "path to YAML config")
	workerID := flags.String("id", "", "worker id (generated when empty)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)
	tracer := telemetry.NewTracer(sdktrace.NewTracerProvider())
	bus := event.NewBus()

	var queue scheduler.Queue
	if stores.client != nil {
		queue = scheduler.NewRedisQueue(stores.client, cfg.WorkerTimeout)
	} else {
		queue = scheduler.NewMemoryQueue(cfg.WorkerTimeout)
	}

	handler, err := scheduler.NewExecutionHandler(scheduler.HandlerOptions{
		Log:       stores.log,
		Snapshots: stores.snapshots,
		Adapters: func(name string) (oao.AgentAdapter, error) {
			switch name {
			case "", "echo", "echo-agent":
				return &echoAgent{}, nil
			default:
				return nil, fmt.Errorf("no adapter registered for %q", name)
			}
		},
		Bus:     bus,
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		return err
	}

	worker, err := scheduler.NewWorker(scheduler.WorkerOptions{
		ID:      *workerID,
		Queue:   queue,
		Handler: handler,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recoverer := scheduler.NewRecoverer(scheduler.RecovererOptions{
		Queue:   queue,
		Bus:     bus,
		Logger:  logger,
		Metrics: metrics,
	})
	go recoverer.Start(ctx)

	srv := server.New(server.Options{Bus: bus, Logger: logger, Gatherer: registry})
	httpServer := &http.Server{Addr: cfg.Listen, Handler: srv.Handler()}
	go func() {
		logger.Info("event stream listening", "addr", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
		}
	}()

	// Log configuration changes while running. The reloaded values are not
	// applied: the logger level and worker settings stay as started.
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, func(next *config.Config) {
			logger.Info("configuration changed", "log_level", next.Log.Level)
		}, logger)
		if err == nil {
			go watcher.Watch(ctx)
		}
	}

	done := make(chan error, 1)
	go func() { done <- worker.Start(ctx) }()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-signals:
		logger.Info("shutting down", "signal", sig.String())
		worker.Stop()
		<-done
	case err := <-done:
		if err != nil && err != context.Canceled {
			return err
		}
	}
	httpServer.Shutdown(context.Background())
	return nil
}

func serveCommand(args []string) error {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := flags.String("config", "", "path to YAML config")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	registry := prometheus.NewRegistry()
	telemetry.NewMetrics(registry)
	bus := event.NewBus()

	srv := server.New(server.Options{Bus: bus, Logger: logger, Gatherer: registry})
	logger.Info("event stream listening", "addr", cfg.Listen)
	return http.ListenAndServe(cfg.Listen, srv.Handler())
}
