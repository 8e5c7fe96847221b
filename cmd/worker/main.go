// Package main is the entry point for the sellwatch worker.
// The worker pulls pipeline tasks from the durable queue, runs the
// scheduled sweeps and delivers notifications.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sellwatch/internal/analytics"
	"sellwatch/internal/config"
	"sellwatch/internal/logger"
	"sellwatch/internal/marketplace"
	"sellwatch/internal/notify"
	"sellwatch/internal/observability"
	"sellwatch/internal/pipeline"
	"sellwatch/internal/scheduler"
	"sellwatch/internal/store/postgres"
	"sellwatch/internal/taskctl"
	"sellwatch/internal/worker"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: sellwatch.yaml in current directory)")
	flag.Parse()

	// Optional .env for local development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, "sellwatch-worker", cfg.OTELEndpoint)
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				slogger.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	metricsHandler, pipelineMetrics, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			slogger.Error("failed to shutdown metrics", "error", err)
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slogger.Error("metrics server stopped", "error", err)
		}
	}()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := postgres.Migrate(db.DB()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	control := taskctl.New(db, slogger)

	// Recover before any new job is accepted: running rows left by a
	// dead worker would block their (tenant, kind) slot forever.
	recovered, err := control.RecoverOrphans(ctx)
	if err != nil {
		log.Fatalf("Failed to recover orphaned jobs: %v", err)
	}
	slogger.Info("startup recovery finished", "recovered", recovered)

	sender := notify.NewTelegramSender(cfg.ChatToken, "")
	fanout := notify.NewFanout(sender, db, slogger).
		WithSendInterval(cfg.SendIntervalPerChat)

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		fanout = fanout.WithAnalytics(analytics.NewRedisSink(redisClient, slogger))
		defer redisClient.Close()
	}

	market := marketplace.NewClient(cfg.MarketplaceURL)
	photos := marketplace.NewPhotoResolver()

	pipe := pipeline.New(control, db, db, db, db, market, photos, fanout, pipelineMetrics, slogger)

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		sched = scheduler.New(db, slogger)
		if err := sched.Register(); err != nil {
			log.Fatalf("Failed to register schedules: %v", err)
		}
		sched.Start()
	}

	hostname, _ := os.Hostname()
	agent := worker.New(db, pipe.Handlers(), pipelineMetrics, slogger, worker.AgentConfig{
		ID:                hostname,
		Concurrency:       cfg.WorkerConcurrency,
		PollInterval:      cfg.WorkerPollInterval,
		MaxBackoff:        cfg.WorkerMaxBackoff,
		HeartbeatInterval: cfg.WorkerHeartbeat,
		TaskTimeout:       cfg.WorkerTaskTimeout,
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slogger.Info("signal received, shutting down", "signal", sig.String())
		if sched != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			sched.Stop(stopCtx)
		}
		cancel()
	}()

	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slogger.Error("agent stopped", "error", err)
		os.Exit(1)
	}

	<-agent.Done()
	slogger.Info("worker stopped")
}
