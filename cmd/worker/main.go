package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"recognition-orchestrator/internal/app"
	"recognition-orchestrator/internal/config"
	"recognition-orchestrator/internal/queue"
	"recognition-orchestrator/internal/telemetry"
	workerproc "recognition-orchestrator/internal/worker"
)

func main() {
	cfg := config.Load()
	log := app.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	components, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("Startup failed.", "error", err)
		os.Exit(1)
	}
	defer components.Close()

	q := queue.NewRedisQueue(cfg)
	defer q.Close()

	processor := workerproc.NewProcessor(q, components.Store, components.Orchestrator, cfg.WorkerPollInterval, log)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Warn("Metrics server stopped.", "error", err)
		}
	}()

	log.Info("Worker started.", "visibility", cfg.VisibilityTimeout, "pollAttempts", cfg.PollMaxAttempts, "pollInterval", cfg.PollInterval)
	if err := processor.Run(ctx); err != nil {
		log.Info("Worker stopped.", "error", err)
	}
}
