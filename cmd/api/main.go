package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "recognition-orchestrator/internal/api"
	"recognition-orchestrator/internal/app"
	"recognition-orchestrator/internal/config"
	"recognition-orchestrator/internal/queue"
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

	server := api.New(cfg, components.Orchestrator, components.Store, components.Archiver, q, log)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("API listening.", "port", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Listen failed.", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
