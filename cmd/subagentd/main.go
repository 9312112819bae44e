package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/antoniostano/subagentd/internal/config"
	"github.com/antoniostano/subagentd/internal/httpapi"
	"github.com/antoniostano/subagentd/internal/observability"
	"github.com/antoniostano/subagentd/internal/orchestrator"
	"github.com/antoniostano/subagentd/internal/provider"
	"github.com/antoniostano/subagentd/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := tasks.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("task store init failed: %v", err)
	}
	if store != nil {
		defer store.Close()
		log.Printf("task archive: postgres")
	} else {
		log.Printf("task archive: disabled (DATABASE_URL not set)")
	}

	prov, err := provider.New(provider.Config{
		Mode:    cfg.ProviderMode,
		HTTPURL: cfg.ProviderHTTPURL,
	})
	if err != nil {
		log.Fatalf("provider init failed: %v", err)
	}
	if _, ok := prov.(*provider.MockProvider); ok {
		log.Printf("execution context provider: mock")
	} else {
		log.Printf("execution context provider: http (%s)", cfg.ProviderHTTPURL)
	}

	orch := orchestrator.New(orchestrator.Config{
		MaxConcurrent:       cfg.MaxConcurrentTasks,
		PollInterval:        cfg.PollInterval,
		TaskTimeout:         cfg.TaskTimeout,
		StablePollThreshold: cfg.StablePollThreshold,
		IdleEventDebounce:   cfg.IdleEventDebounce,
		WaitPollStep:        cfg.WaitPollStep,
		ResultCharLimit:     cfg.ResultCharLimit,
	}, prov, store, metrics)
	orch.Start()

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	if strings.TrimSpace(cfg.ProviderEventsURL) != "" {
		listener := provider.NewEventListener(cfg.ProviderEventsURL, orch.HandleEvent)
		go listener.Run(runCtx)
		log.Printf("event listener: %s", cfg.ProviderEventsURL)
	}

	api := httpapi.New(cfg, orch, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	orch.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
