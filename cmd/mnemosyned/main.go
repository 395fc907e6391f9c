package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	nc "github.com/nats-io/nats.go"
	"github.com/nats-io/nats-server/v2/server"
	"go.uber.org/zap"

	"github.com/mnemosyne/mnemosyne/internal/config"
	"github.com/mnemosyne/mnemosyne/internal/evaluation"
	"github.com/mnemosyne/mnemosyne/internal/events"
	"github.com/mnemosyne/mnemosyne/internal/evolution"
	"github.com/mnemosyne/mnemosyne/internal/httpapi"
	"github.com/mnemosyne/mnemosyne/internal/logging"
	"github.com/mnemosyne/mnemosyne/internal/metrics"
	"github.com/mnemosyne/mnemosyne/internal/orchestrator"
	"github.com/mnemosyne/mnemosyne/internal/router"
	"github.com/mnemosyne/mnemosyne/internal/store"
	"github.com/mnemosyne/mnemosyne/internal/types"
)

func main() {
	configPath := flag.String("config", "configs/mnemosyne.yaml", "Path to configuration file")
	port := flag.Int("port", 0, "Override server port (0 = use config)")
	flag.Parse()

	log.Println("===============================================")
	log.Println("  mnemosyned - Mnemosyne memory substrate")
	log.Println("===============================================")

	var cfg *config.Config
	if _, err := os.Stat(*configPath); err == nil {
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			log.Printf("[MAIN] Warning: failed to load config from %s: %v", *configPath, err)
			log.Println("[MAIN] Using default configuration")
			cfg = config.DefaultConfig()
		} else {
			log.Printf("[MAIN] Loaded configuration from %s", *configPath)
		}
	} else {
		log.Println("[MAIN] Config file not found, using defaults")
		cfg = config.DefaultConfig()
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("[MAIN] Failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("server_port", cfg.Server.Port),
		zap.Int("nats_port", cfg.Server.NATSPort),
		zap.String("data_dir", cfg.Store.DataDir))

	if err := os.MkdirAll(cfg.Store.DataDir, 0755); err != nil {
		log.Fatalf("[MAIN] Failed to create data directory: %v", err)
	}

	st, err := store.Open(cfg.Store, logging.Component(logger, "store"))
	if err != nil {
		log.Fatalf("[MAIN] Failed to open memory store: %v", err)
	}
	defer st.Close()
	logger.Info("memory store opened", zap.String("path", cfg.Store.DataDir))

	if cfg.Store.Embedding.Provider == "http" {
		st.SetEmbeddingProvider(store.NewHTTPEmbeddingProvider(
			cfg.Store.Embedding.BaseURL, cfg.Store.Embedding.Model,
			cfg.Store.Embedding.RequestsPerSecond, cfg.Store.Embedding.Burst,
			cfg.Store.EmbeddingDimension))
		logger.Info("http embedding provider configured", zap.String("base_url", cfg.Store.Embedding.BaseURL))
	}

	// Embedded NATS server, same idiom as the teacher: a broker local to
	// this process backs the Message Router's remote leg.
	natsOpts := &server.Options{
		Port:     cfg.Server.NATSPort,
		HTTPPort: -1,
		NoLog:    true,
		NoSigs:   true,
	}
	natsServer, err := server.NewServer(natsOpts)
	if err != nil {
		log.Fatalf("[MAIN] Failed to create NATS server: %v", err)
	}
	go natsServer.Start()
	if !natsServer.ReadyForConnections(5 * time.Second) {
		log.Fatal("[MAIN] NATS server failed to start in time")
	}
	logger.Info("embedded NATS server started", zap.Int("port", cfg.Server.NATSPort))

	natsConn, err := nc.Connect(fmt.Sprintf("nats://localhost:%d", cfg.Server.NATSPort))
	if err != nil {
		log.Fatalf("[MAIN] Failed to connect to embedded NATS server: %v", err)
	}
	defer natsConn.Close()

	transport := router.NewNATSTransport(natsConn)
	rtr := router.New(transport)

	bus := events.NewBus(cfg.Events.Capacity, cfg.Router.NodeID)
	projector := events.NewProjector()
	projectorSub := bus.Subscribe()
	go projector.Run(context.Background(), projectorSub)
	defer projectorSub.Unsubscribe()

	exec := orchestrator.NewExecutor(cfg.Engine.ExecutorCommand, logging.Component(logger, "executor"))
	engine := orchestrator.New(cfg.Engine, logging.Component(logger, "orchestrator"), bus, rtr, exec, nil)

	mailbox := rtr.RegisterLocal(types.RoleOrchestrator, "work_item", 64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := engine.Supervisor().Supervise(ctx, "orchestrator-mailbox", func(ctx context.Context) error {
			return engine.ServeOrchestratorMailbox(ctx, mailbox)
		}); err != nil {
			logger.Error("orchestrator mailbox escalated", zap.Error(err))
		}
	}()
	go engine.Start(ctx)

	scheduler := evolution.NewScheduler(st, cfg.Evolution, logging.Component(logger, "evolution"), bus, engine)
	go func() {
		if err := engine.Supervisor().Supervise(ctx, "evolution-scheduler", func(ctx context.Context) error {
			scheduler.Start(ctx)
			return nil
		}); err != nil {
			logger.Error("evolution scheduler escalated", zap.Error(err))
		}
	}()

	// evaluator/scorer are constructed here and then discarded: neither the
	// HTTP API nor any other part of the daemon holds or calls them
	// (spec.md §4.6 is a library other components call into, not a
	// standalone server loop).
	_ = evaluation.NewCollector(st, cfg.Evaluation)
	_ = evaluation.NewRelevanceScorer(st)

	var cacheSampler metrics.PrefetchCacheSampler
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hits, misses := st.CacheStats()
				cacheSampler.Sample(hits, misses)
			}
		}
	}()

	httpServer := httpapi.NewServer(cfg.Server, bus, projector, st.CacheStats, engine, logging.Component(logger, "httpapi"))
	if err := httpServer.Start(ctx); err != nil {
		log.Fatalf("[MAIN] Failed to start HTTP API server: %v", err)
	}

	logger.Info("mnemosyned ready", zap.String("http_addr", httpServer.BoundAddr()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel() // stop engine/scheduler/mailbox loops

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}
	natsServer.Shutdown()

	logger.Info("mnemosyned shutdown complete")
}
