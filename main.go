package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"seismonet/internal/api"
	"seismonet/internal/config"
	"seismonet/internal/consensus"
	"seismonet/internal/db"
	"seismonet/internal/ingest"
	"seismonet/internal/liveness"
	"seismonet/internal/notify"
	"seismonet/internal/registry"
	"seismonet/internal/reinit"
	"seismonet/internal/ws"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	slog.InfoContext(ctx, "Starting service...")

	cfg, err := config.Load(".")
	if err != nil {
		panic(err)
	}

	store, err := db.Init(ctx, db.Config{
		ConnString:     cfg.Postgres.ConnString,
		MigrationsPath: cfg.Postgres.MigrationsPath,
	})
	if err != nil {
		panic(err)
	}
	defer store.Close()

	doc, err := store.GetConfig(ctx)
	if err != nil {
		panic(err)
	}

	reg := registry.New(cfg.Devices)
	tracker := liveness.New()
	publisher := notify.New(notify.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
	})

	detector := consensus.New(consensus.Config{
		Window:    time.Duration(doc.WindowMs) * time.Millisecond,
		Registry:  reg,
		Store:     store,
		Publisher: publisher,
	})

	coordinator := reinit.New(reinit.Config{
		Store:       store,
		Registry:    reg,
		Publisher:   publisher,
		Timeout:     cfg.Reinit.AutoCompleteTimeout,
		RecentCount: cfg.Reinit.RecentFlagCount,
	})
	if err := coordinator.Hydrate(ctx); err != nil {
		panic(err)
	}

	gateway := ingest.New(ingest.Config{
		Store:     store,
		Registry:  reg,
		Liveness:  tracker,
		Detector:  detector,
		Publisher: publisher,
	})

	hub := ws.NewHub()
	go hub.Run()

	relay := notify.NewRelay(notify.RelayConfig{
		Brokers:         cfg.Kafka.Brokers,
		ConsumerGroupID: "dashboard-relay",
		Topic:           cfg.Kafka.Topic,
		Hub:             hub,
	})

	wg := sync.WaitGroup{}
	wg.Go(func() {
		relay.Run(ctx)
	})

	apiHandler := api.New(api.Config{
		DB:        store,
		Gateway:   gateway,
		Reinit:    coordinator,
		Registry:  reg,
		Liveness:  tracker,
		Detector:  detector,
		Publisher: publisher,
		WS:        hub,
	})

	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: apiHandler.Router(),
	}

	go func() {
		slog.InfoContext(ctx, "HTTP server listening", "addr", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "HTTP server error", "error", err)
			cancel()
		}
	}()

	go func() {
		<-sigs
		cancel()
	}()

	<-ctx.Done()
	slog.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	wg.Wait()
	relay.Close(shutdownCtx)
	publisher.Close(shutdownCtx)
}
