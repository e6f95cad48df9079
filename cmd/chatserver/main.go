package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/whisper/chatroom/internal/api"
	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/config"
	"github.com/whisper/chatroom/internal/messages"
	"github.com/whisper/chatroom/internal/messaging"
	"github.com/whisper/chatroom/internal/presence"
	"github.com/whisper/chatroom/internal/store/badgerstore"
	"github.com/whisper/chatroom/internal/store/postgres"
	"github.com/whisper/chatroom/internal/store/redisstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatserver: %v\n", err)
		os.Exit(1)
	}
	log := cfg.Logger(os.Stderr)

	if err := run(cfg, log); err != nil {
		log.Error("chatserver exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Store ---
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("store close", "err", err)
		}
	}()

	// --- NATS (optional) ---
	var events chat.EventSink = chat.Discard
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "chatserver"
		natsClient, err := messaging.NewNATSClient(natsConfig, log)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer natsClient.Close()
		events = natsClient
	}

	registry := presence.NewRegistry(store, cfg.NamePolicy, events, log)
	service := messages.NewService(store, cfg.NamePolicy, events, log)

	// --- Reaper ---
	reaperConfig := presence.DefaultReaperConfig()
	reaperConfig.Interval = cfg.ReaperInterval
	reaperConfig.Timeout = cfg.ParticipantTimeout
	reaperConfig.CycleTimeout = cfg.StoreTimeout
	reaper := presence.NewReaper(store, events, reaperConfig, log)

	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		reaper.Run(ctx)
	}()

	// --- HTTP ---
	serverConfig := api.DefaultServerConfig()
	serverConfig.ListenAddr = cfg.ListenAddr
	serverConfig.ReadTimeout = cfg.ReadTimeout
	serverConfig.WriteTimeout = cfg.WriteTimeout
	serverConfig.CORSOrigins = cfg.CORSOrigins

	handler := api.NewHandler(registry, service, cfg.StoreTimeout, log)
	server := api.NewServer(serverConfig, handler, log)

	log.Info("chat server starting",
		"listen_addr", cfg.ListenAddr,
		"store_backend", cfg.StoreBackend,
		"name_policy", cfg.NamePolicy,
		"reaper_interval", cfg.ReaperInterval,
		"participant_timeout", cfg.ParticipantTimeout,
		"events", cfg.NATSURL != "",
	)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	select {
	case err = <-serveErr:
		stop()
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err = server.Shutdown(shutdownCtx)
	}

	<-reaperDone
	return err
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (chat.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		s, err := postgres.Open(openCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Info("store ready", "backend", "postgres")
		return s, nil
	case config.BackendRedis:
		s, err := redisstore.Open(redisstore.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err != nil {
			return nil, err
		}
		log.Info("store ready", "backend", "redis", "addr", cfg.RedisAddr)
		return s, nil
	default:
		s, err := badgerstore.Open(cfg.BadgerPath, log)
		if err != nil {
			return nil, err
		}
		log.Info("store ready", "backend", "badger", "path", cfg.BadgerPath)
		return s, nil
	}
}
