package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/messaging"
)

type watchConfig struct {
	NATSURL  string     `env:"NATS_URL"  envDefault:"nats://localhost:4222"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	_ = godotenv.Load()
	cfg, err := env.ParseAs[watchConfig]()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatwatch: parse env: %v\n", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "chatwatch"

	natsClient, err := messaging.NewNATSClient(natsConfig, log)
	if err != nil {
		log.Error("failed to connect to NATS", "url", cfg.NATSURL, "err", err)
		os.Exit(1)
	}

	err = natsClient.SubscribeEvents(func(ev chat.Event) {
		attrs := []any{"participant", ev.Participant, "ts", ev.Ts}
		if ev.MessageID != "" {
			attrs = append(attrs, "message_id", ev.MessageID, "type", ev.MessageType)
		}
		log.Info(string(ev.Kind), attrs...)
	})
	if err != nil {
		log.Error("failed to subscribe to room events", "err", err)
		os.Exit(1)
	}

	log.Info("watching room events", "subject", messaging.SubjectAllEvents, "url", cfg.NATSURL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	natsClient.Close()
}
