// Command chatload simulates many participants against a running chat server
// and prints latency percentiles per operation.
//
// Usage:
//
//	chatload [-url http://localhost:5000] [-participants 50] [-duration 30s]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/whisper/chatroom/internal/loadgen"
)

func main() {
	cfg := loadgen.DefaultConfig()

	fs := flag.NewFlagSet("chatload", flag.ExitOnError)
	fs.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "Chat server base URL")
	fs.IntVar(&cfg.Participants, "participants", cfg.Participants, "Number of simulated participants")
	fs.DurationVar(&cfg.Duration, "duration", cfg.Duration, "How long each participant stays active")
	fs.DurationVar(&cfg.RampUp, "ramp", cfg.RampUp, "Ramp-up duration for participant start")
	fs.DurationVar(&cfg.PostInterval, "post-interval", cfg.PostInterval, "Interval between messages per participant")
	fs.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "Interval between heartbeats per participant")
	fs.IntVar(&cfg.ListLimit, "limit", cfg.ListLimit, "Limit used when polling messages")
	fs.Float64Var(&cfg.PrivateRatio, "private-ratio", cfg.PrivateRatio, "Share of private messages")
	fs.IntVar(&cfg.MessageSize, "msg-size", cfg.MessageSize, "Message text length in characters")
	_ = fs.Parse(os.Args[1:])

	fmt.Printf("Chat load: %d participants against %s (duration=%s, ramp=%s, post=%s, heartbeat=%s)\n",
		cfg.Participants, cfg.BaseURL, cfg.Duration, cfg.RampUp, cfg.PostInterval, cfg.HeartbeatInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := loadgen.NewCollector()

	progressDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Printf("  registered: %d  posts: %d  errors: %d\n",
					collector.Count(loadgen.OpRegister), collector.Count(loadgen.OpPost), collector.ErrorCount())
			case <-progressDone:
				return
			}
		}
	}()

	err := loadgen.Run(ctx, cfg, collector)
	close(progressDone)
	collector.Report(os.Stdout)

	if err != nil {
		fmt.Fprintf(os.Stderr, "chatload: %v\n", err)
		os.Exit(1)
	}
}
