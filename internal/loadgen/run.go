package loadgen

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whisper/chatroom/internal/chat"
)

// Config describes one load run.
type Config struct {
	BaseURL           string        // chat server, e.g. "http://localhost:5000"
	Participants      int           // simulated participants
	Duration          time.Duration // how long each participant stays active
	RampUp            time.Duration // spread of participant start times
	PostInterval      time.Duration // time between messages per participant
	HeartbeatInterval time.Duration // must stay below the server's participant timeout
	ListLimit         int           // limit used when polling the log
	PrivateRatio      float64       // share of messages sent privately to a peer
	MessageSize       int           // text length in characters
}

// DefaultConfig returns a moderate run against a local server.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "http://localhost:5000",
		Participants:      50,
		Duration:          30 * time.Second,
		RampUp:            5 * time.Second,
		PostInterval:      2 * time.Second,
		HeartbeatInterval: 3 * time.Second,
		ListLimit:         100,
		PrivateRatio:      0.2,
		MessageSize:       64,
	}
}

// Run simulates cfg.Participants participants until cfg.Duration elapses or
// ctx is cancelled, recording every request in collector. Each participant
// registers, then heartbeats, posts and polls on its own schedule.
func Run(ctx context.Context, cfg Config, collector *Collector) error {
	if cfg.Participants <= 0 {
		return fmt.Errorf("loadgen: participants must be positive")
	}
	if cfg.HeartbeatInterval <= 0 || cfg.PostInterval <= 0 {
		return fmt.Errorf("loadgen: heartbeat and post intervals must be positive")
	}

	hc := &http.Client{Timeout: 10 * time.Second}
	runID := uuid.NewString()[:8]
	names := make([]string, cfg.Participants)
	for i := range names {
		names[i] = fmt.Sprintf("load%s%d", runID, i)
	}

	interval := cfg.RampUp / time.Duration(cfg.Participants)

	var wg sync.WaitGroup
	for i, name := range names {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				wg.Wait()
				return ctx.Err()
			case <-time.After(interval):
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			simulate(ctx, cfg, NewClient(cfg.BaseURL, name, hc), names, collector)
		}()
	}
	wg.Wait()
	return nil
}

func simulate(ctx context.Context, cfg Config, c *Client, peers []string, collector *Collector) {
	start := time.Now()
	err := c.Register(ctx)
	collector.Record(OpRegister, time.Since(start), err)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	heartbeat := time.NewTicker(cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	post := time.NewTicker(cfg.PostInterval)
	defer post.Stop()

	text := strings.Repeat("x", max(cfg.MessageSize, 1))
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			start := time.Now()
			err := c.Heartbeat(ctx)
			if ctx.Err() == nil {
				collector.Record(OpHeartbeat, time.Since(start), err)
			}
		case <-post.C:
			body := chat.MessageBody{To: chat.Broadcast, Text: text, Type: chat.TypeMessage}
			if rand.Float64() < cfg.PrivateRatio {
				body.To = peers[rand.IntN(len(peers))]
				body.Type = chat.TypePrivate
			}
			start := time.Now()
			err := c.Post(ctx, body)
			if ctx.Err() == nil {
				collector.Record(OpPost, time.Since(start), err)
			}

			start = time.Now()
			_, err = c.List(ctx, cfg.ListLimit)
			if ctx.Err() == nil {
				collector.Record(OpList, time.Since(start), err)
			}
		}
	}
}
