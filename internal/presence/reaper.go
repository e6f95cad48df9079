package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/metrics"
)

// ReaperConfig holds the eviction schedule.
type ReaperConfig struct {
	Interval     time.Duration // time between sweeps
	Timeout      time.Duration // heartbeat age after which a participant is evicted
	CycleTimeout time.Duration // deadline for the storage calls of one sweep
}

// DefaultReaperConfig returns the standard schedule: sweep every second,
// evict after ten seconds of silence.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Interval:     1 * time.Second,
		Timeout:      10 * time.Second,
		CycleTimeout: 5 * time.Second,
	}
}

// Reaper evicts participants that stopped sending heartbeats.
type Reaper struct {
	store  chat.Store
	events chat.EventSink
	cfg    ReaperConfig
	log    *slog.Logger
	now    func() time.Time
}

// NewReaper creates a Reaper over store. A nil events sink discards.
func NewReaper(store chat.Store, events chat.EventSink, cfg ReaperConfig, log *slog.Logger) *Reaper {
	if events == nil {
		events = chat.Discard
	}
	return &Reaper{
		store:  store,
		events: events,
		cfg:    cfg,
		log:    log.With("component", "reaper"),
		now:    time.Now,
	}
}

// Run sweeps on every tick until ctx is cancelled. A failed sweep is logged
// and retried on the next tick.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.Info("reaper started", "interval", r.cfg.Interval, "timeout", r.cfg.Timeout)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped")
			return
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

func (r *Reaper) cycle(ctx context.Context) {
	if r.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.CycleTimeout)
		defer cancel()
	}

	start := time.Now()
	removed, err := r.Sweep(ctx)
	metrics.ReaperCycleDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ReaperErrorsTotal.Inc()
		r.log.Error("sweep failed", "err", err)
		return
	}
	if len(removed) > 0 {
		r.log.Info("evicted inactive participants", "evicted", removed)
	}
}

// Sweep performs one eviction pass and returns the names it removed. A
// participant is stale when now - lastStatus > Timeout. The store re-checks
// staleness when deleting, so a heartbeat that arrives after the snapshot
// keeps the participant in the room.
func (r *Reaper) Sweep(ctx context.Context) ([]string, error) {
	participants, err := r.store.FindParticipants(ctx)
	if err != nil {
		return nil, chat.StoreError(err)
	}

	now := r.now()
	cutoff := now.Add(-r.cfg.Timeout).UnixMilli()
	stale, fresh := lo.FilterReject(participants, func(p chat.Participant, _ int) bool {
		return p.LastStatus < cutoff
	})
	if len(stale) == 0 {
		metrics.Participants.Set(float64(len(fresh)))
		return nil, nil
	}

	names := lo.Map(stale, func(p chat.Participant, _ int) string { return p.Name })
	notices := make(map[string]string, len(names))
	removed, err := r.store.EvictParticipants(ctx, names, cutoff, func(name string) chat.Message {
		m := chat.StatusMessage(uuid.NewString(), name, chat.LeaveText, now)
		notices[name] = m.ID
		return m
	})
	if err != nil {
		return nil, chat.StoreError(err)
	}

	metrics.Participants.Set(float64(len(participants) - len(removed)))
	metrics.EvictionsTotal.Add(float64(len(removed)))
	metrics.MessagesTotal.WithLabelValues(string(chat.TypeStatus)).Add(float64(len(removed)))

	for _, name := range removed {
		r.events.Emit(ctx, chat.Event{
			Kind:        chat.EventLeft,
			Participant: name,
			MessageID:   notices[name],
			MessageType: chat.TypeStatus,
			Ts:          now.UnixMilli(),
		})
	}
	return removed, nil
}
