// Package presence tracks who is in the room. The Registry admits
// participants under unique names and records their heartbeats; the Reaper
// periodically evicts participants whose last heartbeat is older than the
// configured timeout and announces each departure.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/metrics"
)

// Registry admits participants and records their liveness.
type Registry struct {
	store  chat.Store
	policy chat.NamePolicy
	events chat.EventSink
	log    *slog.Logger
	now    func() time.Time
}

// NewRegistry creates a Registry over store. A nil events sink discards.
func NewRegistry(store chat.Store, policy chat.NamePolicy, events chat.EventSink, log *slog.Logger) *Registry {
	if events == nil {
		events = chat.Discard
	}
	return &Registry{
		store:  store,
		policy: policy,
		events: events,
		log:    log.With("component", "registry"),
		now:    time.Now,
	}
}

// Register admits name and announces the arrival in the same storage unit.
// It fails with chat.ErrValidation for a name the policy rejects and with
// chat.ErrConflict when the name is already present. Any other storage
// failure is reported as a validation failure that also matches
// chat.ErrStore.
func (r *Registry) Register(ctx context.Context, name string) (chat.Participant, error) {
	if err := r.policy.ValidateName(name); err != nil {
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		return chat.Participant{}, err
	}

	now := r.now()
	p := chat.Participant{Name: name, LastStatus: now.UnixMilli()}
	announce := chat.StatusMessage(uuid.NewString(), name, chat.JoinText, now)

	err := r.store.InsertParticipant(ctx, p, announce)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrConflict):
		metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
		return chat.Participant{}, chat.ErrConflict
	default:
		metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		r.log.Error("register failed", "participant", name, "err", err)
		return chat.Participant{}, fmt.Errorf("%w: %w", chat.ErrValidation, chat.StoreError(err))
	}

	metrics.RegistrationsTotal.WithLabelValues("ok").Inc()
	metrics.MessagesTotal.WithLabelValues(string(chat.TypeStatus)).Inc()
	metrics.Participants.Inc()
	r.log.Info("participant joined", "participant", name)

	r.events.Emit(ctx, chat.Event{
		Kind:        chat.EventJoined,
		Participant: name,
		MessageID:   announce.ID,
		MessageType: chat.TypeStatus,
		Ts:          p.LastStatus,
	})
	return p, nil
}

// List returns every present participant.
func (r *Registry) List(ctx context.Context) ([]chat.Participant, error) {
	participants, err := r.store.FindParticipants(ctx)
	if err != nil {
		r.log.Error("list participants failed", "err", err)
		return nil, chat.StoreError(err)
	}
	return participants, nil
}

// Heartbeat refreshes name's lastStatus. It never creates a participant:
// an unknown name fails with chat.ErrNotFound.
func (r *Registry) Heartbeat(ctx context.Context, name string) error {
	if name == "" {
		return chat.ErrNotFound
	}
	err := r.store.TouchParticipant(ctx, name, r.now().UnixMilli())
	if err != nil && !errors.Is(err, chat.ErrNotFound) {
		r.log.Error("heartbeat failed", "participant", name, "err", err)
	}
	return chat.StoreError(err)
}
