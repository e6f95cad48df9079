// Package messages implements the room's message log operations: posting,
// per-viewer listing, and author-only edit and delete.
package messages

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/metrics"
)

// Service posts, lists and mutates messages on behalf of participants.
type Service struct {
	store  chat.Store
	policy chat.NamePolicy
	events chat.EventSink
	log    *slog.Logger
	now    func() time.Time
}

// NewService creates a Service over store. A nil events sink discards.
func NewService(store chat.Store, policy chat.NamePolicy, events chat.EventSink, log *slog.Logger) *Service {
	if events == nil {
		events = chat.Discard
	}
	return &Service{
		store:  store,
		policy: policy,
		events: events,
		log:    log.With("component", "messages"),
		now:    time.Now,
	}
}

// Post stores body as a message from author and returns its id. The author
// must be a present participant.
func (s *Service) Post(ctx context.Context, author string, body chat.MessageBody) (string, error) {
	if author == "" {
		return "", chat.ErrUnauthorized
	}
	if _, err := s.store.FindParticipant(ctx, author); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return "", chat.ErrUnauthorized
		}
		s.log.Error("author lookup failed", "participant", author, "err", err)
		return "", chat.StoreError(err)
	}
	if err := s.policy.ValidateBody(body); err != nil {
		return "", err
	}

	now := s.now()
	msg := chat.Message{
		ID:   uuid.NewString(),
		From: author,
		To:   body.To,
		Text: body.Text,
		Type: body.Type,
		Time: now.Format(chat.TimeLayout),
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		s.log.Error("insert message failed", "participant", author, "err", err)
		return "", chat.StoreError(err)
	}

	metrics.MessagesTotal.WithLabelValues(string(msg.Type)).Inc()
	s.log.Debug("message posted", "participant", author, "message_id", msg.ID, "type", msg.Type)
	s.events.Emit(ctx, chat.Event{
		Kind:        chat.EventPosted,
		Participant: author,
		MessageID:   msg.ID,
		MessageType: msg.Type,
		Ts:          now.UnixMilli(),
	})
	return msg.ID, nil
}

// ListFor returns, in insertion order, the messages viewer may read. When
// limit > 0 only the last limit of them are returned.
func (s *Service) ListFor(ctx context.Context, viewer string, limit int) ([]chat.Message, error) {
	msgs, err := s.store.FindMessages(ctx)
	if err != nil {
		s.log.Error("list messages failed", "participant", viewer, "err", err)
		return nil, chat.StoreError(err)
	}
	return chat.VisibleTo(viewer, msgs, limit), nil
}

// Edit replaces the recipient, text and type of message id. Checks run in
// order: the message must exist, actor must be its author, and the new body
// must be valid.
func (s *Service) Edit(ctx context.Context, actor, id string, body chat.MessageBody) error {
	msg, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	if err := authorize(actor, msg); err != nil {
		return err
	}
	if err := s.policy.ValidateBody(body); err != nil {
		return err
	}
	if err := s.store.UpdateMessage(ctx, id, actor, body); err != nil {
		if !errors.Is(err, chat.ErrNotFound) && !errors.Is(err, chat.ErrUnauthorized) {
			s.log.Error("update message failed", "message_id", id, "err", err)
		}
		return chat.StoreError(err)
	}

	s.events.Emit(ctx, chat.Event{
		Kind:        chat.EventEdited,
		Participant: actor,
		MessageID:   id,
		MessageType: body.Type,
		Ts:          s.now().UnixMilli(),
	})
	return nil
}

// Delete removes message id if actor is its author.
func (s *Service) Delete(ctx context.Context, actor, id string) error {
	msg, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	if err := authorize(actor, msg); err != nil {
		return err
	}
	if err := s.store.DeleteMessage(ctx, id, actor); err != nil {
		if !errors.Is(err, chat.ErrNotFound) && !errors.Is(err, chat.ErrUnauthorized) {
			s.log.Error("delete message failed", "message_id", id, "err", err)
		}
		return chat.StoreError(err)
	}

	s.events.Emit(ctx, chat.Event{
		Kind:        chat.EventDeleted,
		Participant: actor,
		MessageID:   id,
		MessageType: msg.Type,
		Ts:          s.now().UnixMilli(),
	})
	return nil
}

func (s *Service) lookup(ctx context.Context, id string) (chat.Message, error) {
	if id == "" {
		return chat.Message{}, chat.ErrNotFound
	}
	msg, err := s.store.FindMessage(ctx, id)
	if err != nil && !errors.Is(err, chat.ErrNotFound) {
		s.log.Error("find message failed", "message_id", id, "err", err)
	}
	return msg, chat.StoreError(err)
}

// authorize allows a mutation only by the message's author. The store
// repeats the check atomically with the write.
func authorize(actor string, msg chat.Message) error {
	if actor == "" || actor != msg.From {
		return chat.ErrUnauthorized
	}
	return nil
}
