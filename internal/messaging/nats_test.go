package messaging

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/whisper/chatroom/internal/chat"
)

func TestEventSubject(t *testing.T) {
	tests := []struct {
		kind chat.EventKind
		want string
	}{
		{chat.EventJoined, "chat.events.joined"},
		{chat.EventLeft, "chat.events.left"},
		{chat.EventPosted, "chat.events.posted"},
		{chat.EventEdited, "chat.events.edited"},
		{chat.EventDeleted, "chat.events.deleted"},
	}
	for _, tt := range tests {
		if got := EventSubject(tt.kind); got != tt.want {
			t.Errorf("EventSubject(%s) = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

// newTestClient connects to a local NATS server. Tests are skipped if NATS
// is unavailable.
func newTestClient(t *testing.T) *NATSClient {
	t.Helper()

	cfg := DefaultNATSConfig()
	cfg.MaxReconnects = 0
	c, err := NewNATSClient(cfg, slog.Default())
	if err != nil {
		t.Skipf("skipping: NATS not available at %s: %v", nats.DefaultURL, err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestEmitAndSubscribeEvents(t *testing.T) {
	c := newTestClient(t)

	got := make(chan chat.Event, 1)
	if err := c.SubscribeEvents(func(ev chat.Event) { got <- ev }); err != nil {
		t.Fatalf("SubscribeEvents() error: %v", err)
	}
	if err := c.Flush(time.Second); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	sent := chat.Event{Kind: chat.EventPosted, Participant: "Alice", MessageID: "m1", MessageType: chat.TypePrivate, Ts: 42}
	c.Emit(context.Background(), sent)

	select {
	case ev := <-got:
		if ev != sent {
			t.Errorf("expected %+v, got %+v", sent, ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribe_Unknown(t *testing.T) {
	c := newTestClient(t)
	if err := c.Unsubscribe("chat.events.nothing"); err == nil {
		t.Fatal("expected error for unknown subscription")
	}
}
