package badgerstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whisper/chatroom/internal/chat"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func msg(id, from, to string, typ chat.MessageType) chat.Message {
	return chat.Message{ID: id, From: from, To: to, Text: "text " + id, Type: typ, Time: "10:00:00"}
}

func TestInsertParticipant_Conflict(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	alice := chat.Participant{Name: "Alice", LastStatus: 1000}
	req.NoError(s.InsertParticipant(ctx, alice, chat.StatusMessage("j1", "Alice", chat.JoinText, time.Now())))

	err := s.InsertParticipant(ctx, alice, chat.StatusMessage("j2", "Alice", chat.JoinText, time.Now()))
	req.ErrorIs(err, chat.ErrConflict)

	msgs, err := s.FindMessages(ctx)
	req.NoError(err)
	req.Len(msgs, 1, "a rejected registration must not leave an announcement behind")
	req.Equal("j1", msgs[0].ID)

	got, err := s.FindParticipant(ctx, "Alice")
	req.NoError(err)
	req.Equal(alice, got)
}

func TestInsertParticipant_ConcurrentSameName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.InsertParticipant(ctx,
				chat.Participant{Name: "Alice", LastStatus: int64(i)},
				chat.StatusMessage(fmt.Sprintf("j%d", i), "Alice", chat.JoinText, time.Now()))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, chat.ErrConflict)
	}
	require.Equal(t, 1, succeeded)

	msgs, err := s.FindMessages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestFindParticipant_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.FindParticipant(context.Background(), "nobody")
	require.ErrorIs(t, err, chat.ErrNotFound)
}

func TestTouchParticipant(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	req.ErrorIs(s.TouchParticipant(ctx, "ghost", 5), chat.ErrNotFound)

	req.NoError(s.InsertParticipant(ctx, chat.Participant{Name: "Bob", LastStatus: 1}, msg("j", "Bob", chat.Broadcast, chat.TypeStatus)))
	req.NoError(s.TouchParticipant(ctx, "Bob", 99))

	got, err := s.FindParticipant(ctx, "Bob")
	req.NoError(err)
	req.Equal(int64(99), got.LastStatus)
}

func TestMessagesKeepInsertionOrder(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	var want []string
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("m%02d", i)
		req.NoError(s.InsertMessage(ctx, msg(id, "Alice", chat.Broadcast, chat.TypeMessage)))
		want = append(want, id)
	}

	msgs, err := s.FindMessages(ctx)
	req.NoError(err)
	got := make([]string, 0, len(msgs))
	for _, m := range msgs {
		got = append(got, m.ID)
	}
	req.Equal(want, got)
}

func TestInsertMessage_ConcurrentAppendsAllListed(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	const n = 200
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.InsertMessage(ctx, msg(fmt.Sprintf("c%03d", i), "Alice", chat.Broadcast, chat.TypeMessage))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	msgs, err := s.FindMessages(ctx)
	req.NoError(err)
	req.Len(msgs, n)
	seen := make(map[string]bool, n)
	for _, m := range msgs {
		seen[m.ID] = true
	}
	req.Len(seen, n)
}

func TestUpdateMessage(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	original := msg("m1", "Alice", chat.Broadcast, chat.TypeMessage)
	req.NoError(s.InsertMessage(ctx, original))

	body := chat.MessageBody{To: "Bob", Text: "edited", Type: chat.TypePrivate}
	req.ErrorIs(s.UpdateMessage(ctx, "missing", "Alice", body), chat.ErrNotFound)
	req.ErrorIs(s.UpdateMessage(ctx, "m1", "Mallory", body), chat.ErrUnauthorized)

	got, err := s.FindMessage(ctx, "m1")
	req.NoError(err)
	req.Equal(original, got)

	req.NoError(s.UpdateMessage(ctx, "m1", "Alice", body))
	got, err = s.FindMessage(ctx, "m1")
	req.NoError(err)
	req.Equal(chat.Message{ID: "m1", From: "Alice", To: "Bob", Text: "edited", Type: chat.TypePrivate, Time: original.Time}, got)
}

func TestDeleteMessage(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	req.NoError(s.InsertMessage(ctx, msg("m1", "Alice", chat.Broadcast, chat.TypeMessage)))
	req.NoError(s.InsertMessage(ctx, msg("m2", "Bob", chat.Broadcast, chat.TypeMessage)))

	req.ErrorIs(s.DeleteMessage(ctx, "m1", "Bob"), chat.ErrUnauthorized)
	req.NoError(s.DeleteMessage(ctx, "m1", "Alice"))
	req.ErrorIs(s.DeleteMessage(ctx, "m1", "Alice"), chat.ErrNotFound)

	_, err := s.FindMessage(ctx, "m1")
	req.ErrorIs(err, chat.ErrNotFound)

	msgs, err := s.FindMessages(ctx)
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal("m2", msgs[0].ID)
}

func TestEvictParticipants_RespectsCutoff(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	req.NoError(s.InsertParticipant(ctx, chat.Participant{Name: "Stale", LastStatus: 100}, msg("j1", "Stale", chat.Broadcast, chat.TypeStatus)))
	req.NoError(s.InsertParticipant(ctx, chat.Participant{Name: "Fresh", LastStatus: 100}, msg("j2", "Fresh", chat.Broadcast, chat.TypeStatus)))

	// Fresh heartbeats after the reaper took its snapshot.
	req.NoError(s.TouchParticipant(ctx, "Fresh", 500))

	notice := func(name string) chat.Message {
		return chat.StatusMessage("left-"+name, name, chat.LeaveText, time.Now())
	}
	removed, err := s.EvictParticipants(ctx, []string{"Stale", "Fresh", "Gone"}, 200, notice)
	req.NoError(err)
	req.Equal([]string{"Stale"}, removed)

	participants, err := s.FindParticipants(ctx)
	req.NoError(err)
	req.Equal([]chat.Participant{{Name: "Fresh", LastStatus: 500}}, participants)

	msgs, err := s.FindMessages(ctx)
	req.NoError(err)
	req.Len(msgs, 3)
	req.Equal("left-Stale", msgs[2].ID)
	req.Equal(chat.LeaveText, msgs[2].Text)
}

func TestReopenPreservesOrder(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir, slog.Default())
	req.NoError(err)
	req.NoError(s.InsertMessage(ctx, msg("a", "Alice", chat.Broadcast, chat.TypeMessage)))
	req.NoError(s.Close())

	s, err = Open(dir, slog.Default())
	req.NoError(err)
	defer s.Close()
	req.NoError(s.InsertMessage(ctx, msg("b", "Alice", chat.Broadcast, chat.TypeMessage)))

	msgs, err := s.FindMessages(ctx)
	req.NoError(err)
	req.Len(msgs, 2)
	req.Equal("a", msgs[0].ID)
	req.Equal("b", msgs[1].ID)
}
