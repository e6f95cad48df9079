package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/chat/mocks"
	"github.com/whisper/chatroom/internal/metrics"
	"github.com/whisper/chatroom/internal/store/badgerstore"
)

type recorder struct {
	mu     sync.Mutex
	events []chat.Event
}

func (r *recorder) Emit(_ context.Context, ev chat.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []chat.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]chat.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store    *badgerstore.Store
	registry *Registry
	reaper   *Reaper
	events   *recorder
	clock    *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := badgerstore.Open(t.TempDir(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	events := &recorder{}
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}

	registry := NewRegistry(store, chat.PolicyAlphanum, events, slog.Default())
	registry.now = clk.Now

	reaper := NewReaper(store, events, DefaultReaperConfig(), slog.Default())
	reaper.now = clk.Now

	return &fixture{store: store, registry: registry, reaper: reaper, events: events, clock: clk}
}

func statusMessages(t *testing.T, s chat.Store, text string) []chat.Message {
	t.Helper()
	msgs, err := s.FindMessages(context.Background())
	require.NoError(t, err)
	var out []chat.Message
	for _, m := range msgs {
		if m.Type == chat.TypeStatus && m.Text == text {
			out = append(out, m)
		}
	}
	return out
}

func TestRegister(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.registry.Register(ctx, "Alice")
	req.NoError(err)
	req.Equal("Alice", p.Name)
	req.Equal(f.clock.Now().UnixMilli(), p.LastStatus)

	joins := statusMessages(t, f.store, chat.JoinText)
	req.Len(joins, 1)
	req.Equal("Alice", joins[0].From)
	req.Equal(chat.Broadcast, joins[0].To)
	req.Equal("12:00:00", joins[0].Time)

	req.Equal([]chat.EventKind{chat.EventJoined}, f.events.kinds())
}

func TestRegister_Conflict(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.Register(ctx, "Alice")
	req.NoError(err)

	before := testutil.ToFloat64(metrics.RegistrationsTotal.WithLabelValues("conflict"))
	_, err = f.registry.Register(ctx, "Alice")
	req.ErrorIs(err, chat.ErrConflict)
	req.Equal(before+1, testutil.ToFloat64(metrics.RegistrationsTotal.WithLabelValues("conflict")))

	req.Len(statusMessages(t, f.store, chat.JoinText), 1)
}

func TestRegister_CaseSensitive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.Register(ctx, "alice")
	require.NoError(t, err)
	_, err = f.registry.Register(ctx, "Alice")
	require.NoError(t, err)
}

func TestRegister_Invalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"", "Al ice", "bob!"} {
		_, err := f.registry.Register(ctx, name)
		require.ErrorIs(t, err, chat.ErrValidation, "name %q", name)
	}

	participants, err := f.registry.List(ctx)
	require.NoError(t, err)
	require.Empty(t, participants)
	require.Empty(t, statusMessages(t, f.store, chat.JoinText))
}

func TestRegister_StoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().
		InsertParticipant(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("connection reset"))

	events := &recorder{}
	registry := NewRegistry(store, chat.PolicyAlphanum, events, slog.Default())

	_, err := registry.Register(context.Background(), "Alice")
	require.ErrorIs(t, err, chat.ErrValidation)
	require.ErrorIs(t, err, chat.ErrStore)
	require.Empty(t, events.kinds())
}

func TestHeartbeat(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	req.ErrorIs(f.registry.Heartbeat(ctx, "Ghost"), chat.ErrNotFound)
	req.ErrorIs(f.registry.Heartbeat(ctx, ""), chat.ErrNotFound)

	participants, err := f.registry.List(ctx)
	req.NoError(err)
	req.Empty(participants, "heartbeat must not create participants")

	_, err = f.registry.Register(ctx, "Alice")
	req.NoError(err)
	f.clock.Advance(3 * time.Second)
	req.NoError(f.registry.Heartbeat(ctx, "Alice"))

	p, err := f.store.FindParticipant(ctx, "Alice")
	req.NoError(err)
	req.Equal(f.clock.Now().UnixMilli(), p.LastStatus)
}

func TestSweep_EvictsStaleParticipants(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.Register(ctx, "Alice")
	req.NoError(err)
	_, err = f.registry.Register(ctx, "Bob")
	req.NoError(err)

	f.clock.Advance(5 * time.Second)
	req.NoError(f.registry.Heartbeat(ctx, "Bob"))
	f.clock.Advance(6 * time.Second)

	removed, err := f.reaper.Sweep(ctx)
	req.NoError(err)
	req.Equal([]string{"Alice"}, removed)

	participants, err := f.registry.List(ctx)
	req.NoError(err)
	req.Len(participants, 1)
	req.Equal("Bob", participants[0].Name)

	leaves := statusMessages(t, f.store, chat.LeaveText)
	req.Len(leaves, 1)
	req.Equal("Alice", leaves[0].From)
	req.Equal(chat.Broadcast, leaves[0].To)

	for _, viewer := range []string{"Alice", "Bob", "Carol"} {
		visible := chat.VisibleTo(viewer, mustMessages(t, f.store), 0)
		req.Contains(visible, leaves[0], "viewer %s", viewer)
	}

	removed, err = f.reaper.Sweep(ctx)
	req.NoError(err)
	req.Empty(removed)
	req.Len(statusMessages(t, f.store, chat.LeaveText), 1, "a second sweep must not announce again")

	req.Equal([]chat.EventKind{chat.EventJoined, chat.EventJoined, chat.EventLeft}, f.events.kinds())
}

func TestSweep_TimeoutBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.Register(ctx, "Alice")
	require.NoError(t, err)

	f.clock.Advance(10 * time.Second)
	removed, err := f.reaper.Sweep(ctx)
	require.NoError(t, err)
	require.Empty(t, removed, "age equal to the timeout is not stale")

	f.clock.Advance(time.Millisecond)
	removed, err = f.reaper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Alice"}, removed)
}

func TestSweep_EmptyRoom(t *testing.T) {
	f := newFixture(t)
	removed, err := f.reaper.Sweep(context.Background())
	require.NoError(t, err)
	require.Empty(t, removed)
	require.Empty(t, mustMessages(t, f.store))
}

func TestSweep_StoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().FindParticipants(gomock.Any()).Return(nil, errors.New("timeout"))

	reaper := NewReaper(store, nil, DefaultReaperConfig(), slog.Default())
	_, err := reaper.Sweep(context.Background())
	require.ErrorIs(t, err, chat.ErrStore)
}

func TestSweep_EvictionRechecksCutoff(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	stale := chat.Participant{Name: "Alice", LastStatus: now.Add(-time.Minute).UnixMilli()}
	fresh := chat.Participant{Name: "Bob", LastStatus: now.UnixMilli()}

	store.EXPECT().FindParticipants(gomock.Any()).Return([]chat.Participant{stale, fresh}, nil)
	store.EXPECT().
		EvictParticipants(gomock.Any(), []string{"Alice"}, now.Add(-10*time.Second).UnixMilli(), gomock.Any()).
		Return(nil, nil) // Alice heartbeated before the delete

	events := &recorder{}
	reaper := NewReaper(store, events, DefaultReaperConfig(), slog.Default())
	reaper.now = func() time.Time { return now }

	removed, err := reaper.Sweep(context.Background())
	require.NoError(t, err)
	require.Empty(t, removed)
	require.Empty(t, events.kinds())
}

func TestRun_EvictsUntilCancelled(t *testing.T) {
	f := newFixture(t)
	f.reaper.cfg.Interval = 5 * time.Millisecond

	_, err := f.registry.Register(context.Background(), "Alice")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.reaper.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		participants, err := f.store.FindParticipants(context.Background())
		return err == nil && len(participants) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop after cancellation")
	}
	require.Len(t, statusMessages(t, f.store, chat.LeaveText), 1)
}

func mustMessages(t *testing.T, s chat.Store) []chat.Message {
	t.Helper()
	msgs, err := s.FindMessages(context.Background())
	require.NoError(t, err)
	return msgs
}
