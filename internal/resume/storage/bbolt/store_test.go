package bbolt

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/gammon.space/internal/resume/domain"
	"github.com/louisbranch/gammon.space/internal/resume/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "resume.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSessionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	expires := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	session := domain.Session{
		ID:             "sid-1",
		GameID:         "g1",
		UserID:         "u1",
		CredentialHash: "hash-1",
		LastAckSeq:     2,
		IssuedAt:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		ExpiresAt:      &expires,
		Metadata:       map[string]string{"client": "web"},
	}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	got, err := store.GetSession(ctx, "sid-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.GameID != "g1" || got.LastAckSeq != 2 {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
		t.Fatalf("expected expiry %v, got %v", expires, got.ExpiresAt)
	}
	if got.Metadata["client"] != "web" {
		t.Fatal("expected metadata round-trip")
	}

	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateSessionAckIsMonotonic(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.CreateSession(ctx, domain.Session{ID: "sid-1", GameID: "g1", UserID: "u1"}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	ack := func(seq uint64) domain.Session {
		t.Helper()
		updated, err := store.UpdateSession(ctx, "sid-1", storage.SessionPatch{LastAckSeq: &seq})
		if err != nil {
			t.Fatalf("update session: %v", err)
		}
		return updated
	}

	if got := ack(4); got.LastAckSeq != 4 {
		t.Fatalf("expected ack 4, got %d", got.LastAckSeq)
	}
	if got := ack(1); got.LastAckSeq != 4 {
		t.Fatalf("expected ack to remain 4, got %d", got.LastAckSeq)
	}
}

func TestDeleteSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.CreateSession(ctx, domain.Session{ID: "sid-1", GameID: "g1", UserID: "u1"}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := store.DeleteSession(ctx, "sid-1"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if err := store.DeleteSession(ctx, "sid-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListSessionsFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	fresh := domain.Session{ID: "sid-a", GameID: "g1", UserID: "u1", IssuedAt: now.Add(-time.Minute)}
	stale := domain.Session{ID: "sid-b", GameID: "g1", UserID: "u2", IssuedAt: now.Add(-time.Hour)}
	other := domain.Session{ID: "sid-c", GameID: "g2", UserID: "u3", IssuedAt: now}
	for _, session := range []domain.Session{fresh, stale, other} {
		if err := store.CreateSession(ctx, session); err != nil {
			t.Fatalf("create session: %v", err)
		}
	}

	byGame, err := store.ListSessionsByGame(ctx, "g1")
	if err != nil {
		t.Fatalf("list by game: %v", err)
	}
	if len(byGame) != 2 || byGame[0].ID != "sid-a" || byGame[1].ID != "sid-b" {
		t.Fatalf("unexpected game sessions: %+v", byGame)
	}

	dead, err := store.ListExpiredSessions(ctx, now, 5*time.Minute)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != "sid-b" {
		t.Fatalf("unexpected dead sessions: %+v", dead)
	}
}

func TestAppendAndListEvents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		event, err := store.AppendEvent(ctx, "g1", "MOVE", []byte(`{"n":1}`))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if event.Seq != uint64(i) {
			t.Fatalf("expected seq %d, got %d", i, event.Seq)
		}
	}

	events, err := store.ListEvents(ctx, "g1", 1, 2)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 || events[0].Seq != 2 || events[1].Seq != 3 {
		t.Fatalf("expected seqs 2,3 got %+v", events)
	}

	if _, err := store.ListEvents(ctx, "g1", 0, 0); !errors.Is(err, domain.ErrInvalidLimit) {
		t.Fatalf("expected ErrInvalidLimit, got %v", err)
	}

	// Unknown game reads as empty.
	events, err = store.ListEvents(ctx, "missing", 0, 10)
	if err != nil {
		t.Fatalf("list unknown game: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}

	// A cursor at the maximum sequence has nothing after it.
	events, err = store.ListEvents(ctx, "g1", math.MaxUint64, 10)
	if err != nil {
		t.Fatalf("list at max cursor: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events past max cursor, got %+v", events)
	}
}

func TestEventCounterSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.bolt")
	ctx := context.Background()

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := store.AppendEvent(ctx, "g1", "MOVE", nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	event, err := reopened.AppendEvent(ctx, "g1", "MOVE", nil)
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if event.Seq != 3 {
		t.Fatalf("expected seq 3 after reopen, got %d", event.Seq)
	}
}

func TestPurgeEventsThroughIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := store.AppendEvent(ctx, "g1", "MOVE", nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	removed, err := store.PurgeEventsThrough(ctx, "g1", 2)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	removed, err = store.PurgeEventsThrough(ctx, "g1", 2)
	if err != nil {
		t.Fatalf("re-purge: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected idempotent purge, got %d", removed)
	}

	latest, err := store.LatestEventSeq(ctx, "g1")
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if latest != 4 {
		t.Fatalf("expected latest 4 after purge, got %d", latest)
	}

	event, err := store.AppendEvent(ctx, "g1", "MOVE", nil)
	if err != nil {
		t.Fatalf("append after purge: %v", err)
	}
	if event.Seq != 5 {
		t.Fatalf("expected seq 5 after purge, got %d", event.Seq)
	}
}
