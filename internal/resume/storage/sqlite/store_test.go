package sqlite

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
	store, err := Open(filepath.Join(t.TempDir(), "resume.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testSession(id, gameID string) domain.Session {
	return domain.Session{
		ID:             id,
		GameID:         gameID,
		UserID:         "u-" + id,
		CredentialHash: "hash-" + id,
		IssuedAt:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestSessionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	heartbeat := time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC)
	expires := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	session := testSession("sid-1", "g1")
	session.LastAckSeq = 4
	session.LastHeartbeatAt = &heartbeat
	session.ExpiresAt = &expires
	session.Metadata = map[string]string{"client": "web", "seat": "white"}

	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	got, err := store.GetSession(ctx, "sid-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.GameID != "g1" || got.UserID != "u-sid-1" || got.CredentialHash != "hash-sid-1" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.LastAckSeq != 4 {
		t.Fatalf("expected ack 4, got %d", got.LastAckSeq)
	}
	if got.LastHeartbeatAt == nil || !got.LastHeartbeatAt.Equal(heartbeat) {
		t.Fatalf("expected heartbeat %v, got %v", heartbeat, got.LastHeartbeatAt)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
		t.Fatalf("expected expiry %v, got %v", expires, got.ExpiresAt)
	}
	if got.Metadata["seat"] != "white" {
		t.Fatal("expected metadata round-trip")
	}

	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionNilOptionalsRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateSession(ctx, testSession("sid-1", "g1")); err != nil {
		t.Fatalf("create session: %v", err)
	}
	got, err := store.GetSession(ctx, "sid-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.LastHeartbeatAt != nil {
		t.Fatal("expected nil heartbeat")
	}
	if got.ExpiresAt != nil {
		t.Fatal("expected nil expiry")
	}
	if got.Metadata != nil {
		t.Fatalf("expected nil metadata, got %v", got.Metadata)
	}
}

func TestUpdateSessionAckIsMonotonic(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.CreateSession(ctx, testSession("sid-1", "g1")); err != nil {
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

	if got := ack(6); got.LastAckSeq != 6 {
		t.Fatalf("expected ack 6, got %d", got.LastAckSeq)
	}
	if got := ack(2); got.LastAckSeq != 6 {
		t.Fatalf("expected ack to remain 6, got %d", got.LastAckSeq)
	}
	if got := ack(9); got.LastAckSeq != 9 {
		t.Fatalf("expected ack 9, got %d", got.LastAckSeq)
	}

	seq := uint64(1)
	if _, err := store.UpdateSession(ctx, "missing", storage.SessionPatch{LastAckSeq: &seq}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.CreateSession(ctx, testSession("sid-1", "g1")); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := store.DeleteSession(ctx, "sid-1"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if err := store.DeleteSession(ctx, "sid-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListSessionsByGame(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"sid-b", "sid-a"} {
		if err := store.CreateSession(ctx, testSession(id, "g1")); err != nil {
			t.Fatalf("create session: %v", err)
		}
	}
	if err := store.CreateSession(ctx, testSession("sid-c", "g2")); err != nil {
		t.Fatalf("create session: %v", err)
	}

	sessions, err := store.ListSessionsByGame(ctx, "g1")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "sid-a" || sessions[1].ID != "sid-b" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
}

func TestListExpiredSessions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	fresh := testSession("sid-fresh", "g1")
	fresh.IssuedAt = now.Add(-time.Minute)

	staleHeartbeat := now.Add(-30 * time.Minute)
	stale := testSession("sid-stale", "g1")
	stale.IssuedAt = now.Add(-time.Hour)
	stale.LastHeartbeatAt = &staleHeartbeat

	hardExpiry := now.Add(-time.Second)
	expired := testSession("sid-expired", "g1")
	expired.IssuedAt = now.Add(-time.Minute)
	expired.ExpiresAt = &hardExpiry

	for _, session := range []domain.Session{fresh, stale, expired} {
		if err := store.CreateSession(ctx, session); err != nil {
			t.Fatalf("create session: %v", err)
		}
	}

	sessions, err := store.ListExpiredSessions(ctx, now, 5*time.Minute)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "sid-expired" || sessions[1].ID != "sid-stale" {
		t.Fatalf("unexpected dead sessions: %+v", sessions)
	}

	// Staleness disabled: only the hard expiry counts.
	sessions, err = store.ListExpiredSessions(ctx, now, 0)
	if err != nil {
		t.Fatalf("list expired without timeout: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "sid-expired" {
		t.Fatalf("expected only hard-expired session, got %+v", sessions)
	}
}

func TestAppendEventAssignsGaplessSequences(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		event, err := store.AppendEvent(ctx, "g1", "MOVE", []byte(`{"die":5}`))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if event.Seq != uint64(i) {
			t.Fatalf("expected seq %d, got %d", i, event.Seq)
		}
	}

	event, err := store.AppendEvent(ctx, "g2", "CUBE_TURNED", nil)
	if err != nil {
		t.Fatalf("append other game: %v", err)
	}
	if event.Seq != 1 {
		t.Fatalf("expected seq 1 for fresh game, got %d", event.Seq)
	}
	if string(event.PayloadJSON) != "{}" {
		t.Fatalf("expected defaulted payload, got %s", event.PayloadJSON)
	}
}

func TestAppendEventCounterSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.db")
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
		t.Fatalf("close store: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
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

func TestListEventsRespectsCursorAndLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := store.AppendEvent(ctx, "g1", "MOVE", nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := store.ListEvents(ctx, "g1", 2, 2)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 || events[0].Seq != 3 || events[1].Seq != 4 {
		t.Fatalf("expected seqs 3,4 got %+v", events)
	}

	if _, err := store.ListEvents(ctx, "g1", 0, 0); !errors.Is(err, domain.ErrInvalidLimit) {
		t.Fatalf("expected ErrInvalidLimit, got %v", err)
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
		t.Fatalf("expected idempotent purge, got %d removed", removed)
	}

	events, err := store.ListEvents(ctx, "g1", 0, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 || events[0].Seq != 3 {
		t.Fatalf("expected events 3,4 to remain, got %+v", events)
	}

	event, err := store.AppendEvent(ctx, "g1", "MOVE", nil)
	if err != nil {
		t.Fatalf("append after purge: %v", err)
	}
	if event.Seq != 5 {
		t.Fatalf("expected seq 5 after purge, got %d", event.Seq)
	}
}

func TestLatestEventSeq(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	latest, err := store.LatestEventSeq(ctx, "g1")
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if latest != 0 {
		t.Fatalf("expected 0 for empty game, got %d", latest)
	}

	for i := 0; i < 3; i++ {
		if _, err := store.AppendEvent(ctx, "g1", "MOVE", nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := store.PurgeEventsThrough(ctx, "g1", 3); err != nil {
		t.Fatalf("purge: %v", err)
	}

	latest, err = store.LatestEventSeq(ctx, "g1")
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if latest != 3 {
		t.Fatalf("expected latest 3 after purge, got %d", latest)
	}
}
