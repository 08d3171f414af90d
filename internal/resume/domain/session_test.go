package domain

import (
	"errors"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
}

func TestCreateSessionDefaults(t *testing.T) {
	session, err := CreateSession(CreateSessionInput{
		GameID: " g1 ",
		UserID: "u1",
	}, fixedNow, nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID == "" {
		t.Fatal("expected generated id")
	}
	if session.GameID != "g1" {
		t.Fatalf("expected trimmed game id, got %q", session.GameID)
	}
	if session.LastAckSeq != 0 {
		t.Fatalf("expected zero ack seq, got %d", session.LastAckSeq)
	}
	if session.ExpiresAt != nil {
		t.Fatal("expected no fixed expiry without TTL")
	}
	if session.LastHeartbeatAt != nil {
		t.Fatal("expected nil heartbeat on creation")
	}
	if !session.IssuedAt.Equal(fixedNow()) {
		t.Fatalf("expected issued at %v, got %v", fixedNow(), session.IssuedAt)
	}
}

func TestCreateSessionWithTTLAndSeed(t *testing.T) {
	session, err := CreateSession(CreateSessionInput{
		GameID:     "g1",
		UserID:     "u1",
		LastAckSeq: 7,
		TTL:        time.Hour,
	}, fixedNow, func() (string, error) { return "sid-1", nil })
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "sid-1" {
		t.Fatalf("expected injected id, got %q", session.ID)
	}
	if session.LastAckSeq != 7 {
		t.Fatalf("expected seeded ack 7, got %d", session.LastAckSeq)
	}
	if session.ExpiresAt == nil || !session.ExpiresAt.Equal(fixedNow().Add(time.Hour)) {
		t.Fatalf("expected expiry one hour out, got %v", session.ExpiresAt)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	if _, err := CreateSession(CreateSessionInput{UserID: "u1"}, fixedNow, nil); !errors.Is(err, ErrEmptyGameID) {
		t.Fatalf("expected ErrEmptyGameID, got %v", err)
	}
	if _, err := CreateSession(CreateSessionInput{GameID: "g1"}, fixedNow, nil); !errors.Is(err, ErrEmptyUserID) {
		t.Fatalf("expected ErrEmptyUserID, got %v", err)
	}
}

func TestSessionLivenessActive(t *testing.T) {
	now := fixedNow()
	session := Session{GameID: "g1", UserID: "u1", IssuedAt: now.Add(-time.Minute)}

	if got := SessionLiveness(session, now, 5*time.Minute); got != LivenessActive {
		t.Fatalf("expected active, got %v", got)
	}
}

func TestSessionLivenessStaleAfterHeartbeatTimeout(t *testing.T) {
	now := fixedNow()
	heartbeat := now.Add(-10 * time.Minute)
	session := Session{IssuedAt: now.Add(-time.Hour), LastHeartbeatAt: &heartbeat}

	if got := SessionLiveness(session, now, 5*time.Minute); got != LivenessStale {
		t.Fatalf("expected stale, got %v", got)
	}
	// Fresh heartbeat restores liveness.
	fresh := now.Add(-time.Minute)
	session.LastHeartbeatAt = &fresh
	if got := SessionLiveness(session, now, 5*time.Minute); got != LivenessActive {
		t.Fatalf("expected active after fresh heartbeat, got %v", got)
	}
}

func TestSessionLivenessMeasuredFromIssuanceWithoutHeartbeat(t *testing.T) {
	now := fixedNow()
	session := Session{IssuedAt: now.Add(-10 * time.Minute)}

	if got := SessionLiveness(session, now, 5*time.Minute); got != LivenessStale {
		t.Fatalf("expected stale without any heartbeat, got %v", got)
	}
}

func TestSessionLivenessExpiredTrumpsHeartbeat(t *testing.T) {
	now := fixedNow()
	expires := now.Add(-time.Second)
	heartbeat := now
	session := Session{IssuedAt: now.Add(-time.Hour), ExpiresAt: &expires, LastHeartbeatAt: &heartbeat}

	if got := SessionLiveness(session, now, 5*time.Minute); got != LivenessExpired {
		t.Fatalf("expected expired, got %v", got)
	}
}

func TestSessionLivenessZeroTimeoutDisablesStaleness(t *testing.T) {
	now := fixedNow()
	session := Session{IssuedAt: now.Add(-24 * time.Hour)}

	if got := SessionLiveness(session, now, 0); got != LivenessActive {
		t.Fatalf("expected active with staleness disabled, got %v", got)
	}
}

func TestCloneSessionIsolatesMetadata(t *testing.T) {
	expires := fixedNow().Add(time.Hour)
	session := Session{
		ID:        "sid",
		ExpiresAt: &expires,
		Metadata:  map[string]string{"client": "web"},
	}

	cloned := CloneSession(session)
	cloned.Metadata["client"] = "mobile"
	*cloned.ExpiresAt = fixedNow()

	if session.Metadata["client"] != "web" {
		t.Fatal("expected original metadata untouched")
	}
	if !session.ExpiresAt.Equal(expires) {
		t.Fatal("expected original expiry untouched")
	}
}
