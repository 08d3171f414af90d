// Package storage defines the persistence interfaces for the resume
// subsystem.
//
// Two concerns are kept separate so backends can be swapped independently of
// registry logic: SessionStore persists per-connection session records, and
// EventLog persists the per-game, gapless event journal. Implementations
// live in the memory, sqlite, and bbolt subpackages.
//
// # Error Types
//
//   - ErrNotFound: Indicates a requested record is missing.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/gammon.space/internal/resume/domain"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// SessionPatch describes a partial session update. Nil fields are left
// unchanged.
type SessionPatch struct {
	// LastAckSeq advances the replay watermark. Stores apply it with
	// monotonic-max semantics: a value at or below the stored watermark is
	// silently ignored and the stored session is returned unchanged.
	LastAckSeq *uint64
	// LastHeartbeatAt refreshes liveness. Last writer wins.
	LastHeartbeatAt *time.Time
}

// SessionStore persists per-connection session records.
type SessionStore interface {
	CreateSession(ctx context.Context, session domain.Session) error
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	UpdateSession(ctx context.Context, sessionID string, patch SessionPatch) (domain.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	// ListSessionsByGame returns every session for a game, live or not.
	// Liveness classification is the caller's concern.
	ListSessionsByGame(ctx context.Context, gameID string) ([]domain.Session, error)
	// ListExpiredSessions returns sessions that are stale or expired at the
	// given instant, per domain.SessionLiveness.
	ListExpiredSessions(ctx context.Context, now time.Time, heartbeatTimeout time.Duration) ([]domain.Session, error)
}

// EventLog persists the append-only, per-game event journal. For a fixed
// game, sequence numbers are assigned 1..N with no gaps or duplicates, even
// under concurrent appends or across restarts.
type EventLog interface {
	AppendEvent(ctx context.Context, gameID, eventType string, payload []byte) (domain.Event, error)
	// ListEvents returns events with seq > afterSeq in ascending order,
	// capped at limit. The read does not mutate state; re-invoking with an
	// updated afterSeq resumes the stream.
	ListEvents(ctx context.Context, gameID string, afterSeq uint64, limit int) ([]domain.Event, error)
	// PurgeEventsThrough deletes events with seq <= through and returns the
	// count removed. Idempotent: re-purging an already-purged prefix
	// removes zero events. The log trusts the given sequence; trim safety
	// is enforced by the registry.
	PurgeEventsThrough(ctx context.Context, gameID string, through uint64) (int, error)
	// LatestEventSeq returns the highest assigned sequence for a game, or
	// zero when no event was ever appended.
	LatestEventSeq(ctx context.Context, gameID string) (uint64, error)
}

// Store combines both persistence concerns behind one backend handle.
type Store interface {
	SessionStore
	EventLog
	Close() error
}
