package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/gammon.space/internal/platform/id"
)

// Liveness describes whether a session still counts as a live reader.
type Liveness int

const (
	// LivenessUnspecified represents an invalid liveness value.
	LivenessUnspecified Liveness = iota
	// LivenessActive indicates the session is within its heartbeat window
	// and not past its hard expiry. Only active sessions participate in the
	// minimum-ack computation that gates log trimming.
	LivenessActive
	// LivenessStale indicates the session is past the heartbeat timeout but
	// not past its hard expiry. Stale sessions are excluded from trim
	// safety and are eligible for sweeping.
	LivenessStale
	// LivenessExpired indicates the session is past its hard expiry.
	LivenessExpired
)

var (
	// ErrEmptyGameID indicates a missing game ID.
	ErrEmptyGameID = errors.New("game id is required")
	// ErrEmptyUserID indicates a missing user ID.
	ErrEmptyUserID = errors.New("user id is required")
)

// Session tracks one client's resume credential and replay progress for one
// game. GameID and UserID are immutable after creation; LastAckSeq only ever
// increases.
type Session struct {
	ID              string
	GameID          string
	UserID          string
	CredentialHash  string // hash of the issued credential; the raw token is never stored
	LastAckSeq      uint64
	LastHeartbeatAt *time.Time // nil until the first liveness ping
	IssuedAt        time.Time
	ExpiresAt       *time.Time // nil means no fixed expiry, heartbeat timeout governs
	Metadata        map[string]string
}

// CreateSessionInput describes the data needed to create a session.
type CreateSessionInput struct {
	GameID string
	UserID string
	// LastAckSeq seeds the replay watermark, letting a client that already
	// holds local state skip events it has durably consumed.
	LastAckSeq uint64
	// TTL sets the hard expiry relative to creation. Zero or negative means
	// no fixed expiry.
	TTL      time.Duration
	Metadata map[string]string
}

// CreateSession creates a new session with a generated ID and timestamps.
func CreateSession(input CreateSessionInput, now func() time.Time, idGenerator func() (string, error)) (Session, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateSessionInput(input)
	if err != nil {
		return Session{}, err
	}

	sessionID, err := idGenerator()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}

	issuedAt := now().UTC()
	session := Session{
		ID:         sessionID,
		GameID:     normalized.GameID,
		UserID:     normalized.UserID,
		LastAckSeq: normalized.LastAckSeq,
		IssuedAt:   issuedAt,
		Metadata:   normalized.Metadata,
	}
	if normalized.TTL > 0 {
		expiresAt := issuedAt.Add(normalized.TTL)
		session.ExpiresAt = &expiresAt
	}
	return session, nil
}

// NormalizeCreateSessionInput trims and validates session input.
func NormalizeCreateSessionInput(input CreateSessionInput) (CreateSessionInput, error) {
	input.GameID = strings.TrimSpace(input.GameID)
	if input.GameID == "" {
		return CreateSessionInput{}, ErrEmptyGameID
	}
	input.UserID = strings.TrimSpace(input.UserID)
	if input.UserID == "" {
		return CreateSessionInput{}, ErrEmptyUserID
	}
	return input, nil
}

// SessionLiveness classifies a session against the current time. It is a
// pure function: the stored record never changes state, only its reading.
//
// A heartbeatTimeout of zero or less disables staleness, leaving only the
// hard expiry. A session that has never sent a heartbeat is measured from
// its issuance time.
func SessionLiveness(session Session, now time.Time, heartbeatTimeout time.Duration) Liveness {
	now = now.UTC()
	if session.ExpiresAt != nil && !now.Before(session.ExpiresAt.UTC()) {
		return LivenessExpired
	}
	if heartbeatTimeout > 0 {
		reference := session.IssuedAt
		if session.LastHeartbeatAt != nil {
			reference = *session.LastHeartbeatAt
		}
		if now.Sub(reference.UTC()) > heartbeatTimeout {
			return LivenessStale
		}
	}
	return LivenessActive
}

// CloneSession returns a deep copy safe to hand to callers that may mutate
// the metadata bag.
func CloneSession(session Session) Session {
	cloned := session
	if session.LastHeartbeatAt != nil {
		heartbeat := *session.LastHeartbeatAt
		cloned.LastHeartbeatAt = &heartbeat
	}
	if session.ExpiresAt != nil {
		expires := *session.ExpiresAt
		cloned.ExpiresAt = &expires
	}
	if session.Metadata != nil {
		cloned.Metadata = make(map[string]string, len(session.Metadata))
		for k, v := range session.Metadata {
			cloned.Metadata[k] = v
		}
	}
	return cloned
}
