// Package registry orchestrates resume sessions and the event journal.
//
// The registry is the sole mutator of session and event state: it issues
// sessions and their credentials, validates resume attempts, records and
// replays events, and computes the safe trim point below which the journal
// prefix can be purged. Instances are explicitly constructed and carry no
// global state, so tests can run isolated registries side by side.
package registry

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/gammon.space/internal/platform/errors"
	"github.com/louisbranch/gammon.space/internal/platform/id"
	"github.com/louisbranch/gammon.space/internal/resume/domain"
	"github.com/louisbranch/gammon.space/internal/resume/storage"
	"github.com/louisbranch/gammon.space/internal/resume/token"
)

const (
	defaultTokenTTL = 30 * time.Minute
	tracerName      = "github.com/louisbranch/gammon.space/internal/resume/registry"
)

// Config wires the registry's collaborators.
type Config struct {
	// Codec signs and verifies resume credentials. Optional: a registry
	// used only for maintenance (the sweeper) can omit it, at the cost of
	// IssueSession and ValidateToken erroring.
	Codec    *token.Codec
	Sessions storage.SessionStore
	Events   storage.EventLog
	// HeartbeatTimeout classifies sessions as stale when their last
	// heartbeat is older than this. Zero disables staleness; hard expiry
	// still applies.
	HeartbeatTimeout time.Duration
	// TokenTTL is the default credential lifetime when issuance options do
	// not override it.
	TokenTTL time.Duration
	// Now and IDGenerator are injectable for tests.
	Now         func() time.Time
	IDGenerator func() (string, error)
}

// Registry coordinates the token codec, session store, and event log.
type Registry struct {
	codec            *token.Codec
	sessions         storage.SessionStore
	events           storage.EventLog
	heartbeatTimeout time.Duration
	tokenTTL         time.Duration
	now              func() time.Time
	idGenerator      func() (string, error)
	tracer           trace.Tracer
	diagnostics      Diagnostics
}

// New creates a registry from the given configuration.
func New(cfg Config) (*Registry, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Events == nil {
		return nil, errors.New("event log is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	idGenerator := cfg.IDGenerator
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	tokenTTL := cfg.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &Registry{
		codec:            cfg.Codec,
		sessions:         cfg.Sessions,
		events:           cfg.Events,
		heartbeatTimeout: cfg.HeartbeatTimeout,
		tokenTTL:         tokenTTL,
		now:              now,
		idGenerator:      idGenerator,
		tracer:           otel.Tracer(tracerName),
	}, nil
}

// Diagnostics exposes the registry's observability counters.
func (r *Registry) Diagnostics() *Diagnostics {
	return &r.diagnostics
}

// IssueOptions controls session issuance.
type IssueOptions struct {
	// LastAckSeq seeds the replay watermark for clients that already hold
	// local state.
	LastAckSeq uint64
	// TokenTTL overrides the registry default credential lifetime.
	TokenTTL time.Duration
	// SessionTTL sets a hard expiry on the session record. Zero means no
	// fixed expiry; the heartbeat timeout alone governs liveness.
	SessionTTL time.Duration
	Metadata   map[string]string
}

// IssuedSession pairs a new session with its resume credential.
type IssuedSession struct {
	Token   string
	Session domain.Session
}

// IssueSession creates a session and a credential bound to it. Only the
// credential's hash is persisted.
func (r *Registry) IssueSession(ctx context.Context, gameID, userID string, opts IssueOptions) (IssuedSession, error) {
	ctx, span := r.tracer.Start(ctx, "registry.IssueSession",
		trace.WithAttributes(attribute.String("game.id", gameID)))
	defer span.End()

	if r.codec == nil {
		return IssuedSession{}, errors.New("token codec is not configured")
	}
	session, err := domain.CreateSession(domain.CreateSessionInput{
		GameID:     gameID,
		UserID:     userID,
		LastAckSeq: opts.LastAckSeq,
		TTL:        opts.SessionTTL,
		Metadata:   opts.Metadata,
	}, r.now, r.idGenerator)
	if err != nil {
		return IssuedSession{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid session input", err)
	}

	tokenTTL := opts.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = r.tokenTTL
	}
	credential, err := r.codec.Issue(session.ID, session.GameID, session.UserID, tokenTTL)
	if err != nil {
		span.RecordError(err)
		return IssuedSession{}, err
	}
	session.CredentialHash = token.HashCredential(credential)

	if err := r.sessions.CreateSession(ctx, session); err != nil {
		span.RecordError(err)
		return IssuedSession{}, storageError("create session", err)
	}
	return IssuedSession{Token: credential, Session: session}, nil
}

// ResumedSession is the result of a successful credential validation.
type ResumedSession struct {
	Session domain.Session
	Claims  token.Claims
}

// ValidateToken verifies a credential and resolves its backing session.
//
// Every rejection — malformed, forged, expired, session revoked or swept,
// or credential superseded by a newer issuance — carries a code for which
// apperrors.Code.ResumeRejected reports true. Callers treat all of them as
// "must rejoin"; the distinct codes exist for telemetry only. A successful
// validation refreshes the session heartbeat, since a resuming client is by
// definition alive.
func (r *Registry) ValidateToken(ctx context.Context, raw string) (ResumedSession, error) {
	ctx, span := r.tracer.Start(ctx, "registry.ValidateToken")
	defer span.End()

	if r.codec == nil {
		return ResumedSession{}, errors.New("token codec is not configured")
	}
	claims, err := r.codec.Verify(raw)
	if err != nil {
		return ResumedSession{}, err
	}

	session, err := r.sessions.GetSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ResumedSession{}, apperrors.New(apperrors.CodeSessionNotFound, "session no longer exists")
		}
		span.RecordError(err)
		return ResumedSession{}, storageError("get session", err)
	}

	if session.GameID != claims.GameID || session.UserID != claims.UserID {
		return ResumedSession{}, apperrors.New(apperrors.CodeCredentialInvalid, "resume credential does not match session")
	}
	if session.CredentialHash != token.HashCredential(raw) {
		return ResumedSession{}, apperrors.New(apperrors.CodeCredentialInvalid, "resume credential superseded")
	}
	if domain.SessionLiveness(session, r.now(), r.heartbeatTimeout) == domain.LivenessExpired {
		return ResumedSession{}, apperrors.New(apperrors.CodeSessionNotFound, "session is expired")
	}

	heartbeat := r.now().UTC()
	session, err = r.sessions.UpdateSession(ctx, session.ID, storage.SessionPatch{LastHeartbeatAt: &heartbeat})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Swept between lookup and refresh; same outcome as a missing
			// session.
			return ResumedSession{}, apperrors.New(apperrors.CodeSessionNotFound, "session no longer exists")
		}
		span.RecordError(err)
		return ResumedSession{}, storageError("refresh heartbeat", err)
	}
	return ResumedSession{Session: session, Claims: claims}, nil
}

// Acknowledge records that a client has durably consumed events up to seq.
// Acks are monotonic: a seq at or below the stored watermark leaves it
// unchanged. A regression is counted for diagnostics but is not an error,
// since it only indicates duplicate or reordered delivery. A successful ack
// triggers trim recomputation for the session's game.
func (r *Registry) Acknowledge(ctx context.Context, sessionID string, seq uint64) (domain.Session, error) {
	ctx, span := r.tracer.Start(ctx, "registry.Acknowledge")
	defer span.End()

	updated, err := r.sessions.UpdateSession(ctx, sessionID, storage.SessionPatch{LastAckSeq: &seq})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Session{}, apperrors.New(apperrors.CodeSessionNotFound, "session no longer exists")
		}
		span.RecordError(err)
		return domain.Session{}, storageError("update ack", err)
	}
	if seq < updated.LastAckSeq {
		r.diagnostics.recordSequenceRegression()
	}

	if _, err := r.TrimToMinimumAck(ctx, updated.GameID); err != nil {
		// Trimming is an optimization; the ack itself succeeded. The next
		// ack or sweep retries it.
		log.Printf("trim after ack game_id=%s: %v", updated.GameID, err)
	}
	return updated, nil
}

// UpdateHeartbeat refreshes a session's liveness.
func (r *Registry) UpdateHeartbeat(ctx context.Context, sessionID string) (domain.Session, error) {
	heartbeat := r.now().UTC()
	updated, err := r.sessions.UpdateSession(ctx, sessionID, storage.SessionPatch{LastHeartbeatAt: &heartbeat})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Session{}, apperrors.New(apperrors.CodeSessionNotFound, "session no longer exists")
		}
		return domain.Session{}, storageError("update heartbeat", err)
	}
	return updated, nil
}

// Revoke deletes a session and re-triggers trim recomputation, since a
// revoked slow reader may have been the one holding the purge point back.
func (r *Registry) Revoke(ctx context.Context, sessionID string) error {
	ctx, span := r.tracer.Start(ctx, "registry.Revoke")
	defer span.End()

	session, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodeSessionNotFound, "session no longer exists")
		}
		span.RecordError(err)
		return storageError("get session", err)
	}
	if err := r.sessions.DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		span.RecordError(err)
		return storageError("delete session", err)
	}

	if _, err := r.TrimToMinimumAck(ctx, session.GameID); err != nil {
		log.Printf("trim after revoke game_id=%s: %v", session.GameID, err)
	}
	return nil
}

// RecordEvent appends a game-state transition to the journal and returns it
// with its assigned sequence. Acks are client-driven, so recording never
// advances any session's watermark.
func (r *Registry) RecordEvent(ctx context.Context, input domain.AppendEventInput) (domain.Event, error) {
	ctx, span := r.tracer.Start(ctx, "registry.RecordEvent",
		trace.WithAttributes(attribute.String("game.id", input.GameID)))
	defer span.End()

	event, err := r.events.AppendEvent(ctx, input.GameID, input.Type, input.Payload)
	if err != nil {
		if isValidationError(err) {
			return domain.Event{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid event input", err)
		}
		span.RecordError(err)
		return domain.Event{}, storageError("append event", err)
	}
	return event, nil
}

// FetchEventsSince returns up to limit events with seq > afterSeq in
// ascending order. The read is restartable: re-invoking with the last seen
// sequence resumes the replay stream.
func (r *Registry) FetchEventsSince(ctx context.Context, gameID string, afterSeq uint64, limit int) ([]domain.Event, error) {
	events, err := r.events.ListEvents(ctx, gameID, afterSeq, limit)
	if err != nil {
		if isValidationError(err) {
			return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid replay request", err)
		}
		return nil, storageError("list events", err)
	}
	return events, nil
}

// LatestEventSeq reports the highest sequence assigned for a game, letting
// the transport layer compute replay lag.
func (r *Registry) LatestEventSeq(ctx context.Context, gameID string) (uint64, error) {
	latest, err := r.events.LatestEventSeq(ctx, gameID)
	if err != nil {
		if isValidationError(err) {
			return 0, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid request", err)
		}
		return 0, storageError("latest event seq", err)
	}
	return latest, nil
}

// MinimumAckSequence returns the minimum watermark across all live sessions
// for a game. ok is false when the game has no live sessions, in which case
// no purge point exists.
//
// The snapshot may race with concurrent acks; that is safe by construction,
// because acks only increase and a stale minimum is a lower bound. The
// resulting purge point errs toward retaining events, never discarding ones
// a reader still needs.
func (r *Registry) MinimumAckSequence(ctx context.Context, gameID string) (uint64, bool, error) {
	if strings.TrimSpace(gameID) == "" {
		return 0, false, apperrors.New(apperrors.CodeInvalidArgument, "game id is required")
	}
	sessions, err := r.sessions.ListSessionsByGame(ctx, gameID)
	if err != nil {
		return 0, false, storageError("list sessions", err)
	}

	now := r.now()
	var minAck uint64
	found := false
	for _, session := range sessions {
		if domain.SessionLiveness(session, now, r.heartbeatTimeout) != domain.LivenessActive {
			continue
		}
		if !found || session.LastAckSeq < minAck {
			minAck = session.LastAckSeq
			found = true
		}
	}
	return minAck, found, nil
}

// PurgeEventsThrough trims the journal prefix up to the requested sequence,
// clamped to the current minimum live ack so a slow reader never loses
// events it still needs. With no live sessions the purge is skipped
// entirely: an idle game retains its journal for late joiners.
func (r *Registry) PurgeEventsThrough(ctx context.Context, gameID string, seq uint64) (int, error) {
	minAck, ok, err := r.MinimumAckSequence(ctx, gameID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if seq > minAck {
		seq = minAck
	}
	removed, err := r.events.PurgeEventsThrough(ctx, gameID, seq)
	if err != nil {
		return 0, storageError("purge events", err)
	}
	return removed, nil
}

// TrimToMinimumAck purges everything every live session has acknowledged.
func (r *Registry) TrimToMinimumAck(ctx context.Context, gameID string) (int, error) {
	minAck, ok, err := r.MinimumAckSequence(ctx, gameID)
	if err != nil {
		return 0, err
	}
	if !ok || minAck == 0 {
		return 0, nil
	}
	removed, err := r.events.PurgeEventsThrough(ctx, gameID, minAck)
	if err != nil {
		return 0, storageError("purge events", err)
	}
	return removed, nil
}

// CleanupExpiredSessions revokes every session past its hard expiry or
// heartbeat timeout and returns the count revoked. Trim recomputation runs
// once per affected game, since a dead reader's removal can unblock a
// purge. Safe to run concurrently with live traffic: a client whose session
// is swept mid-use simply re-issues.
func (r *Registry) CleanupExpiredSessions(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "registry.CleanupExpiredSessions")
	defer span.End()

	expired, err := r.sessions.ListExpiredSessions(ctx, r.now(), r.heartbeatTimeout)
	if err != nil {
		span.RecordError(err)
		return 0, storageError("list expired sessions", err)
	}

	revoked := 0
	games := make(map[string]bool)
	for _, session := range expired {
		if err := r.sessions.DeleteSession(ctx, session.ID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// Already revoked by a concurrent caller.
				continue
			}
			span.RecordError(err)
			return revoked, storageError("delete expired session", err)
		}
		revoked++
		games[session.GameID] = true
	}

	for gameID := range games {
		if _, err := r.TrimToMinimumAck(ctx, gameID); err != nil {
			log.Printf("trim after sweep game_id=%s: %v", gameID, err)
		}
	}
	return revoked, nil
}

// storageError classifies backing-store failures. Context cancellation is
// passed through untouched so callers can detect it.
func storageError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.Wrap(apperrors.CodeStorageUnavailable, op+" failed", err)
}

func isValidationError(err error) bool {
	return errors.Is(err, domain.ErrEmptyGameID) ||
		errors.Is(err, domain.ErrEmptyEventType) ||
		errors.Is(err, domain.ErrInvalidLimit)
}
