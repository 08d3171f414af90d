// Package memory provides an in-memory resume store for tests and
// ephemeral deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/louisbranch/gammon.space/internal/resume/domain"
	"github.com/louisbranch/gammon.space/internal/resume/storage"
)

// Store is a mutex-guarded in-memory implementation of storage.Store.
type Store struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	events   map[string][]domain.Event
	nextSeq  map[string]uint64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		sessions: make(map[string]domain.Session),
		events:   make(map[string][]domain.Event),
		nextSeq:  make(map[string]uint64),
	}
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// CreateSession stores a new session record.
func (s *Store) CreateSession(ctx context.Context, session domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = domain.CloneSession(session)
	return nil
}

// GetSession returns the session with the given id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, storage.ErrNotFound
	}
	return domain.CloneSession(session), nil
}

// UpdateSession applies a partial update. A LastAckSeq at or below the
// stored watermark is ignored, keeping acknowledgments monotonic.
func (s *Store) UpdateSession(ctx context.Context, sessionID string, patch storage.SessionPatch) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, storage.ErrNotFound
	}
	if patch.LastAckSeq != nil && *patch.LastAckSeq > session.LastAckSeq {
		session.LastAckSeq = *patch.LastAckSeq
	}
	if patch.LastHeartbeatAt != nil {
		heartbeat := patch.LastHeartbeatAt.UTC()
		session.LastHeartbeatAt = &heartbeat
	}
	s.sessions[sessionID] = session
	return domain.CloneSession(session), nil
}

// DeleteSession removes a session record.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

// ListSessionsByGame returns every session for a game.
func (s *Store) ListSessionsByGame(ctx context.Context, gameID string) ([]domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var sessions []domain.Session
	for _, session := range s.sessions {
		if session.GameID == gameID {
			sessions = append(sessions, domain.CloneSession(session))
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}

// ListExpiredSessions returns sessions that are stale or expired at now.
func (s *Store) ListExpiredSessions(ctx context.Context, now time.Time, heartbeatTimeout time.Duration) ([]domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var sessions []domain.Session
	for _, session := range s.sessions {
		if domain.SessionLiveness(session, now, heartbeatTimeout) != domain.LivenessActive {
			sessions = append(sessions, domain.CloneSession(session))
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}

// AppendEvent assigns the next sequence for the game and stores the event.
// The store mutex is the per-game serialization point.
func (s *Store) AppendEvent(ctx context.Context, gameID, eventType string, payload []byte) (domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return domain.Event{}, err
	}
	normalized, err := domain.NormalizeAppendEventInput(domain.AppendEventInput{
		GameID:  gameID,
		Type:    eventType,
		Payload: payload,
	})
	if err != nil {
		return domain.Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.nextSeq[normalized.GameID]
	if !ok {
		seq = 1
	}
	event := domain.Event{
		GameID:      normalized.GameID,
		Seq:         seq,
		Type:        normalized.Type,
		PayloadJSON: append([]byte(nil), normalized.Payload...),
		CreatedAt:   time.Now().UTC(),
	}
	s.events[normalized.GameID] = append(s.events[normalized.GameID], event)
	s.nextSeq[normalized.GameID] = seq + 1
	return event, nil
}

// ListEvents returns events with seq > afterSeq in ascending order.
func (s *Store) ListEvents(ctx context.Context, gameID string, afterSeq uint64, limit int) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, domain.ErrInvalidLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var events []domain.Event
	for _, event := range s.events[gameID] {
		if event.Seq <= afterSeq {
			continue
		}
		events = append(events, event)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

// PurgeEventsThrough removes the event prefix with seq <= through.
func (s *Store) PurgeEventsThrough(ctx context.Context, gameID string, through uint64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[gameID][:0:0]
	removed := 0
	for _, event := range s.events[gameID] {
		if event.Seq <= through {
			removed++
			continue
		}
		kept = append(kept, event)
	}
	s.events[gameID] = kept
	return removed, nil
}

// LatestEventSeq returns the highest assigned sequence for a game. Purged
// events still count: the counter never rewinds.
func (s *Store) LatestEventSeq(ctx context.Context, gameID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := s.nextSeq[gameID]
	if !ok {
		return 0, nil
	}
	return next - 1, nil
}

var _ storage.Store = (*Store)(nil)
