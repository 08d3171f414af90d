// Package bbolt provides a BoltDB-backed resume store for single-file
// deployments that do not want SQLite.
package bbolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/louisbranch/gammon.space/internal/resume/domain"
	"github.com/louisbranch/gammon.space/internal/resume/storage"
)

const (
	sessionBucket  = "sessions"
	eventBucket    = "events"
	eventSeqBucket = "event_seq"
)

// Store provides a BoltDB-backed implementation of storage.Store.
//
// Events live in a nested bucket per game keyed by big-endian sequence, so
// cursor seeks give ordered range reads. The sequence counter is a separate
// key per game, updated in the same write transaction as the event insert;
// bolt serializes writers, which is the per-game ordering point.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{sessionBucket, eventBucket, eventSeqBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("ensure bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

type sessionRecord struct {
	ID              string            `json:"id"`
	GameID          string            `json:"game_id"`
	UserID          string            `json:"user_id"`
	CredentialHash  string            `json:"credential_hash"`
	LastAckSeq      uint64            `json:"last_ack_seq"`
	LastHeartbeatAt *int64            `json:"last_heartbeat_at,omitempty"`
	IssuedAt        int64             `json:"issued_at"`
	ExpiresAt       *int64            `json:"expires_at,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type eventRecord struct {
	GameID      string          `json:"game_id"`
	Seq         uint64          `json:"seq"`
	Type        string          `json:"type"`
	PayloadJSON json.RawMessage `json:"payload"`
	CreatedAt   int64           `json:"created_at"`
}

func toSessionRecord(session domain.Session) sessionRecord {
	record := sessionRecord{
		ID:             session.ID,
		GameID:         session.GameID,
		UserID:         session.UserID,
		CredentialHash: session.CredentialHash,
		LastAckSeq:     session.LastAckSeq,
		IssuedAt:       session.IssuedAt.UTC().UnixMilli(),
		Metadata:       session.Metadata,
	}
	if session.LastHeartbeatAt != nil {
		millis := session.LastHeartbeatAt.UTC().UnixMilli()
		record.LastHeartbeatAt = &millis
	}
	if session.ExpiresAt != nil {
		millis := session.ExpiresAt.UTC().UnixMilli()
		record.ExpiresAt = &millis
	}
	return record
}

func fromSessionRecord(record sessionRecord) domain.Session {
	session := domain.Session{
		ID:             record.ID,
		GameID:         record.GameID,
		UserID:         record.UserID,
		CredentialHash: record.CredentialHash,
		LastAckSeq:     record.LastAckSeq,
		IssuedAt:       time.UnixMilli(record.IssuedAt).UTC(),
		Metadata:       record.Metadata,
	}
	if record.LastHeartbeatAt != nil {
		heartbeat := time.UnixMilli(*record.LastHeartbeatAt).UTC()
		session.LastHeartbeatAt = &heartbeat
	}
	if record.ExpiresAt != nil {
		expires := time.UnixMilli(*record.ExpiresAt).UTC()
		session.ExpiresAt = &expires
	}
	return session
}

func seqKey(seq uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)
	return key[:]
}

// CreateSession stores a new session record.
func (s *Store) CreateSession(ctx context.Context, session domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	encoded, err := json.Marshal(toSessionRecord(session))
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(sessionBucket)).Put([]byte(session.ID), encoded)
	})
}

// GetSession returns the session with the given id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	var session domain.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(sessionBucket)).Get([]byte(sessionID))
		if raw == nil {
			return storage.ErrNotFound
		}
		var record sessionRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		session = fromSessionRecord(record)
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

// UpdateSession applies a partial update with monotonic ack semantics.
func (s *Store) UpdateSession(ctx context.Context, sessionID string, patch storage.SessionPatch) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	var session domain.Session
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionBucket))
		raw := bucket.Get([]byte(sessionID))
		if raw == nil {
			return storage.ErrNotFound
		}
		var record sessionRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		if patch.LastAckSeq != nil && *patch.LastAckSeq > record.LastAckSeq {
			record.LastAckSeq = *patch.LastAckSeq
		}
		if patch.LastHeartbeatAt != nil {
			millis := patch.LastHeartbeatAt.UTC().UnixMilli()
			record.LastHeartbeatAt = &millis
		}
		encoded, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		if err := bucket.Put([]byte(sessionID), encoded); err != nil {
			return fmt.Errorf("store session: %w", err)
		}
		session = fromSessionRecord(record)
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

// DeleteSession removes a session record.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionBucket))
		if bucket.Get([]byte(sessionID)) == nil {
			return storage.ErrNotFound
		}
		return bucket.Delete([]byte(sessionID))
	})
}

// ListSessionsByGame returns every session for a game ordered by id.
func (s *Store) ListSessionsByGame(ctx context.Context, gameID string) ([]domain.Session, error) {
	return s.filterSessions(ctx, func(session domain.Session) bool {
		return session.GameID == gameID
	})
}

// ListExpiredSessions returns sessions that are stale or expired at now.
func (s *Store) ListExpiredSessions(ctx context.Context, now time.Time, heartbeatTimeout time.Duration) ([]domain.Session, error) {
	return s.filterSessions(ctx, func(session domain.Session) bool {
		return domain.SessionLiveness(session, now, heartbeatTimeout) != domain.LivenessActive
	})
}

func (s *Store) filterSessions(ctx context.Context, keep func(domain.Session) bool) ([]domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sessions []domain.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(sessionBucket)).ForEach(func(_, raw []byte) error {
			var record sessionRecord
			if err := json.Unmarshal(raw, &record); err != nil {
				return fmt.Errorf("decode session: %w", err)
			}
			session := fromSessionRecord(record)
			if keep(session) {
				sessions = append(sessions, session)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}

// AppendEvent assigns the next sequence for the game and stores the event in
// one write transaction.
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

	var event domain.Event
	err = s.db.Update(func(tx *bbolt.Tx) error {
		seqBucket := tx.Bucket([]byte(eventSeqBucket))
		seq := uint64(1)
		if raw := seqBucket.Get([]byte(normalized.GameID)); raw != nil {
			seq = binary.BigEndian.Uint64(raw) + 1
		}

		event = domain.Event{
			GameID:      normalized.GameID,
			Seq:         seq,
			Type:        normalized.Type,
			PayloadJSON: normalized.Payload,
			CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
		}
		encoded, err := json.Marshal(eventRecord{
			GameID:      event.GameID,
			Seq:         event.Seq,
			Type:        event.Type,
			PayloadJSON: event.PayloadJSON,
			CreatedAt:   event.CreatedAt.UnixMilli(),
		})
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}

		gameBucket, err := tx.Bucket([]byte(eventBucket)).CreateBucketIfNotExists([]byte(normalized.GameID))
		if err != nil {
			return fmt.Errorf("ensure game bucket: %w", err)
		}
		if err := gameBucket.Put(seqKey(seq), encoded); err != nil {
			return fmt.Errorf("store event: %w", err)
		}
		return seqBucket.Put([]byte(normalized.GameID), seqKey(seq))
	})
	if err != nil {
		return domain.Event{}, err
	}
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
	// afterSeq+1 below would wrap to zero and re-read the whole journal.
	if afterSeq == math.MaxUint64 {
		return nil, nil
	}
	var events []domain.Event
	err := s.db.View(func(tx *bbolt.Tx) error {
		gameBucket := tx.Bucket([]byte(eventBucket)).Bucket([]byte(gameID))
		if gameBucket == nil {
			return nil
		}
		cursor := gameBucket.Cursor()
		for key, raw := cursor.Seek(seqKey(afterSeq + 1)); key != nil; key, raw = cursor.Next() {
			var record eventRecord
			if err := json.Unmarshal(raw, &record); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			events = append(events, domain.Event{
				GameID:      record.GameID,
				Seq:         record.Seq,
				Type:        record.Type,
				PayloadJSON: record.PayloadJSON,
				CreatedAt:   time.UnixMilli(record.CreatedAt).UTC(),
			})
			if len(events) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// PurgeEventsThrough removes the event prefix with seq <= through.
func (s *Store) PurgeEventsThrough(ctx context.Context, gameID string, through uint64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		gameBucket := tx.Bucket([]byte(eventBucket)).Bucket([]byte(gameID))
		if gameBucket == nil {
			return nil
		}
		// Collect keys first: deleting under an iterating cursor can skip
		// entries.
		var keys [][]byte
		cursor := gameBucket.Cursor()
		limit := seqKey(through)
		for key, _ := cursor.First(); key != nil && bytes.Compare(key, limit) <= 0; key, _ = cursor.Next() {
			keys = append(keys, append([]byte(nil), key...))
		}
		for _, key := range keys {
			if err := gameBucket.Delete(key); err != nil {
				return fmt.Errorf("delete event: %w", err)
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// LatestEventSeq returns the highest assigned sequence for a game.
func (s *Store) LatestEventSeq(ctx context.Context, gameID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var latest uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		if raw := tx.Bucket([]byte(eventSeqBucket)).Get([]byte(gameID)); raw != nil {
			latest = binary.BigEndian.Uint64(raw)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return latest, nil
}

var _ storage.Store = (*Store)(nil)
