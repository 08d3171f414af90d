package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/louisbranch/gammon.space/internal/resume/domain"
)

// AppendEvent atomically assigns the next sequence for the game and stores
// the event. Counter read, increment, and insert share one transaction, so
// a failed write never leaves a gap for a later append to skip over, and the
// counter survives restarts without reusing sequences.
func (s *Store) AppendEvent(ctx context.Context, gameID, eventType string, payload []byte) (domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return domain.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Event{}, fmt.Errorf("storage is not configured")
	}
	normalized, err := domain.NormalizeAppendEventInput(domain.AppendEventInput{
		GameID:  gameID,
		Type:    eventType,
		Payload: payload,
	})
	if err != nil {
		return domain.Event{}, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO event_seq (game_id, next_seq) VALUES (?, 1)",
		normalized.GameID,
	); err != nil {
		return domain.Event{}, fmt.Errorf("init event seq: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		"SELECT next_seq FROM event_seq WHERE game_id = ?",
		normalized.GameID,
	).Scan(&seq); err != nil {
		return domain.Event{}, fmt.Errorf("get event seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE event_seq SET next_seq = next_seq + 1 WHERE game_id = ?",
		normalized.GameID,
	); err != nil {
		return domain.Event{}, fmt.Errorf("increment event seq: %w", err)
	}

	event := domain.Event{
		GameID:      normalized.GameID,
		Seq:         uint64(seq),
		Type:        normalized.Type,
		PayloadJSON: normalized.Payload,
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO events (
	game_id,
	seq,
	event_type,
	payload_json,
	created_at
) VALUES (?, ?, ?, ?, ?)
`,
		event.GameID,
		int64(event.Seq),
		event.Type,
		event.PayloadJSON,
		toMillis(event.CreatedAt),
	); err != nil {
		return domain.Event{}, fmt.Errorf("append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Event{}, fmt.Errorf("commit: %w", err)
	}
	return event, nil
}

// ListEvents returns events ordered by sequence ascending.
func (s *Store) ListEvents(ctx context.Context, gameID string, afterSeq uint64, limit int) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(gameID) == "" {
		return nil, fmt.Errorf("game id is required")
	}
	if limit <= 0 {
		return nil, domain.ErrInvalidLimit
	}
	// int64(afterSeq) below would wrap negative and re-read the whole
	// journal.
	if afterSeq == math.MaxUint64 {
		return nil, nil
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT game_id, seq, event_type, payload_json, created_at
FROM events
WHERE game_id = ? AND seq > ?
ORDER BY seq ASC
LIMIT ?
`, gameID, int64(afterSeq), int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0, limit)
	for rows.Next() {
		var (
			event     domain.Event
			seq       int64
			createdAt int64
		)
		if err := rows.Scan(&event.GameID, &seq, &event.Type, &event.PayloadJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Seq = uint64(seq)
		event.CreatedAt = fromMillis(createdAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// PurgeEventsThrough deletes events with seq <= through and returns the
// count removed. Safe to call repeatedly.
func (s *Store) PurgeEventsThrough(ctx context.Context, gameID string, through uint64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(gameID) == "" {
		return 0, fmt.Errorf("game id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM events WHERE game_id = ? AND seq <= ?",
		gameID, int64(through),
	)
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge events rows affected: %w", err)
	}
	return int(removed), nil
}

// LatestEventSeq returns the highest assigned sequence for a game. The
// durable counter is authoritative, so purged events still count.
func (s *Store) LatestEventSeq(ctx context.Context, gameID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(gameID) == "" {
		return 0, fmt.Errorf("game id is required")
	}

	var next int64
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT next_seq FROM event_seq WHERE game_id = ?", gameID,
	).Scan(&next)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get latest event seq: %w", err)
	}
	return uint64(next - 1), nil
}
