package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/gammon.space/internal/resume/domain"
	"github.com/louisbranch/gammon.space/internal/resume/storage"
)

const sessionColumns = "id, game_id, user_id, credential_hash, last_ack_seq, last_heartbeat_at, issued_at, expires_at, metadata_json"

// CreateSession persists a new session record.
func (s *Store) CreateSession(ctx context.Context, session domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}

	metadataJSON, err := encodeMetadata(session.Metadata)
	if err != nil {
		return err
	}
	if session.IssuedAt.IsZero() {
		session.IssuedAt = time.Now().UTC()
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (
	id,
	game_id,
	user_id,
	credential_hash,
	last_ack_seq,
	last_heartbeat_at,
	issued_at,
	expires_at,
	metadata_json
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		session.ID,
		session.GameID,
		session.UserID,
		session.CredentialHash,
		int64(session.LastAckSeq),
		toNullMillis(session.LastHeartbeatAt),
		toMillis(session.IssuedAt),
		toNullMillis(session.ExpiresAt),
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Session{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = ?", sessionID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, storage.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// UpdateSession applies a partial update inside one transaction. A
// LastAckSeq at or below the stored watermark is ignored via an UPDATE
// guard, keeping acknowledgments monotonic under concurrent writers.
func (s *Store) UpdateSession(ctx context.Context, sessionID string, patch storage.SessionPatch) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Session{}, fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if patch.LastAckSeq != nil {
		if _, err := tx.ExecContext(ctx,
			"UPDATE sessions SET last_ack_seq = ? WHERE id = ? AND last_ack_seq < ?",
			int64(*patch.LastAckSeq), sessionID, int64(*patch.LastAckSeq),
		); err != nil {
			return domain.Session{}, fmt.Errorf("update ack seq: %w", err)
		}
	}
	if patch.LastHeartbeatAt != nil {
		if _, err := tx.ExecContext(ctx,
			"UPDATE sessions SET last_heartbeat_at = ? WHERE id = ?",
			toMillis(*patch.LastHeartbeatAt), sessionID,
		); err != nil {
			return domain.Session{}, fmt.Errorf("update heartbeat: %w", err)
		}
	}

	row := tx.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = ?", sessionID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, storage.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("reload session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Session{}, fmt.Errorf("commit: %w", err)
	}
	return session, nil
}

// DeleteSession removes a session record.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListSessionsByGame returns every session for a game ordered by id.
func (s *Store) ListSessionsByGame(ctx context.Context, gameID string) ([]domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(gameID) == "" {
		return nil, fmt.Errorf("game id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE game_id = ? ORDER BY id", gameID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// ListExpiredSessions returns sessions that are stale or expired at now. The
// SQL filter mirrors domain.SessionLiveness: past hard expiry, or past the
// heartbeat timeout measured from the last heartbeat (issuance when none).
func (s *Store) ListExpiredSessions(ctx context.Context, now time.Time, heartbeatTimeout time.Duration) ([]domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	nowMillis := toMillis(now)
	query := "SELECT " + sessionColumns + " FROM sessions WHERE (expires_at IS NOT NULL AND expires_at <= ?)"
	args := []any{nowMillis}
	if heartbeatTimeout > 0 {
		query += " OR (COALESCE(last_heartbeat_at, issued_at) < ?)"
		args = append(args, nowMillis-heartbeatTimeout.Milliseconds())
	}
	query += " ORDER BY id"

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		session      domain.Session
		lastAckSeq   int64
		heartbeatAt  sql.NullInt64
		issuedAt     int64
		expiresAt    sql.NullInt64
		metadataJSON string
	)
	if err := row.Scan(
		&session.ID,
		&session.GameID,
		&session.UserID,
		&session.CredentialHash,
		&lastAckSeq,
		&heartbeatAt,
		&issuedAt,
		&expiresAt,
		&metadataJSON,
	); err != nil {
		return domain.Session{}, err
	}
	session.LastAckSeq = uint64(lastAckSeq)
	session.LastHeartbeatAt = fromNullMillis(heartbeatAt)
	session.IssuedAt = fromMillis(issuedAt)
	session.ExpiresAt = fromNullMillis(expiresAt)

	metadata, err := decodeMetadata(metadataJSON)
	if err != nil {
		return domain.Session{}, err
	}
	session.Metadata = metadata
	return session, nil
}

func collectSessions(rows *sql.Rows) ([]domain.Session, error) {
	var sessions []domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode session metadata: %w", err)
	}
	return string(encoded), nil
}

func decodeMetadata(metadataJSON string) (map[string]string, error) {
	if metadataJSON == "" || metadataJSON == "{}" {
		return nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
		return nil, fmt.Errorf("decode session metadata: %w", err)
	}
	return metadata, nil
}
