package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ruminate-app/backend/internal/models"
)

func (r *SQLiteRepo) GetSession(ctx context.Context, userID int64) (*models.AnonSession, error) {
	row := r.conn.QueryRow(ctx, `SELECT user_id, token, allow_ai, status, cleanup_pending, expires_at, created FROM anon_sessions WHERE user_id = ?`, userID)
	var s models.AnonSession
	var allow, cleanup int
	if err := row.Scan(&s.UserID, &s.Token, &allow, &s.Status, &cleanup, &s.ExpiresAt, &s.Created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	s.AllowAI = allow != 0
	s.CleanupPending = cleanup != 0
	return &s, nil
}

func (r *SQLiteRepo) CreateSession(ctx context.Context, s *models.AnonSession) error {
	if s == nil {
		return fmt.Errorf("session is nil")
	}

	_, err := r.conn.Exec(ctx, `INSERT INTO anon_sessions (user_id, token, allow_ai, status, cleanup_pending, expires_at, created) VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(user_id) DO UPDATE SET token=excluded.token, allow_ai=excluded.allow_ai, status=excluded.status, cleanup_pending=excluded.cleanup_pending, expires_at=excluded.expires_at`,
		s.UserID, s.Token, boolToInt(s.AllowAI), s.Status, boolToInt(s.CleanupPending), s.ExpiresAt, now())
	return err
}

// MarkSession merges status and cleanup_pending onto the session, leaving the
// opt-in and expiry fields alone. A missing session row is created so the
// denial is still recorded.
func (r *SQLiteRepo) MarkSession(ctx context.Context, userID int64, status string, cleanupPending bool) error {
	_, err := r.conn.Exec(ctx, `INSERT INTO anon_sessions (user_id, token, allow_ai, status, cleanup_pending, expires_at, created) VALUES (?, '', 0, ?, ?, 0, ?) ON CONFLICT(user_id) DO UPDATE SET status=excluded.status, cleanup_pending=excluded.cleanup_pending`,
		userID, status, boolToInt(cleanupPending), now())
	return err
}
