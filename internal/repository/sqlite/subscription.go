package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ruminate-app/backend/internal/models"
)

func (r *SQLiteRepo) GetSnapshot(ctx context.Context, userID int64) (*models.SubscriptionSnapshot, error) {
	row := r.conn.QueryRow(ctx, `SELECT user_id, tier, status, ai_processing, ai_credits_remaining, cancel_at_period_end, period_end, updated FROM subscriptions WHERE user_id = ?`, userID)
	var s models.SubscriptionSnapshot
	var aiProc sql.NullInt64
	var credits sql.NullInt64
	var cancel int
	var periodEnd sql.NullInt64
	if err := row.Scan(&s.UserID, &s.Tier, &s.Status, &aiProc, &credits, &cancel, &periodEnd, &s.Updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if aiProc.Valid {
		v := aiProc.Int64 != 0
		s.AIProcessing = &v
	}
	if credits.Valid {
		v := int(credits.Int64)
		s.AICreditsRemaining = &v
	}
	s.CancelAtPeriodEnd = cancel != 0
	if periodEnd.Valid {
		s.PeriodEnd = &periodEnd.Int64
	}
	return &s, nil
}

func (r *SQLiteRepo) UpsertSnapshot(ctx context.Context, s *models.SubscriptionSnapshot) error {
	if s == nil {
		return fmt.Errorf("snapshot is nil")
	}

	var aiProc any
	if s.AIProcessing != nil {
		aiProc = boolToInt(*s.AIProcessing)
	}
	var credits any
	if s.AICreditsRemaining != nil {
		credits = *s.AICreditsRemaining
	}
	var periodEnd any
	if s.PeriodEnd != nil {
		periodEnd = *s.PeriodEnd
	}
	_, err := r.conn.Exec(ctx, `INSERT INTO subscriptions (user_id, tier, status, ai_processing, ai_credits_remaining, cancel_at_period_end, period_end, updated) VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(user_id) DO UPDATE SET tier=excluded.tier, status=excluded.status, ai_processing=excluded.ai_processing, ai_credits_remaining=excluded.ai_credits_remaining, cancel_at_period_end=excluded.cancel_at_period_end, period_end=excluded.period_end, updated=excluded.updated`,
		s.UserID, s.Tier, s.Status, aiProc, credits, boolToInt(s.CancelAtPeriodEnd), periodEnd, now())
	return err
}
