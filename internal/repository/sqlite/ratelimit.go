package sqlite

import (
	"context"
	"database/sql"
)

// ReserveInterval reads the user's last-processed timestamp and either
// advances it or reports the request as limited. The read and the write share
// one transaction so a limited request never advances the timestamp.
func (r *SQLiteRepo) ReserveInterval(ctx context.Context, userID, nowMillis, minIntervalMillis int64) (bool, error) {
	allowed := false
	err := r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		var last int64
		row := tx.QueryRowContext(ctx, `SELECT last_processed_at FROM rate_limits WHERE user_id = ?`, userID)
		switch err := row.Scan(&last); err {
		case nil:
			if nowMillis-last < minIntervalMillis {
				return nil
			}
			if _, err := tx.ExecContext(ctx, `UPDATE rate_limits SET last_processed_at = ? WHERE user_id = ?`, nowMillis, userID); err != nil {
				return err
			}
		case sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx, `INSERT INTO rate_limits (user_id, last_processed_at) VALUES (?, ?)`, userID, nowMillis); err != nil {
				return err
			}
		default:
			return err
		}
		allowed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return allowed, nil
}

func (r *SQLiteRepo) DailyCount(ctx context.Context, userID int64, day string) (int, error) {
	var count int
	row := r.conn.QueryRow(ctx, `SELECT count FROM daily_counts WHERE user_id = ? AND day = ?`, userID, day)
	if err := row.Scan(&count); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

func (r *SQLiteRepo) IncrementDaily(ctx context.Context, userID int64, day string) error {
	_, err := r.conn.Exec(ctx, `INSERT INTO daily_counts (user_id, day, count) VALUES (?, ?, 1) ON CONFLICT(user_id, day) DO UPDATE SET count = count + 1`, userID, day)
	return err
}
