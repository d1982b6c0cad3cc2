package sqlite

import (
	"context"
)

func (r *SQLiteRepo) EnrolledSpecIDs(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT spec_id FROM tool_enrollments WHERE user_id = ? ORDER BY spec_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) Enroll(ctx context.Context, userID int64, specID string) error {
	_, err := r.conn.Exec(ctx, `INSERT INTO tool_enrollments (user_id, spec_id, created) VALUES (?, ?, ?) ON CONFLICT(user_id, spec_id) DO NOTHING`, userID, specID, now())
	return err
}
