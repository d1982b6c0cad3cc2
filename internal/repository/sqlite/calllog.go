package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ruminate-app/backend/internal/models"
)

func (r *SQLiteRepo) AppendCallLog(ctx context.Context, l *models.CallLog) (int64, error) {
	if l == nil {
		return 0, fmt.Errorf("call log is nil")
	}

	res, err := r.conn.Exec(ctx, `INSERT INTO ai_call_logs (user_id, thought_id, job_id, prompt, response, actions, tokens_used, error, created) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.UserID, l.ThoughtID, l.JobID, l.Prompt, l.Response, l.Actions, l.TokensUsed, nullIfEmpty(l.Error), now())
	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

func (r *SQLiteRepo) ListCallLogs(ctx context.Context, userID int64, limit int) ([]models.CallLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn.QueryRows(ctx, `SELECT id, user_id, thought_id, job_id, prompt, response, actions, tokens_used, error, created FROM ai_call_logs WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CallLog
	for rows.Next() {
		var l models.CallLog
		var lerr sql.NullString
		if err := rows.Scan(&l.ID, &l.UserID, &l.ThoughtID, &l.JobID, &l.Prompt, &l.Response, &l.Actions, &l.TokensUsed, &lerr, &l.Created); err != nil {
			return nil, err
		}
		l.Error = lerr.String
		out = append(out, l)
	}
	return out, rows.Err()
}
