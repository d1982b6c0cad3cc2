package sqlite

import (
	"context"
	"fmt"

	"github.com/ruminate-app/backend/internal/models"
)

// AppendHistory inserts one immutable history row. There is no update or
// delete path for processing_history on purpose.
func (r *SQLiteRepo) AppendHistory(ctx context.Context, e *models.HistoryEntry) (int64, error) {
	if e == nil {
		return 0, fmt.Errorf("history entry is nil")
	}

	created := e.Created
	if created == 0 {
		created = now()
	}
	res, err := r.conn.Exec(ctx, `INSERT INTO processing_history (thought_id, user_id, trigger_kind, status, changes_applied, suggestions, tokens_used, undone_changes, created) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ThoughtID, e.UserID, e.Trigger, e.Status, e.ChangesApplied, e.Suggestions, e.TokensUsed, e.UndoneChanges, created)
	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

func (r *SQLiteRepo) ListByThought(ctx context.Context, thoughtID int64) ([]models.HistoryEntry, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT id, thought_id, user_id, trigger_kind, status, changes_applied, suggestions, tokens_used, undone_changes, created FROM processing_history WHERE thought_id = ? ORDER BY id ASC`, thoughtID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.ThoughtID, &e.UserID, &e.Trigger, &e.Status, &e.ChangesApplied, &e.Suggestions, &e.TokensUsed, &e.UndoneChanges, &e.Created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
