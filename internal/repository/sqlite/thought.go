package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ruminate-app/backend/internal/models"
)

const thoughtCols = `id, user_id, text, tags, source, ai_status, ai_error, ai_applied_changes, ai_suggestions, original_text, original_tags, reprocess_count, created, updated`

func (r *SQLiteRepo) CreateThought(ctx context.Context, t *models.Thought) (int64, error) {
	if t == nil {
		return 0, fmt.Errorf("thought is nil")
	}

	res, err := r.conn.Exec(ctx, `INSERT INTO thoughts (user_id, text, tags, source, created, updated) VALUES (?, ?, ?, ?, ?, ?)`,
		t.UserID, t.Text, marshalStrings(t.Tags), t.Source, now(), now())
	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

func (r *SQLiteRepo) GetThought(ctx context.Context, userID, id int64) (*models.Thought, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+thoughtCols+` FROM thoughts WHERE id = ? AND user_id = ?`, id, userID)
	return scanThought(row.Scan)
}

func (r *SQLiteRepo) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Thought, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn.QueryRows(ctx, `SELECT `+thoughtCols+` FROM thoughts WHERE user_id = ? ORDER BY created DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Thought
	for rows.Next() {
		t, err := scanThought(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateThought writes every mutable column in one statement so a worker's
// combined update lands atomically.
func (r *SQLiteRepo) UpdateThought(ctx context.Context, t *models.Thought) error {
	if t == nil {
		return fmt.Errorf("thought is nil")
	}

	_, err := r.conn.Exec(ctx, `UPDATE thoughts SET text = ?, tags = ?, ai_status = ?, ai_error = ?, ai_applied_changes = ?, ai_suggestions = ?, original_text = ?, original_tags = ?, reprocess_count = ?, updated = ? WHERE id = ?`,
		t.Text, marshalStrings(t.Tags), nullIfEmpty(t.AIStatus), nullIfEmpty(t.AIError), t.AIAppliedChanges, t.AISuggestions, t.OriginalText, t.OriginalTags, t.ReprocessCount, now(), t.ID)
	return err
}

// UpdateThoughtWithHistory commits the thought update and its history row in
// one transaction. Either both land or neither does.
func (r *SQLiteRepo) UpdateThoughtWithHistory(ctx context.Context, t *models.Thought, e *models.HistoryEntry) error {
	if t == nil {
		return fmt.Errorf("thought is nil")
	}
	if e == nil {
		return fmt.Errorf("history entry is nil")
	}

	created := e.Created
	if created == 0 {
		created = now()
	}
	return r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE thoughts SET text = ?, tags = ?, ai_status = ?, ai_error = ?, ai_applied_changes = ?, ai_suggestions = ?, original_text = ?, original_tags = ?, reprocess_count = ?, updated = ? WHERE id = ?`,
			t.Text, marshalStrings(t.Tags), nullIfEmpty(t.AIStatus), nullIfEmpty(t.AIError), t.AIAppliedChanges, t.AISuggestions, t.OriginalText, t.OriginalTags, t.ReprocessCount, now(), t.ID); err != nil {
			return fmt.Errorf("update thought: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO processing_history (thought_id, user_id, trigger_kind, status, changes_applied, suggestions, tokens_used, undone_changes, created) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ThoughtID, e.UserID, e.Trigger, e.Status, e.ChangesApplied, e.Suggestions, e.TokensUsed, e.UndoneChanges, created); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		return nil
	})
}

func (r *SQLiteRepo) SetAIStatus(ctx context.Context, id int64, status, errMsg string) error {
	_, err := r.conn.Exec(ctx, `UPDATE thoughts SET ai_status = ?, ai_error = ?, updated = ? WHERE id = ?`,
		nullIfEmpty(status), nullIfEmpty(errMsg), now(), id)
	return err
}

func scanThought(scan func(dest ...any) error) (*models.Thought, error) {
	var t models.Thought
	var tags string
	var status, aiErr sql.NullString
	if err := scan(&t.ID, &t.UserID, &t.Text, &tags, &t.Source, &status, &aiErr, &t.AIAppliedChanges, &t.AISuggestions, &t.OriginalText, &t.OriginalTags, &t.ReprocessCount, &t.Created, &t.Updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	t.Tags = unmarshalStrings(tags)
	t.AIStatus = status.String
	t.AIError = aiErr.String
	return &t, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
