package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ruminate-app/backend/internal/models"
)

const jobCols = `id, user_id, thought_id, trigger_kind, status, tool_spec_ids, attempts, error, requested_by, override, requested_at, started_at, completed_at`

// CreateIfAbsent performs the transactional check-and-create: within one
// transaction it looks for an in-flight job on the thought, and only when none
// exists inserts the new job and flips the thought to pending. This closes the
// window between a duplicate check and the job write.
func (r *SQLiteRepo) CreateIfAbsent(ctx context.Context, j *models.Job) (*models.Job, bool, error) {
	if j == nil {
		return nil, false, fmt.Errorf("job is nil")
	}

	var out *models.Job
	created := false
	err := r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+jobCols+` FROM processing_jobs WHERE thought_id = ? AND status IN ('queued','processing') LIMIT 1`, j.ThoughtID)
		existing, err := scanJob(row.Scan)
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO processing_jobs (user_id, thought_id, trigger_kind, status, tool_spec_ids, attempts, requested_by, override, requested_at) VALUES (?, ?, ?, 'queued', ?, 0, ?, ?, ?)`,
			j.UserID, j.ThoughtID, j.Trigger, marshalStrings(j.ToolSpecIDs), j.RequestedBy, boolToInt(j.Override), j.RequestedAt)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE thoughts SET ai_status = 'pending', ai_error = NULL, updated = ? WHERE id = ?`, now(), j.ThoughtID); err != nil {
			return err
		}

		nj := *j
		nj.ID = id
		nj.Status = models.JobQueued
		out = &nj
		created = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("create job: %w", err)
	}
	return out, created, nil
}

func (r *SQLiteRepo) GetJob(ctx context.Context, userID, id int64) (*models.Job, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+jobCols+` FROM processing_jobs WHERE id = ? AND user_id = ?`, id, userID)
	return scanJob(row.Scan)
}

func (r *SQLiteRepo) FindInFlight(ctx context.Context, thoughtID int64) (*models.Job, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+jobCols+` FROM processing_jobs WHERE thought_id = ? AND status IN ('queued','processing') LIMIT 1`, thoughtID)
	return scanJob(row.Scan)
}

// Claim transitions a job from queued to processing. The conditional WHERE
// makes the claim exclusive: only one caller sees claimed=true.
func (r *SQLiteRepo) Claim(ctx context.Context, id int64, startedAt int64) (bool, error) {
	res, err := r.conn.Exec(ctx, `UPDATE processing_jobs SET status = 'processing', started_at = ?, attempts = attempts + 1 WHERE id = ? AND status = 'queued'`, startedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLiteRepo) Finish(ctx context.Context, id int64, status, errMsg string, completedAt int64) error {
	_, err := r.conn.Exec(ctx, `UPDATE processing_jobs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		status, nullIfEmpty(errMsg), completedAt, id)
	return err
}

// NextQueued returns the oldest queued job, or nil when the queue is drained.
func (r *SQLiteRepo) NextQueued(ctx context.Context) (*models.Job, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+jobCols+` FROM processing_jobs WHERE status = 'queued' ORDER BY requested_at ASC, id ASC LIMIT 1`)
	return scanJob(row.Scan)
}

func scanJob(scan func(dest ...any) error) (*models.Job, error) {
	var j models.Job
	var specs string
	var jobErr, requestedBy sql.NullString
	var override int
	var started, completed sql.NullInt64
	if err := scan(&j.ID, &j.UserID, &j.ThoughtID, &j.Trigger, &j.Status, &specs, &j.Attempts, &jobErr, &requestedBy, &override, &j.RequestedAt, &started, &completed); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	j.ToolSpecIDs = unmarshalStrings(specs)
	j.Error = jobErr.String
	j.RequestedBy = requestedBy.String
	j.Override = override != 0
	if started.Valid {
		j.StartedAt = &started.Int64
	}
	if completed.Valid {
		j.CompletedAt = &completed.Int64
	}
	return &j, nil
}
