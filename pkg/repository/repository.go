package repository

import (
	"context"

	"github.com/ruminate-app/backend/internal/models"
)

// Repository interfaces for domain entities. These are the public contracts
// consumers should depend on; concrete implementations live under internal/.

type UserRepo interface {
	CreateUser(ctx context.Context, u *models.User) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type ThoughtRepo interface {
	CreateThought(ctx context.Context, t *models.Thought) (int64, error)
	GetThought(ctx context.Context, userID, id int64) (*models.Thought, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Thought, error)
	// UpdateThought writes the full mutable state of the thought in one call.
	UpdateThought(ctx context.Context, t *models.Thought) error
	// UpdateThoughtWithHistory writes the thought and appends the history
	// entry in one transaction, so a failed write leaves no dangling entry.
	UpdateThoughtWithHistory(ctx context.Context, t *models.Thought, e *models.HistoryEntry) error
	// SetAIStatus updates only ai_status/ai_error, leaving the rest untouched.
	SetAIStatus(ctx context.Context, id int64, status, errMsg string) error
}

type JobRepo interface {
	// CreateIfAbsent atomically checks for an in-flight job (queued or
	// processing) on the same thought and creates the job only when none
	// exists. It also moves the thought to pending and clears its error in
	// the same transaction. Returns the existing job and created=false when
	// the check finds in-flight work.
	CreateIfAbsent(ctx context.Context, j *models.Job) (job *models.Job, created bool, err error)
	GetJob(ctx context.Context, userID, id int64) (*models.Job, error)
	FindInFlight(ctx context.Context, thoughtID int64) (*models.Job, error)
	// Claim transitions queued -> processing exactly once; the second caller
	// sees claimed=false.
	Claim(ctx context.Context, id int64, startedAt int64) (claimed bool, err error)
	Finish(ctx context.Context, id int64, status, errMsg string, completedAt int64) error
	NextQueued(ctx context.Context) (*models.Job, error)
}

type HistoryRepo interface {
	AppendHistory(ctx context.Context, e *models.HistoryEntry) (int64, error)
	ListByThought(ctx context.Context, thoughtID int64) ([]models.HistoryEntry, error)
}

type RateLimitRepo interface {
	// ReserveInterval advances the user's last-processed timestamp and
	// returns true, or leaves it untouched and returns false when less than
	// minInterval (millis) has passed. Read and write happen in one
	// transaction.
	ReserveInterval(ctx context.Context, userID, nowMillis, minIntervalMillis int64) (bool, error)
	DailyCount(ctx context.Context, userID int64, day string) (int, error)
	IncrementDaily(ctx context.Context, userID int64, day string) error
}

type SessionRepo interface {
	GetSession(ctx context.Context, userID int64) (*models.AnonSession, error)
	CreateSession(ctx context.Context, s *models.AnonSession) error
	// MarkSession merges status/cleanup_pending onto an existing session.
	MarkSession(ctx context.Context, userID int64, status string, cleanupPending bool) error
}

type SubscriptionRepo interface {
	GetSnapshot(ctx context.Context, userID int64) (*models.SubscriptionSnapshot, error)
	UpsertSnapshot(ctx context.Context, s *models.SubscriptionSnapshot) error
}

type EnrollmentRepo interface {
	EnrolledSpecIDs(ctx context.Context, userID int64) ([]string, error)
	Enroll(ctx context.Context, userID int64, specID string) error
}

type CallLogRepo interface {
	AppendCallLog(ctx context.Context, l *models.CallLog) (int64, error)
	ListCallLogs(ctx context.Context, userID int64, limit int) ([]models.CallLog, error)
}
