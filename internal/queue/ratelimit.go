package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/ruminate-app/backend/internal/config"
	"github.com/ruminate-app/backend/pkg/repository"
)

// RateLimiter enforces the per-user minimum interval between processing
// requests and the per-day run ceiling. Interval reservations happen at the
// enqueue boundary; the daily counter is checked at dispatch time and charged
// only after a run completes.
type RateLimiter struct {
	repo  repository.RateLimitRepo
	cfg   config.QueueConfig
	nowFn func() time.Time
}

func NewRateLimiter(repo repository.RateLimitRepo, cfg config.QueueConfig) *RateLimiter {
	return &RateLimiter{repo: repo, cfg: cfg, nowFn: time.Now}
}

// DayKey returns the UTC calendar-date key used for daily counters.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// EnsureInterval reserves a processing slot or raises resource-exhausted. A
// limited request never advances the user's last-processed timestamp.
func (l *RateLimiter) EnsureInterval(ctx context.Context, userID int64) error {
	now := l.nowFn()
	ok, err := l.repo.ReserveInterval(ctx, userID, now.UnixMilli(), l.cfg.MinInterval.Milliseconds())
	if err != nil {
		return fmt.Errorf("reserve interval: %w", err)
	}
	if !ok {
		return E(CodeResourceExhausted, "please wait at least %s between processing requests", l.cfg.MinInterval)
	}
	return nil
}

// EnsureDaily raises resource-exhausted once the user's daily ceiling is
// reached. It does not increment anything.
func (l *RateLimiter) EnsureDaily(ctx context.Context, userID int64) error {
	count, err := l.repo.DailyCount(ctx, userID, DayKey(l.nowFn()))
	if err != nil {
		return fmt.Errorf("daily count: %w", err)
	}
	if count >= l.cfg.MaxPerDay {
		return E(CodeResourceExhausted, "daily limit of %d processing runs reached", l.cfg.MaxPerDay)
	}
	return nil
}

// RecordRun charges one run against today's counter. Callers invoke it after
// a run completes so failed runs do not consume quota.
func (l *RateLimiter) RecordRun(ctx context.Context, userID int64) error {
	return l.repo.IncrementDaily(ctx, userID, DayKey(l.nowFn()))
}
