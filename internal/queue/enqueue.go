package queue

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/ruminate-app/backend/internal/ai"
	"github.com/ruminate-app/backend/internal/config"
	"github.com/ruminate-app/backend/internal/models"
	"github.com/ruminate-app/backend/pkg/repository"
)

// ProcessedTag marks a thought the user considers done; enqueue refuses it
// unless the caller opts in.
const ProcessedTag = "processed"

// EnqueueOptions tune a single enqueue request.
type EnqueueOptions struct {
	// ToolSpecIDs, when set, replaces tag-based resolution (still filtered
	// to the user's enrollment).
	ToolSpecIDs []string
	// RequestedBy names the origin of the request for the audit trail.
	RequestedBy string
	// AllowProcessed lets the request through even when the thought carries
	// the processed tag.
	AllowProcessed bool
	// OverrideKey is the operator key forwarded to the entitlement gate.
	OverrideKey string
}

// Enqueue result statuses.
const (
	EnqueueQueued        = "queued"
	EnqueueAlreadyQueued = "alreadyQueued"
)

type EnqueueResult struct {
	JobID  int64  `json:"job_id"`
	Status string `json:"status"`
}

// Enqueuer validates a processing request and writes the queued job record.
type Enqueuer struct {
	gate     *Gate
	limiter  *RateLimiter
	thoughts repository.ThoughtRepo
	jobs     repository.JobRepo
	enroll   repository.EnrollmentRepo
	cfg      config.QueueConfig
	notify   func(jobID int64)
	logger   *slog.Logger
	nowFn    func() time.Time
}

func NewEnqueuer(gate *Gate, limiter *RateLimiter, thoughts repository.ThoughtRepo, jobs repository.JobRepo, enroll repository.EnrollmentRepo, cfg config.QueueConfig, logger *slog.Logger) *Enqueuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enqueuer{
		gate:     gate,
		limiter:  limiter,
		thoughts: thoughts,
		jobs:     jobs,
		enroll:   enroll,
		cfg:      cfg,
		logger:   logger,
		nowFn:    time.Now,
	}
}

// SetNotify installs the callback invoked once per created job. The worker
// registers itself here.
func (e *Enqueuer) SetNotify(fn func(jobID int64)) {
	e.notify = fn
}

// Enqueue runs the gate, the interval limiter, and the duplicate check, and
// creates the queued job. All failures surface as typed errors; nothing is
// written on failure (a limited request does not advance the interval
// timestamp, and the job check-and-create is one transaction).
func (e *Enqueuer) Enqueue(ctx context.Context, userID, thoughtID int64, trigger string, opts EnqueueOptions) (*EnqueueResult, error) {
	if userID == 0 {
		return nil, E(CodeUnauthenticated, "missing caller identity")
	}
	if thoughtID == 0 {
		return nil, E(CodeInvalidArgument, "missing thought id")
	}

	dec, err := e.gate.IsAllowed(ctx, userID, opts.OverrideKey)
	if err != nil {
		return nil, fmt.Errorf("entitlement check: %w", err)
	}
	if !dec.Allowed {
		return nil, dec.Err()
	}

	if err := e.limiter.EnsureInterval(ctx, userID); err != nil {
		return nil, err
	}

	t, err := e.thoughts.GetThought(ctx, userID, thoughtID)
	if err != nil {
		return nil, fmt.Errorf("load thought: %w", err)
	}
	if t == nil {
		return nil, E(CodeNotFound, "thought %d not found", thoughtID)
	}

	if t.HasTag(ProcessedTag) && !opts.AllowProcessed {
		return nil, E(CodeFailedPrecondition, "thought is already marked processed")
	}
	if trigger == models.TriggerReprocess && t.ReprocessCount >= e.cfg.MaxReprocess {
		return nil, E(CodeFailedPrecondition, "thought has reached the reprocess limit of %d", e.cfg.MaxReprocess)
	}

	enrolled, err := e.enroll.EnrolledSpecIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	if len(enrolled) == 0 {
		return nil, E(CodeFailedPrecondition, "no tool specs enrolled")
	}

	var specIDs []string
	if len(opts.ToolSpecIDs) > 0 {
		specIDs = ai.FilterToEnrollment(opts.ToolSpecIDs, enrolled)
	} else {
		specIDs = ai.ResolveSpecIDs(t, enrolled)
	}
	if len(specIDs) == 0 {
		return nil, E(CodeFailedPrecondition, "no eligible tool specs for this thought")
	}

	job := &models.Job{
		UserID:      userID,
		ThoughtID:   thoughtID,
		Trigger:     trigger,
		ToolSpecIDs: specIDs,
		RequestedBy: opts.RequestedBy,
		Override:    dec.Overridden,
		RequestedAt: e.nowFn().UnixMilli(),
	}
	created, fresh, err := e.jobs.CreateIfAbsent(ctx, job)
	if err != nil {
		return nil, err
	}
	if !fresh {
		e.logger.Info("enqueue deduplicated", "thought_id", thoughtID, "job_id", created.ID)
		return &EnqueueResult{JobID: created.ID, Status: EnqueueAlreadyQueued}, nil
	}

	e.logger.Info("job enqueued", "job_id", created.ID, "thought_id", thoughtID, "trigger", trigger, "specs", specIDs)
	if e.notify != nil {
		e.notify(created.ID)
	}
	return &EnqueueResult{JobID: created.ID, Status: EnqueueQueued}, nil
}
