package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/ruminate-app/backend/internal/ai"
	"github.com/ruminate-app/backend/internal/config"
	"github.com/ruminate-app/backend/internal/models"
	"github.com/ruminate-app/backend/pkg/repository"
)

// Engine is the LLM collaborator the worker invokes.
type Engine interface {
	Process(ctx context.Context, thoughtText, contextText string, specs []ai.ToolSpec) (*ai.Result, error)
}

// ContextProvider gathers the opaque per-user processing context.
type ContextProvider interface {
	ProcessingContext(ctx context.Context, userID int64) (string, error)
}

// Worker owns every job transition after enqueue. Each job is dispatched
// exactly once: the enqueuer notifies per created job, a fallback tick picks
// up jobs that predate startup, and the conditional claim makes double
// dispatch harmless.
type Worker struct {
	thoughts repository.ThoughtRepo
	jobs     repository.JobRepo
	enroll   repository.EnrollmentRepo
	callLogs repository.CallLogRepo
	gate     *Gate
	limiter  *RateLimiter
	engine   Engine
	contexts ContextProvider
	cfg      config.QueueConfig
	logger   *slog.Logger
	nowFn    func() time.Time

	notify chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup
}

func NewWorker(thoughts repository.ThoughtRepo, jobs repository.JobRepo, enroll repository.EnrollmentRepo, callLogs repository.CallLogRepo, gate *Gate, limiter *RateLimiter, engine Engine, contexts ContextProvider, cfg config.QueueConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		thoughts: thoughts,
		jobs:     jobs,
		enroll:   enroll,
		callLogs: callLogs,
		gate:     gate,
		limiter:  limiter,
		engine:   engine,
		contexts: contexts,
		cfg:      cfg,
		logger:   logger,
		nowFn:    time.Now,
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Notify wakes the worker after a job was created. Never blocks.
func (w *Worker) Notify(int64) {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Start launches the dispatch loop.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop signals the loop to exit and waits for in-flight work.
func (w *Worker) Stop() {
	close(w.stop)
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			w.logger.Info("worker stopping")
			return
		case <-ctx.Done():
			w.logger.Info("context canceled, worker exiting")
			return
		case <-w.notify:
		case <-ticker.C:
		}
		w.drain(ctx)
	}
}

// drain dispatches queued jobs until the queue is empty.
func (w *Worker) drain(ctx context.Context) {
	for {
		job, err := w.jobs.NextQueued(ctx)
		if err != nil {
			w.logger.Error("fetch next job", "err", err)
			return
		}
		if job == nil {
			return
		}
		w.Dispatch(ctx, job)
	}
}

// Dispatch drives one job through the state machine. Failures discovered here
// are recorded on the job and the thought, never returned: the trigger is
// asynchronous and has no listener.
func (w *Worker) Dispatch(ctx context.Context, job *models.Job) {
	if job.ThoughtID == 0 {
		w.logger.Error("malformed job", "job_id", job.ID)
		if err := w.jobs.Finish(ctx, job.ID, models.JobFailed, "missing thought id", w.nowFn().UnixMilli()); err != nil {
			w.logger.Error("finish malformed job", "job_id", job.ID, "err", err)
		}
		return
	}

	claimed, err := w.jobs.Claim(ctx, job.ID, w.nowFn().UnixMilli())
	if err != nil {
		w.logger.Error("claim job", "job_id", job.ID, "err", err)
		return
	}
	if !claimed {
		// someone else owns it
		return
	}
	if err := w.thoughts.SetAIStatus(ctx, job.ThoughtID, models.StatusProcessing, ""); err != nil {
		w.logger.Warn("set thought processing", "thought_id", job.ThoughtID, "err", err)
	}

	runErr := w.run(ctx, job)
	finishedAt := w.nowFn().UnixMilli()
	if runErr == nil {
		if err := w.jobs.Finish(ctx, job.ID, models.JobCompleted, "", finishedAt); err != nil {
			w.logger.Error("finish job", "job_id", job.ID, "err", err)
		}
		if err := w.limiter.RecordRun(ctx, job.UserID); err != nil {
			w.logger.Warn("record daily run", "user_id", job.UserID, "err", err)
		}
		w.logger.Info("job completed", "job_id", job.ID, "thought_id", job.ThoughtID)
		return
	}

	msg := runErr.Error()
	jobStatus := models.JobFailed
	thoughtStatus := models.StatusFailed
	switch CodeOf(runErr) {
	case CodeResourceExhausted:
		jobStatus = models.JobRateLimited
		thoughtStatus = models.StatusRateLimited
	case CodePermissionDenied:
		thoughtStatus = models.StatusBlocked
	}
	if err := w.jobs.Finish(ctx, job.ID, jobStatus, msg, finishedAt); err != nil {
		w.logger.Error("finish job", "job_id", job.ID, "err", err)
	}
	if err := w.thoughts.SetAIStatus(ctx, job.ThoughtID, thoughtStatus, msg); err != nil {
		w.logger.Error("set thought status", "thought_id", job.ThoughtID, "err", err)
	}
	w.logger.Warn("job did not complete", "job_id", job.ID, "status", jobStatus, "err", msg)
}

// run executes the processing algorithm once for a claimed job.
func (w *Worker) run(ctx context.Context, job *models.Job) error {
	t, err := w.thoughts.GetThought(ctx, job.UserID, job.ThoughtID)
	if err != nil {
		return fmt.Errorf("load thought: %w", err)
	}
	if t == nil {
		return E(CodeNotFound, "thought %d not found", job.ThoughtID)
	}

	// quota and entitlement may have changed since enqueue
	if err := w.limiter.EnsureDaily(ctx, job.UserID); err != nil {
		return err
	}
	dec, err := w.gate.IsAllowedOverridden(ctx, job.UserID, job.Override)
	if err != nil {
		return fmt.Errorf("entitlement check: %w", err)
	}
	if !dec.Allowed {
		return dec.Err()
	}

	contextText, err := w.contexts.ProcessingContext(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("gather context: %w", err)
	}

	specIDs := job.ToolSpecIDs
	if len(specIDs) == 0 {
		enrolled, err := w.enroll.EnrolledSpecIDs(ctx, job.UserID)
		if err != nil {
			return fmt.Errorf("load enrollment: %w", err)
		}
		specIDs = ai.ResolveSpecIDs(t, enrolled)
	}
	specs, err := ai.SpecsByIDs(specIDs)
	if err != nil {
		return err
	}

	result, runErr := w.engine.Process(ctx, t.Text, contextText, specs)
	w.logCall(ctx, job, result, runErr)
	if runErr != nil {
		return fmt.Errorf("llm call: %w", runErr)
	}

	processed := ai.ProcessActions(result.Actions, t)
	upd, entry := ai.BuildThoughtUpdate(processed, t, result.Usage, job.Trigger)

	upd.ApplyTo(t)
	if job.Trigger == models.TriggerReprocess {
		t.ReprocessCount++
	}
	if err := w.thoughts.UpdateThoughtWithHistory(ctx, t, entry); err != nil {
		return fmt.Errorf("apply update: %w", err)
	}
	return nil
}

// logCall appends the full LLM interaction to the per-user call log. Best
// effort: a logging failure never masks the run outcome.
func (w *Worker) logCall(ctx context.Context, job *models.Job, result *ai.Result, runErr error) {
	entry := &models.CallLog{
		UserID:    job.UserID,
		ThoughtID: job.ThoughtID,
		JobID:     job.ID,
		Actions:   "[]",
	}
	if result != nil {
		entry.Prompt = result.Prompt
		entry.Response = result.RawResponse
		entry.TokensUsed = result.Usage.Total()
		if b, err := json.Marshal(result.Actions); err == nil {
			entry.Actions = string(b)
		}
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}
	if _, err := w.callLogs.AppendCallLog(ctx, entry); err != nil {
		w.logger.Warn("append call log failed", "job_id", job.ID, "err", err)
	}
}
