package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ruminate-app/backend/internal/ai"
	"github.com/ruminate-app/backend/internal/config"
	"github.com/ruminate-app/backend/internal/models"
	"github.com/ruminate-app/backend/pkg/repository/mock"
)

type stubEngine struct {
	result *ai.Result
	err    error
	calls  int
	specs  [][]string
}

func (s *stubEngine) Process(ctx context.Context, thoughtText, contextText string, specs []ai.ToolSpec) (*ai.Result, error) {
	s.calls++
	ids := make([]string, len(specs))
	for i, sp := range specs {
		ids[i] = sp.ID
	}
	s.specs = append(s.specs, ids)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubContexts struct {
	text string
	err  error
}

func (s *stubContexts) ProcessingContext(ctx context.Context, userID int64) (string, error) {
	return s.text, s.err
}

type workerFixture struct {
	store  *mock.Store
	worker *Worker
	engine *stubEngine
	enq    *Enqueuer
	revert *Reverter
	userID int64
	now    time.Time
	cfg    config.QueueConfig
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	ctx := context.Background()
	store := mock.NewStore()

	userID, err := store.CreateUser(ctx, &models.User{Email: "a@b.c"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := store.UpsertSnapshot(ctx, &models.SubscriptionSnapshot{UserID: userID, Tier: "pro", Status: "active"}); err != nil {
		t.Fatalf("upsert snapshot: %v", err)
	}
	for _, spec := range []string{"thoughts", "tasks"} {
		if err := store.Enroll(ctx, userID, spec); err != nil {
			t.Fatalf("enroll %s: %v", spec, err)
		}
	}

	f := &workerFixture{
		store:  store,
		userID: userID,
		now:    testNow,
		cfg:    config.DefaultQueueConfig(),
		engine: &stubEngine{result: &ai.Result{Prompt: "p", RawResponse: "{}"}},
	}
	nowFn := func() time.Time { return f.now }

	gate := NewGate(store, store, store, NopSnapshotCache(), "", testLogger())
	gate.nowFn = nowFn
	limiter := NewRateLimiter(store, f.cfg)
	limiter.nowFn = nowFn

	f.enq = NewEnqueuer(gate, limiter, store, store, store, f.cfg, testLogger())
	f.enq.nowFn = nowFn
	f.revert = NewReverter(store, testLogger())
	f.worker = NewWorker(store, store, store, store, gate, limiter, f.engine, &stubContexts{text: "ctx"}, f.cfg, testLogger())
	f.worker.nowFn = nowFn
	return f
}

func (f *workerFixture) addThought(t *testing.T, text string, tags ...string) int64 {
	t.Helper()
	id, err := f.store.CreateThought(context.Background(), &models.Thought{UserID: f.userID, Text: text, Tags: tags})
	if err != nil {
		t.Fatalf("create thought: %v", err)
	}
	return id
}

func (f *workerFixture) enqueue(t *testing.T, thoughtID int64, trigger string) *models.Job {
	t.Helper()
	f.now = f.now.Add(f.cfg.MinInterval)
	res, err := f.enq.Enqueue(context.Background(), f.userID, thoughtID, trigger, EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := f.store.GetJob(context.Background(), f.userID, res.JobID)
	if err != nil || job == nil {
		t.Fatalf("load job: job=%v err=%v", job, err)
	}
	return job
}

func TestDispatchAppliesActions(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()
	thoughtID := f.addThought(t, "call the dentist about friday", "tool-tasks")

	f.engine.result = &ai.Result{
		Prompt:      "rendered prompt",
		RawResponse: `{"actions":[...]}`,
		Actions: []ai.Action{
			{Type: ai.ActionAddTag, Value: "health"},
			{Type: ai.ActionSuggest, Value: "task: call dentist"},
		},
		Usage: ai.TokenUsage{PromptTokens: 10, CompletionTokens: 5},
	}

	job := f.enqueue(t, thoughtID, models.TriggerAuto)
	f.worker.Dispatch(ctx, job)

	if f.engine.calls != 1 {
		t.Fatalf("engine calls = %d, want 1", f.engine.calls)
	}
	gotSpecs := f.engine.specs[0]
	if len(gotSpecs) != 2 || gotSpecs[0] != "thoughts" || gotSpecs[1] != "tasks" {
		t.Errorf("engine specs = %v, want [thoughts tasks]", gotSpecs)
	}

	done, _ := f.store.GetJob(ctx, f.userID, job.ID)
	if done.Status != models.JobCompleted {
		t.Fatalf("job status = %q, want completed", done.Status)
	}
	if done.CompletedAt == nil {
		t.Error("completed job has no completed_at")
	}

	thought, _ := f.store.GetThought(ctx, f.userID, thoughtID)
	if thought.AIStatus != models.StatusCompleted {
		t.Errorf("ai_status = %q, want completed", thought.AIStatus)
	}
	if !thought.HasTag("health") {
		t.Errorf("tags = %v, missing applied tag", thought.Tags)
	}
	if thought.OriginalText == nil || *thought.OriginalText != "call the dentist about friday" {
		t.Error("pre-mutation text snapshot missing")
	}
	if thought.AISuggestions == nil || !strings.Contains(*thought.AISuggestions, "call dentist") {
		t.Error("suggestions not recorded on the thought")
	}

	history, _ := f.store.ListByThought(ctx, thoughtID)
	if len(history) != 1 {
		t.Fatalf("history entries = %d, want 1", len(history))
	}
	entry := history[0]
	if entry.Trigger != models.TriggerAuto || entry.Status != models.StatusCompleted {
		t.Errorf("history entry = %+v", entry)
	}
	if entry.ChangesApplied != 1 || entry.Suggestions != 1 || entry.TokensUsed != 15 {
		t.Errorf("history counts = %d/%d/%d, want 1/1/15", entry.ChangesApplied, entry.Suggestions, entry.TokensUsed)
	}

	if got, _ := f.store.DailyCount(ctx, f.userID, DayKey(f.now)); got != 1 {
		t.Errorf("daily counter = %d, want 1", got)
	}
	logs, _ := f.store.ListCallLogs(ctx, f.userID, 10)
	if len(logs) != 1 || logs[0].Prompt != "rendered prompt" || logs[0].TokensUsed != 15 {
		t.Errorf("call logs = %+v", logs)
	}
}

func TestDispatchRevertThenReprocess(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()
	thoughtID := f.addThought(t, "original text", "keep-me")

	f.engine.result = &ai.Result{
		Actions: []ai.Action{{Type: ai.ActionSetText, Value: "rewritten text"}},
	}
	job := f.enqueue(t, thoughtID, models.TriggerAuto)
	f.worker.Dispatch(ctx, job)

	thought, _ := f.store.GetThought(ctx, f.userID, thoughtID)
	if thought.Text != "rewritten text" || thought.AIAppliedChanges == nil {
		t.Fatalf("processing did not apply: %+v", thought)
	}

	reverted, err := f.revert.Revert(ctx, f.userID, thoughtID)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if reverted.Text != "original text" {
		t.Fatalf("reverted text = %q", reverted.Text)
	}
	if reverted.AIAppliedChanges != nil || reverted.OriginalText != nil || reverted.AIStatus != "" {
		t.Fatalf("revert left AI state behind: %+v", reverted)
	}
	if !reverted.HasTag("keep-me") {
		t.Errorf("reverted tags = %v", reverted.Tags)
	}

	f.engine.result = &ai.Result{
		Actions: []ai.Action{{Type: ai.ActionAddTag, Value: "second-pass"}},
	}
	job = f.enqueue(t, thoughtID, models.TriggerReprocess)
	f.worker.Dispatch(ctx, job)

	thought, _ = f.store.GetThought(ctx, f.userID, thoughtID)
	if thought.ReprocessCount != 1 {
		t.Errorf("reprocess count = %d, want 1", thought.ReprocessCount)
	}
	if !thought.HasTag("second-pass") {
		t.Errorf("tags = %v", thought.Tags)
	}

	history, _ := f.store.ListByThought(ctx, thoughtID)
	if len(history) != 3 {
		t.Fatalf("history entries = %d, want 3", len(history))
	}
	wantTriggers := []string{models.TriggerAuto, models.TriggerRevert, models.TriggerReprocess}
	for i, want := range wantTriggers {
		if history[i].Trigger != want {
			t.Errorf("history[%d].Trigger = %q, want %q", i, history[i].Trigger, want)
		}
	}
	if history[1].Status != "reverted" || history[1].UndoneChanges == nil {
		t.Errorf("revert entry = %+v", history[1])
	}
}

func TestDispatchDailyLimitSkipsEngine(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()
	thoughtID := f.addThought(t, "one too many")

	job := f.enqueue(t, thoughtID, models.TriggerManual)
	for i := 0; i < f.cfg.MaxPerDay; i++ {
		if err := f.store.IncrementDaily(ctx, f.userID, DayKey(f.now)); err != nil {
			t.Fatalf("increment daily: %v", err)
		}
	}

	f.worker.Dispatch(ctx, job)

	if f.engine.calls != 0 {
		t.Fatalf("engine called %d times despite daily limit", f.engine.calls)
	}
	done, _ := f.store.GetJob(ctx, f.userID, job.ID)
	if done.Status != models.JobRateLimited {
		t.Errorf("job status = %q, want rate_limited", done.Status)
	}
	thought, _ := f.store.GetThought(ctx, f.userID, thoughtID)
	if thought.AIStatus != models.StatusRateLimited {
		t.Errorf("ai_status = %q, want rate_limited", thought.AIStatus)
	}
}

func TestDispatchEntitlementRevokedAtDispatch(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()
	thoughtID := f.addThought(t, "still queued")
	job := f.enqueue(t, thoughtID, models.TriggerManual)

	// the subscription lapses between enqueue and dispatch
	if err := f.store.UpsertSnapshot(ctx, &models.SubscriptionSnapshot{UserID: f.userID, Tier: "pro", Status: "canceled"}); err != nil {
		t.Fatalf("upsert snapshot: %v", err)
	}

	f.worker.Dispatch(ctx, job)

	if f.engine.calls != 0 {
		t.Fatalf("engine called despite revoked entitlement")
	}
	done, _ := f.store.GetJob(ctx, f.userID, job.ID)
	if done.Status != models.JobFailed {
		t.Errorf("job status = %q, want failed", done.Status)
	}
	thought, _ := f.store.GetThought(ctx, f.userID, thoughtID)
	if thought.AIStatus != models.StatusBlocked {
		t.Errorf("ai_status = %q, want blocked", thought.AIStatus)
	}
	if thought.AIError == "" {
		t.Error("blocked thought has no error message")
	}
}

func TestDispatchHonorsEnqueueOverride(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()

	userID, err := store.CreateUser(ctx, &models.User{Anonymous: true})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	sess := &models.AnonSession{UserID: userID, AllowAI: false, ExpiresAt: testNow.Add(time.Hour).UnixMilli()}
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := store.Enroll(ctx, userID, "thoughts"); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	cfg := config.DefaultQueueConfig()
	nowFn := func() time.Time { return testNow }
	gate := NewGate(store, store, store, NopSnapshotCache(), "let-me-in", testLogger())
	gate.nowFn = nowFn
	limiter := NewRateLimiter(store, cfg)
	limiter.nowFn = nowFn
	enq := NewEnqueuer(gate, limiter, store, store, store, cfg, testLogger())
	enq.nowFn = nowFn
	engine := &stubEngine{result: &ai.Result{Prompt: "p", RawResponse: "{}"}}
	worker := NewWorker(store, store, store, store, gate, limiter, engine, &stubContexts{text: "ctx"}, cfg, testLogger())
	worker.nowFn = nowFn

	thoughtID, err := store.CreateThought(ctx, &models.Thought{UserID: userID, Text: "opted-out note"})
	if err != nil {
		t.Fatalf("create thought: %v", err)
	}

	res, err := enq.Enqueue(ctx, userID, thoughtID, models.TriggerManual, EnqueueOptions{OverrideKey: "let-me-in"})
	if err != nil {
		t.Fatalf("enqueue with override: %v", err)
	}
	job, err := store.GetJob(ctx, userID, res.JobID)
	if err != nil || job == nil {
		t.Fatalf("load job: job=%v err=%v", job, err)
	}
	if !job.Override {
		t.Fatal("override authorization not recorded on the job")
	}

	worker.Dispatch(ctx, job)

	if engine.calls != 1 {
		t.Fatalf("engine calls = %d, want 1", engine.calls)
	}
	done, _ := store.GetJob(ctx, userID, job.ID)
	if done.Status != models.JobCompleted {
		t.Fatalf("job status = %q, want completed (err %q)", done.Status, done.Error)
	}
	after, _ := store.GetSession(ctx, userID)
	if after.CleanupPending || after.Status == models.StatusBlocked {
		t.Errorf("session marked %q cleanup=%v after overridden run", after.Status, after.CleanupPending)
	}
}

func TestDispatchClaimsExactlyOnce(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()
	thoughtID := f.addThought(t, "claimed elsewhere")
	job := f.enqueue(t, thoughtID, models.TriggerManual)

	if claimed, err := f.store.Claim(ctx, job.ID, f.now.UnixMilli()); err != nil || !claimed {
		t.Fatalf("pre-claim: claimed=%v err=%v", claimed, err)
	}

	f.worker.Dispatch(ctx, job)

	if f.engine.calls != 0 {
		t.Fatal("dispatch ran a job it did not claim")
	}
	cur, _ := f.store.GetJob(ctx, f.userID, job.ID)
	if cur.Status != models.JobProcessing {
		t.Errorf("job status = %q, want untouched processing", cur.Status)
	}
}

func TestDispatchMalformedJob(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	job := &models.Job{UserID: f.userID, ThoughtID: 0, Status: models.JobQueued}
	created, fresh, err := f.store.CreateIfAbsent(ctx, job)
	if err != nil || !fresh {
		t.Fatalf("seed job: %v", err)
	}

	f.worker.Dispatch(ctx, created)

	done, _ := f.store.GetJob(ctx, f.userID, created.ID)
	if done.Status != models.JobFailed || done.Error == "" {
		t.Fatalf("malformed job = %+v, want failed with error", done)
	}
	if f.engine.calls != 0 {
		t.Error("engine called for malformed job")
	}
}

func TestDispatchEngineFailure(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()
	thoughtID := f.addThought(t, "fails downstream")
	job := f.enqueue(t, thoughtID, models.TriggerManual)

	f.engine.err = errors.New("model unavailable")
	f.worker.Dispatch(ctx, job)

	done, _ := f.store.GetJob(ctx, f.userID, job.ID)
	if done.Status != models.JobFailed {
		t.Errorf("job status = %q, want failed", done.Status)
	}
	thought, _ := f.store.GetThought(ctx, f.userID, thoughtID)
	if thought.AIStatus != models.StatusFailed || !strings.Contains(thought.AIError, "model unavailable") {
		t.Errorf("thought = %q/%q", thought.AIStatus, thought.AIError)
	}

	// no quota consumed, and the failed call is still logged
	if len(f.store.Daily) != 0 {
		t.Error("failed run consumed daily quota")
	}
	logs, _ := f.store.ListCallLogs(ctx, f.userID, 10)
	if len(logs) != 1 || !strings.Contains(logs[0].Error, "model unavailable") {
		t.Errorf("call logs = %+v", logs)
	}
}

func TestDispatchThoughtWriteFailureLeavesNoHistory(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()
	thoughtID := f.addThought(t, "write fails downstream")
	job := f.enqueue(t, thoughtID, models.TriggerManual)

	f.engine.result = &ai.Result{
		Prompt:      "p",
		RawResponse: "{}",
		Actions:     []ai.Action{{Type: ai.ActionAddTag, Value: "health"}},
	}
	f.store.ThoughtWriteErr = errors.New("disk full")
	f.worker.Dispatch(ctx, job)

	done, _ := f.store.GetJob(ctx, f.userID, job.ID)
	if done.Status != models.JobFailed {
		t.Fatalf("job status = %q, want failed", done.Status)
	}
	history, _ := f.store.ListByThought(ctx, thoughtID)
	if len(history) != 0 {
		t.Fatalf("failed thought write left %d history entries, want 0", len(history))
	}
	thought, _ := f.store.GetThought(ctx, f.userID, thoughtID)
	if len(thought.Tags) != 0 {
		t.Errorf("failed write still mutated tags: %v", thought.Tags)
	}
}

func TestDispatchCallLogBestEffort(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()
	thoughtID := f.addThought(t, "audit trail down")
	job := f.enqueue(t, thoughtID, models.TriggerManual)

	f.store.CallLogErr = errors.New("log table locked")
	f.worker.Dispatch(ctx, job)

	done, _ := f.store.GetJob(ctx, f.userID, job.ID)
	if done.Status != models.JobCompleted {
		t.Fatalf("job status = %q; call-log failure must not fail the run", done.Status)
	}
}

func TestWorkerLoop(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()
	thoughtID := f.addThought(t, "processed by the loop")

	f.enq.SetNotify(f.worker.Notify)
	f.worker.Start(ctx)
	defer f.worker.Stop()

	f.now = f.now.Add(f.cfg.MinInterval)
	res, err := f.enq.Enqueue(ctx, f.userID, thoughtID, models.TriggerAuto, EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := f.store.GetJob(ctx, f.userID, res.JobID)
		if err != nil {
			t.Fatalf("poll job: %v", err)
		}
		if job.Status == models.JobCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in %q", job.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
