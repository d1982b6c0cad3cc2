package models

// Domain models matching the database schema in db/migrations/0001_init.sql

// Thought processing statuses mirrored on thoughts.ai_status. An empty string
// means the thought was never processed.
const (
	StatusPending     = "pending"
	StatusProcessing  = "processing"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusBlocked     = "blocked"
	StatusRateLimited = "rate_limited"
)

// Job statuses.
const (
	JobQueued      = "queued"
	JobProcessing  = "processing"
	JobCompleted   = "completed"
	JobFailed      = "failed"
	JobRateLimited = "rate_limited"
)

// Trigger kinds recorded on jobs and history entries.
const (
	TriggerAuto      = "auto"
	TriggerManual    = "manual"
	TriggerReprocess = "reprocess"
	TriggerRevert    = "revert"
)

type User struct {
	ID           int64  `json:"id" db:"id"`
	Name         string `json:"name" db:"name"`
	Email        string `json:"email" db:"email"`
	PasswordHash string `json:"password_hash,omitempty" db:"password_hash"`
	Anonymous    bool   `json:"anonymous" db:"anonymous"`
	Created      int64  `json:"created" db:"created"`
	Updated      int64  `json:"updated" db:"updated"`
}

type Thought struct {
	ID               int64    `json:"id" db:"id"`
	UserID           int64    `json:"user_id" db:"user_id"`
	Text             string   `json:"text" db:"text"`
	Tags             []string `json:"tags" db:"tags"`
	Source           string   `json:"source,omitempty" db:"source"`
	AIStatus         string   `json:"ai_status,omitempty" db:"ai_status"`
	AIError          string   `json:"ai_error,omitempty" db:"ai_error"`
	AIAppliedChanges *string  `json:"ai_applied_changes,omitempty" db:"ai_applied_changes"`
	AISuggestions    *string  `json:"ai_suggestions,omitempty" db:"ai_suggestions"`
	OriginalText     *string  `json:"original_text,omitempty" db:"original_text"`
	OriginalTags     *string  `json:"original_tags,omitempty" db:"original_tags"`
	ReprocessCount   int      `json:"reprocess_count" db:"reprocess_count"`
	Created          int64    `json:"created" db:"created"`
	Updated          int64    `json:"updated" db:"updated"`
}

// HasTag reports whether the thought carries the given tag.
func (t *Thought) HasTag(tag string) bool {
	for _, tg := range t.Tags {
		if tg == tag {
			return true
		}
	}
	return false
}

// HistoryEntry is an immutable record appended on every completed run or revert.
type HistoryEntry struct {
	ID             int64   `json:"id" db:"id"`
	ThoughtID      int64   `json:"thought_id" db:"thought_id"`
	UserID         int64   `json:"user_id" db:"user_id"`
	Trigger        string  `json:"trigger" db:"trigger_kind"`
	Status         string  `json:"status" db:"status"`
	ChangesApplied int     `json:"changes_applied" db:"changes_applied"`
	Suggestions    int     `json:"suggestions" db:"suggestions"`
	TokensUsed     int     `json:"tokens_used" db:"tokens_used"`
	UndoneChanges  *string `json:"undone_changes,omitempty" db:"undone_changes"`
	Created        int64   `json:"created" db:"created"`
}

// Job is one queued/execute-once request to process a thought. The job record
// is authoritative for "is work in flight" on its thought.
type Job struct {
	ID          int64    `json:"id" db:"id"`
	UserID      int64    `json:"user_id" db:"user_id"`
	ThoughtID   int64    `json:"thought_id" db:"thought_id"`
	Trigger     string   `json:"trigger" db:"trigger_kind"`
	Status      string   `json:"status" db:"status"`
	ToolSpecIDs []string `json:"tool_spec_ids" db:"tool_spec_ids"`
	Attempts    int      `json:"attempts" db:"attempts"`
	Error       string   `json:"error,omitempty" db:"error"`
	RequestedBy string   `json:"requested_by,omitempty" db:"requested_by"`
	// Override records that the operator override key authorized this job
	// at enqueue; the dispatch-time re-check honors it.
	Override bool `json:"override,omitempty" db:"override"`
	RequestedAt int64    `json:"requested_at" db:"requested_at"`
	StartedAt   *int64   `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *int64   `json:"completed_at,omitempty" db:"completed_at"`
}

// AnonSession is the opt-in record an anonymous user must hold before AI
// processing is permitted.
type AnonSession struct {
	UserID         int64  `json:"user_id" db:"user_id"`
	Token          string `json:"token" db:"token"`
	AllowAI        bool   `json:"allow_ai" db:"allow_ai"`
	Status         string `json:"status" db:"status"`
	CleanupPending bool   `json:"cleanup_pending" db:"cleanup_pending"`
	ExpiresAt      int64  `json:"expires_at" db:"expires_at"`
	Created        int64  `json:"created" db:"created"`
}

// SubscriptionSnapshot is the billing collaborator's view of a user. Read-only
// to this core.
type SubscriptionSnapshot struct {
	UserID             int64  `json:"user_id" db:"user_id"`
	Tier               string `json:"tier" db:"tier"`
	Status             string `json:"status" db:"status"`
	AIProcessing       *bool  `json:"ai_processing,omitempty" db:"ai_processing"`
	AICreditsRemaining *int   `json:"ai_credits_remaining,omitempty" db:"ai_credits_remaining"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end" db:"cancel_at_period_end"`
	PeriodEnd          *int64 `json:"period_end,omitempty" db:"period_end"`
	Updated            int64  `json:"updated" db:"updated"`
}

// CallLog is one best-effort record of a full LLM interaction.
type CallLog struct {
	ID         int64  `json:"id" db:"id"`
	UserID     int64  `json:"user_id" db:"user_id"`
	ThoughtID  int64  `json:"thought_id" db:"thought_id"`
	JobID      int64  `json:"job_id" db:"job_id"`
	Prompt     string `json:"prompt" db:"prompt"`
	Response   string `json:"response" db:"response"`
	Actions    string `json:"actions" db:"actions"`
	TokensUsed int    `json:"tokens_used" db:"tokens_used"`
	Error      string `json:"error,omitempty" db:"error"`
	Created    int64  `json:"created" db:"created"`
}
