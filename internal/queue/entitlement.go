package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/ruminate-app/backend/internal/models"
	"github.com/ruminate-app/backend/pkg/repository"
)

// Denial reason codes returned by the entitlement gate.
const (
	ReasonDisabled       = "disabled"
	ReasonExhausted      = "exhausted"
	ReasonTierMismatch   = "tier-mismatch"
	ReasonInactive       = "inactive"
	ReasonNoRecord       = "no-record"
	ReasonNoSession      = "no-session"
	ReasonNotAllowed     = "not-allowed"
	ReasonCleanupPending = "cleanup-pending"
	ReasonExpired        = "expired"
)

var denialMessages = map[string]string{
	ReasonDisabled:       "AI processing is disabled on your plan",
	ReasonExhausted:      "you have used all of your AI credits",
	ReasonTierMismatch:   "your plan does not include AI processing",
	ReasonInactive:       "your subscription is not active",
	ReasonNoRecord:       "no subscription found for your account",
	ReasonNoSession:      "no session found",
	ReasonNotAllowed:     "AI processing was not enabled for this session",
	ReasonCleanupPending: "this session is scheduled for cleanup",
	ReasonExpired:        "this session has expired",
}

// Decision is the outcome of an entitlement check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	// Overridden is set when the operator override key was what authorized
	// the request; callers persist it so later re-checks honor it.
	Overridden bool `json:"-"`
}

func deny(reason string) Decision {
	return Decision{Reason: reason, Message: denialMessages[reason]}
}

// Err converts a denial into the typed error the enqueue boundary surfaces.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return EReason(CodePermissionDenied, d.Reason, "%s", d.Message)
}

// SnapshotCache caches subscription snapshots per user. Injected so tests can
// swap or disable it.
type SnapshotCache interface {
	Get(userID int64) (*models.SubscriptionSnapshot, bool)
	Put(userID int64, s *models.SubscriptionSnapshot)
}

type ttlEntry struct {
	snapshot *models.SubscriptionSnapshot
	expires  time.Time
}

// TTLSnapshotCache is the default SnapshotCache: entries are invalidated only
// by expiry, never explicitly.
type TTLSnapshotCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[int64]ttlEntry
	nowFn   func() time.Time
}

func NewTTLSnapshotCache(ttl time.Duration) *TTLSnapshotCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &TTLSnapshotCache{ttl: ttl, entries: make(map[int64]ttlEntry), nowFn: time.Now}
}

func (c *TTLSnapshotCache) Get(userID int64) (*models.SubscriptionSnapshot, bool) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok || c.nowFn().After(e.expires) {
		return nil, false
	}
	return e.snapshot, true
}

func (c *TTLSnapshotCache) Put(userID int64, s *models.SubscriptionSnapshot) {
	c.mu.Lock()
	c.entries[userID] = ttlEntry{snapshot: s, expires: c.nowFn().Add(c.ttl)}
	c.mu.Unlock()
}

// nopCache disables caching; used by tests that need fresh reads.
type nopCache struct{}

func (nopCache) Get(int64) (*models.SubscriptionSnapshot, bool) { return nil, false }
func (nopCache) Put(int64, *models.SubscriptionSnapshot)        {}

// NopSnapshotCache returns a cache that never hits.
func NopSnapshotCache() SnapshotCache { return nopCache{} }

// Gate decides whether AI processing is currently permitted for a user. Its
// only side effect is marking an anonymous session on denial; it never
// touches thoughts or jobs.
type Gate struct {
	users       repository.UserRepo
	subs        repository.SubscriptionRepo
	sessions    repository.SessionRepo
	cache       SnapshotCache
	overrideKey string
	logger      *slog.Logger
	nowFn       func() time.Time
}

func NewGate(users repository.UserRepo, subs repository.SubscriptionRepo, sessions repository.SessionRepo, cache SnapshotCache, overrideKey string, logger *slog.Logger) *Gate {
	if cache == nil {
		cache = NewTTLSnapshotCache(60 * time.Second)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		users:       users,
		subs:        subs,
		sessions:    sessions,
		cache:       cache,
		overrideKey: overrideKey,
		logger:      logger,
		nowFn:       time.Now,
	}
}

// IsAllowed evaluates the entitlement for userID. callerKey is the operator
// override key supplied with the request, if any.
func (g *Gate) IsAllowed(ctx context.Context, userID int64, callerKey string) (Decision, error) {
	return g.isAllowed(ctx, userID, g.overrideKey != "" && callerKey == g.overrideKey)
}

// IsAllowedOverridden re-evaluates the entitlement for a request whose
// override authorization was already validated and persisted at enqueue.
func (g *Gate) IsAllowedOverridden(ctx context.Context, userID int64, overridden bool) (Decision, error) {
	return g.isAllowed(ctx, userID, overridden)
}

func (g *Gate) isAllowed(ctx context.Context, userID int64, overridden bool) (Decision, error) {
	u, err := g.users.GetByID(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("load user: %w", err)
	}
	if u == nil {
		return deny(ReasonNoRecord), nil
	}
	if u.Anonymous {
		return g.checkSession(ctx, userID, overridden)
	}
	return g.checkSubscription(ctx, userID)
}

func (g *Gate) checkSubscription(ctx context.Context, userID int64) (Decision, error) {
	snap, ok := g.cache.Get(userID)
	if !ok {
		var err error
		snap, err = g.subs.GetSnapshot(ctx, userID)
		if err != nil {
			return Decision{}, fmt.Errorf("load subscription: %w", err)
		}
		g.cache.Put(userID, snap)
	}

	if snap == nil {
		return deny(ReasonNoRecord), nil
	}

	// the explicit entitlement flag wins in both directions
	if snap.AIProcessing != nil {
		if *snap.AIProcessing {
			return Decision{Allowed: true}, nil
		}
		return deny(ReasonDisabled), nil
	}

	if snap.AICreditsRemaining != nil {
		if *snap.AICreditsRemaining > 0 {
			return Decision{Allowed: true}, nil
		}
		return deny(ReasonExhausted), nil
	}

	if snap.Tier != "pro" {
		return deny(ReasonTierMismatch), nil
	}
	switch snap.Status {
	case "active", "trialing", "past_due":
	default:
		return deny(ReasonInactive), nil
	}
	if snap.CancelAtPeriodEnd {
		if snap.PeriodEnd == nil || g.nowFn().UnixMilli() >= *snap.PeriodEnd {
			return deny(ReasonInactive), nil
		}
	}
	return Decision{Allowed: true}, nil
}

func (g *Gate) checkSession(ctx context.Context, userID int64, overridden bool) (Decision, error) {
	s, err := g.sessions.GetSession(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("load session: %w", err)
	}

	block := func(reason string) (Decision, error) {
		if merr := g.sessions.MarkSession(ctx, userID, models.StatusBlocked, true); merr != nil {
			g.logger.Warn("mark session blocked", "user_id", userID, "err", merr)
		}
		return deny(reason), nil
	}

	if s == nil {
		return block(ReasonNoSession)
	}
	if !s.AllowAI && !overridden {
		return block(ReasonNotAllowed)
	}
	if s.CleanupPending {
		return block(ReasonCleanupPending)
	}
	if g.nowFn().UnixMilli() >= s.ExpiresAt {
		if merr := g.sessions.MarkSession(ctx, userID, "expired", true); merr != nil {
			g.logger.Warn("mark session expired", "user_id", userID, "err", merr)
		}
		return deny(ReasonExpired), nil
	}
	return Decision{Allowed: true, Overridden: overridden && !s.AllowAI}, nil
}
