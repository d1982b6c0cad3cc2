package queue

import (
	"context"
	"testing"
	"time"

	"github.com/ruminate-app/backend/internal/models"
	"github.com/ruminate-app/backend/pkg/repository/mock"
)

func boolPtr(b bool) *bool    { return &b }
func intPtr(i int) *int       { return &i }
func int64Ptr(i int64) *int64 { return &i }

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestGate(store *mock.Store, overrideKey string) *Gate {
	g := NewGate(store, store, store, NopSnapshotCache(), overrideKey, testLogger())
	g.nowFn = func() time.Time { return testNow }
	return g
}

func TestGateSubscriptionMatrix(t *testing.T) {
	tests := []struct {
		name       string
		snapshot   *models.SubscriptionSnapshot
		allowed    bool
		wantReason string
	}{
		{
			name:       "no snapshot",
			snapshot:   nil,
			wantReason: ReasonNoRecord,
		},
		{
			name:     "explicit flag enabled on free tier",
			snapshot: &models.SubscriptionSnapshot{Tier: "free", Status: "none", AIProcessing: boolPtr(true)},
			allowed:  true,
		},
		{
			name:       "explicit flag disabled beats active pro",
			snapshot:   &models.SubscriptionSnapshot{Tier: "pro", Status: "active", AIProcessing: boolPtr(false)},
			wantReason: ReasonDisabled,
		},
		{
			name:     "credits remaining",
			snapshot: &models.SubscriptionSnapshot{Tier: "free", Status: "none", AICreditsRemaining: intPtr(3)},
			allowed:  true,
		},
		{
			name:       "credits exhausted",
			snapshot:   &models.SubscriptionSnapshot{Tier: "pro", Status: "active", AICreditsRemaining: intPtr(0)},
			wantReason: ReasonExhausted,
		},
		{
			name:     "pro active",
			snapshot: &models.SubscriptionSnapshot{Tier: "pro", Status: "active"},
			allowed:  true,
		},
		{
			name:     "pro trialing",
			snapshot: &models.SubscriptionSnapshot{Tier: "pro", Status: "trialing"},
			allowed:  true,
		},
		{
			name:     "pro past due keeps access",
			snapshot: &models.SubscriptionSnapshot{Tier: "pro", Status: "past_due"},
			allowed:  true,
		},
		{
			name:       "free tier",
			snapshot:   &models.SubscriptionSnapshot{Tier: "free", Status: "active"},
			wantReason: ReasonTierMismatch,
		},
		{
			name:       "pro canceled",
			snapshot:   &models.SubscriptionSnapshot{Tier: "pro", Status: "canceled"},
			wantReason: ReasonInactive,
		},
		{
			name: "cancel at period end, period still running",
			snapshot: &models.SubscriptionSnapshot{
				Tier: "pro", Status: "active",
				CancelAtPeriodEnd: true,
				PeriodEnd:         int64Ptr(testNow.Add(time.Hour).UnixMilli()),
			},
			allowed: true,
		},
		{
			name: "cancel at period end, period over",
			snapshot: &models.SubscriptionSnapshot{
				Tier: "pro", Status: "active",
				CancelAtPeriodEnd: true,
				PeriodEnd:         int64Ptr(testNow.Add(-time.Hour).UnixMilli()),
			},
			wantReason: ReasonInactive,
		},
		{
			name: "cancel at period end with no period end",
			snapshot: &models.SubscriptionSnapshot{
				Tier: "pro", Status: "active",
				CancelAtPeriodEnd: true,
			},
			wantReason: ReasonInactive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mock.NewStore()
			userID, err := store.CreateUser(context.Background(), &models.User{Email: "a@b.c"})
			if err != nil {
				t.Fatalf("create user: %v", err)
			}
			if tt.snapshot != nil {
				snap := *tt.snapshot
				snap.UserID = userID
				if err := store.UpsertSnapshot(context.Background(), &snap); err != nil {
					t.Fatalf("upsert snapshot: %v", err)
				}
			}

			gate := newTestGate(store, "")
			dec, err := gate.IsAllowed(context.Background(), userID, "")
			if err != nil {
				t.Fatalf("IsAllowed: %v", err)
			}
			if dec.Allowed != tt.allowed {
				t.Fatalf("allowed = %v, want %v (reason %q)", dec.Allowed, tt.allowed, dec.Reason)
			}
			if dec.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", dec.Reason, tt.wantReason)
			}
			if !dec.Allowed && dec.Message == "" {
				t.Error("denial carries no message")
			}
		})
	}
}

func TestGateUnknownUser(t *testing.T) {
	store := mock.NewStore()
	gate := newTestGate(store, "")

	dec, err := gate.IsAllowed(context.Background(), 999, "")
	if err != nil {
		t.Fatalf("IsAllowed: %v", err)
	}
	if dec.Allowed {
		t.Fatal("unknown user was allowed")
	}
	if dec.Reason != ReasonNoRecord {
		t.Errorf("reason = %q, want %q", dec.Reason, ReasonNoRecord)
	}
}

func TestGateAnonSessions(t *testing.T) {
	tests := []struct {
		name        string
		session     *models.AnonSession
		callerKey   string
		overrideKey string
		allowed     bool
		overridden  bool
		wantReason  string
		wantMarked  bool
	}{
		{
			name:       "no session",
			session:    nil,
			wantReason: ReasonNoSession,
			wantMarked: true,
		},
		{
			name:       "opted out",
			session:    &models.AnonSession{AllowAI: false, ExpiresAt: testNow.Add(time.Hour).UnixMilli()},
			wantReason: ReasonNotAllowed,
			wantMarked: true,
		},
		{
			name:        "opted out with override key",
			session:     &models.AnonSession{AllowAI: false, ExpiresAt: testNow.Add(time.Hour).UnixMilli()},
			callerKey:   "let-me-in",
			overrideKey: "let-me-in",
			allowed:     true,
			overridden:  true,
		},
		{
			name:        "opted out with wrong key",
			session:     &models.AnonSession{AllowAI: false, ExpiresAt: testNow.Add(time.Hour).UnixMilli()},
			callerKey:   "wrong",
			overrideKey: "let-me-in",
			wantReason:  ReasonNotAllowed,
			wantMarked:  true,
		},
		{
			name:       "cleanup pending",
			session:    &models.AnonSession{AllowAI: true, CleanupPending: true, ExpiresAt: testNow.Add(time.Hour).UnixMilli()},
			wantReason: ReasonCleanupPending,
			wantMarked: true,
		},
		{
			name:       "expired",
			session:    &models.AnonSession{AllowAI: true, ExpiresAt: testNow.Add(-time.Minute).UnixMilli()},
			wantReason: ReasonExpired,
			wantMarked: true,
		},
		{
			name:    "valid opted-in session",
			session: &models.AnonSession{AllowAI: true, ExpiresAt: testNow.Add(time.Hour).UnixMilli()},
			allowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mock.NewStore()
			userID, err := store.CreateUser(context.Background(), &models.User{Anonymous: true})
			if err != nil {
				t.Fatalf("create user: %v", err)
			}
			if tt.session != nil {
				sess := *tt.session
				sess.UserID = userID
				if err := store.CreateSession(context.Background(), &sess); err != nil {
					t.Fatalf("create session: %v", err)
				}
			}

			gate := newTestGate(store, tt.overrideKey)
			dec, err := gate.IsAllowed(context.Background(), userID, tt.callerKey)
			if err != nil {
				t.Fatalf("IsAllowed: %v", err)
			}
			if dec.Allowed != tt.allowed {
				t.Fatalf("allowed = %v, want %v (reason %q)", dec.Allowed, tt.allowed, dec.Reason)
			}
			if dec.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", dec.Reason, tt.wantReason)
			}
			if dec.Overridden != tt.overridden {
				t.Errorf("overridden = %v, want %v", dec.Overridden, tt.overridden)
			}

			// a persisted override authorization must survive a re-check
			// without the key
			if tt.allowed {
				redec, err := gate.IsAllowedOverridden(context.Background(), userID, dec.Overridden)
				if err != nil {
					t.Fatalf("IsAllowedOverridden: %v", err)
				}
				if !redec.Allowed {
					t.Errorf("re-check denied an authorized request: %q", redec.Reason)
				}
			}

			sess, _ := store.GetSession(context.Background(), userID)
			if tt.wantMarked {
				if sess == nil || !sess.CleanupPending {
					t.Error("denied session was not marked cleanup_pending")
				}
			} else if tt.session != nil && sess.CleanupPending != tt.session.CleanupPending {
				t.Error("allowed session was marked")
			}
		})
	}
}

func TestSnapshotCacheTTL(t *testing.T) {
	now := testNow
	cache := NewTTLSnapshotCache(60 * time.Second)
	cache.nowFn = func() time.Time { return now }

	store := mock.NewStore()
	userID, _ := store.CreateUser(context.Background(), &models.User{Email: "a@b.c"})
	snap := &models.SubscriptionSnapshot{UserID: userID, Tier: "pro", Status: "active"}
	if err := store.UpsertSnapshot(context.Background(), snap); err != nil {
		t.Fatalf("upsert snapshot: %v", err)
	}

	gate := NewGate(store, store, store, cache, "", testLogger())
	gate.nowFn = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		dec, err := gate.IsAllowed(context.Background(), userID, "")
		if err != nil || !dec.Allowed {
			t.Fatalf("check %d: allowed=%v err=%v", i, dec.Allowed, err)
		}
	}
	if store.SubscriptionReads != 1 {
		t.Fatalf("snapshot reads = %d, want 1 (cache miss only)", store.SubscriptionReads)
	}

	// a billing change during the TTL window is not observed
	snap2 := &models.SubscriptionSnapshot{UserID: userID, Tier: "free", Status: "active"}
	if err := store.UpsertSnapshot(context.Background(), snap2); err != nil {
		t.Fatalf("upsert snapshot: %v", err)
	}
	dec, err := gate.IsAllowed(context.Background(), userID, "")
	if err != nil || !dec.Allowed {
		t.Fatalf("within TTL: allowed=%v err=%v", dec.Allowed, err)
	}

	// after expiry the next check reloads and sees the downgrade
	now = now.Add(61 * time.Second)
	dec, err = gate.IsAllowed(context.Background(), userID, "")
	if err != nil {
		t.Fatalf("after TTL: %v", err)
	}
	if dec.Allowed {
		t.Fatal("stale entitlement survived cache expiry")
	}
	if store.SubscriptionReads != 2 {
		t.Errorf("snapshot reads = %d, want 2", store.SubscriptionReads)
	}
}

func TestDecisionErr(t *testing.T) {
	if err := (Decision{Allowed: true}).Err(); err != nil {
		t.Fatalf("allowed decision produced error: %v", err)
	}
	err := deny(ReasonDisabled).Err()
	if !IsCode(err, CodePermissionDenied) {
		t.Fatalf("code = %v, want permission-denied", CodeOf(err))
	}
	var qe *Error
	if !asQueueError(err, &qe) || qe.Reason != ReasonDisabled {
		t.Fatalf("reason not carried through: %v", err)
	}
}
