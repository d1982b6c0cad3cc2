package mock

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/ruminate-app/backend/internal/models"
	"github.com/ruminate-app/backend/pkg/repository"
)

// Store is an in-memory implementation of every repository interface, used by
// tests. All methods take the same mutex, so multi-step operations like
// CreateIfAbsent are atomic exactly like their sqlite counterparts.
type Store struct {
	mu sync.Mutex

	Users       map[int64]*models.User
	Thoughts    map[int64]*models.Thought
	Jobs        map[int64]*models.Job
	History     []models.HistoryEntry
	Sessions    map[int64]*models.AnonSession
	Snapshots   map[int64]*models.SubscriptionSnapshot
	Enrollments map[int64][]string
	CallLogs    []models.CallLog

	LastProcessed map[int64]int64
	Daily         map[string]int

	// Err, when set, is returned by every method; lets tests simulate
	// storage failures.
	Err error

	// SubscriptionReads counts GetSnapshot calls for cache tests.
	SubscriptionReads int

	// CallLogErr fails only AppendCallLog, to exercise best-effort logging.
	CallLogErr error

	// ThoughtWriteErr fails only UpdateThoughtWithHistory, to exercise the
	// atomicity of the combined write.
	ThoughtWriteErr error

	nextID int64
}

var _ repository.UserRepo = (*Store)(nil)
var _ repository.ThoughtRepo = (*Store)(nil)
var _ repository.JobRepo = (*Store)(nil)
var _ repository.HistoryRepo = (*Store)(nil)
var _ repository.RateLimitRepo = (*Store)(nil)
var _ repository.SessionRepo = (*Store)(nil)
var _ repository.SubscriptionRepo = (*Store)(nil)
var _ repository.EnrollmentRepo = (*Store)(nil)
var _ repository.CallLogRepo = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		Users:         make(map[int64]*models.User),
		Thoughts:      make(map[int64]*models.Thought),
		Jobs:          make(map[int64]*models.Job),
		Sessions:      make(map[int64]*models.AnonSession),
		Snapshots:     make(map[int64]*models.SubscriptionSnapshot),
		Enrollments:   make(map[int64][]string),
		LastProcessed: make(map[int64]int64),
		Daily:         make(map[string]int),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func dayKey(userID int64, day string) string {
	return day + "/" + strconv.FormatInt(userID, 10)
}

// --- UserRepo

func (s *Store) CreateUser(ctx context.Context, u *models.User) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	cp := *u
	cp.ID = s.id()
	s.Users[cp.ID] = &cp
	return cp.ID, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if u, ok := s.Users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, u := range s.Users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// --- ThoughtRepo

func (s *Store) CreateThought(ctx context.Context, t *models.Thought) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	cp := *t
	cp.ID = s.id()
	if cp.Tags == nil {
		cp.Tags = []string{}
	}
	s.Thoughts[cp.ID] = &cp
	return cp.ID, nil
}

func (s *Store) GetThought(ctx context.Context, userID, id int64) (*models.Thought, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	t, ok := s.Thoughts[id]
	if !ok || t.UserID != userID {
		return nil, nil
	}
	cp := *t
	cp.Tags = append([]string(nil), t.Tags...)
	return &cp, nil
}

func (s *Store) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Thought, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []models.Thought
	for _, t := range s.Thoughts {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateThought(ctx context.Context, t *models.Thought) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	cp := *t
	cp.Tags = append([]string(nil), t.Tags...)
	s.Thoughts[t.ID] = &cp
	return nil
}

func (s *Store) UpdateThoughtWithHistory(ctx context.Context, t *models.Thought, e *models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.ThoughtWriteErr != nil {
		return s.ThoughtWriteErr
	}
	cp := *t
	cp.Tags = append([]string(nil), t.Tags...)
	s.Thoughts[t.ID] = &cp
	he := *e
	he.ID = s.id()
	s.History = append(s.History, he)
	return nil
}

func (s *Store) SetAIStatus(ctx context.Context, id int64, status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if t, ok := s.Thoughts[id]; ok {
		t.AIStatus = status
		t.AIError = errMsg
	}
	return nil
}

// --- JobRepo

func (s *Store) CreateIfAbsent(ctx context.Context, j *models.Job) (*models.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, false, s.Err
	}
	for _, existing := range s.Jobs {
		if existing.ThoughtID == j.ThoughtID && (existing.Status == models.JobQueued || existing.Status == models.JobProcessing) {
			cp := *existing
			return &cp, false, nil
		}
	}
	cp := *j
	cp.ID = s.id()
	cp.Status = models.JobQueued
	s.Jobs[cp.ID] = &cp
	if t, ok := s.Thoughts[j.ThoughtID]; ok {
		t.AIStatus = models.StatusPending
		t.AIError = ""
	}
	out := cp
	return &out, true, nil
}

func (s *Store) GetJob(ctx context.Context, userID, id int64) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	j, ok := s.Jobs[id]
	if !ok || j.UserID != userID {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *Store) FindInFlight(ctx context.Context, thoughtID int64) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, j := range s.Jobs {
		if j.ThoughtID == thoughtID && (j.Status == models.JobQueued || j.Status == models.JobProcessing) {
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) Claim(ctx context.Context, id int64, startedAt int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	j, ok := s.Jobs[id]
	if !ok || j.Status != models.JobQueued {
		return false, nil
	}
	j.Status = models.JobProcessing
	j.StartedAt = &startedAt
	j.Attempts++
	return true, nil
}

func (s *Store) Finish(ctx context.Context, id int64, status, errMsg string, completedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if j, ok := s.Jobs[id]; ok {
		j.Status = status
		j.Error = errMsg
		j.CompletedAt = &completedAt
	}
	return nil
}

func (s *Store) NextQueued(ctx context.Context) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var oldest *models.Job
	for _, j := range s.Jobs {
		if j.Status != models.JobQueued {
			continue
		}
		if oldest == nil || j.ID < oldest.ID {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}
	cp := *oldest
	return &cp, nil
}

// --- HistoryRepo

func (s *Store) AppendHistory(ctx context.Context, e *models.HistoryEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	cp := *e
	cp.ID = s.id()
	s.History = append(s.History, cp)
	return cp.ID, nil
}

func (s *Store) ListByThought(ctx context.Context, thoughtID int64) ([]models.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []models.HistoryEntry
	for _, e := range s.History {
		if e.ThoughtID == thoughtID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- RateLimitRepo

func (s *Store) ReserveInterval(ctx context.Context, userID, nowMillis, minIntervalMillis int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	if last, ok := s.LastProcessed[userID]; ok && nowMillis-last < minIntervalMillis {
		return false, nil
	}
	s.LastProcessed[userID] = nowMillis
	return true, nil
}

func (s *Store) DailyCount(ctx context.Context, userID int64, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	return s.Daily[dayKey(userID, day)], nil
}

func (s *Store) IncrementDaily(ctx context.Context, userID int64, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Daily[dayKey(userID, day)]++
	return nil
}

// --- SessionRepo

func (s *Store) GetSession(ctx context.Context, userID int64) (*models.AnonSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if sess, ok := s.Sessions[userID]; ok {
		cp := *sess
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *models.AnonSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	cp := *sess
	s.Sessions[sess.UserID] = &cp
	return nil
}

func (s *Store) MarkSession(ctx context.Context, userID int64, status string, cleanupPending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	sess, ok := s.Sessions[userID]
	if !ok {
		sess = &models.AnonSession{UserID: userID}
		s.Sessions[userID] = sess
	}
	sess.Status = status
	sess.CleanupPending = cleanupPending
	return nil
}

// --- SubscriptionRepo

func (s *Store) GetSnapshot(ctx context.Context, userID int64) (*models.SubscriptionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	s.SubscriptionReads++
	if snap, ok := s.Snapshots[userID]; ok {
		cp := *snap
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) UpsertSnapshot(ctx context.Context, snap *models.SubscriptionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	cp := *snap
	s.Snapshots[snap.UserID] = &cp
	return nil
}

// --- EnrollmentRepo

func (s *Store) EnrolledSpecIDs(ctx context.Context, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]string(nil), s.Enrollments[userID]...), nil
}

func (s *Store) Enroll(ctx context.Context, userID int64, specID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, id := range s.Enrollments[userID] {
		if id == specID {
			return nil
		}
	}
	s.Enrollments[userID] = append(s.Enrollments[userID], specID)
	return nil
}

// --- CallLogRepo

func (s *Store) AppendCallLog(ctx context.Context, l *models.CallLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	if s.CallLogErr != nil {
		return 0, s.CallLogErr
	}
	cp := *l
	cp.ID = s.id()
	s.CallLogs = append(s.CallLogs, cp)
	return cp.ID, nil
}

func (s *Store) ListCallLogs(ctx context.Context, userID int64, limit int) ([]models.CallLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []models.CallLog
	for i := len(s.CallLogs) - 1; i >= 0; i-- {
		if s.CallLogs[i].UserID == userID {
			out = append(out, s.CallLogs[i])
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
