package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/mux"
	"github.com/ruminate-app/backend/internal/models"
	"github.com/ruminate-app/backend/internal/queue"
	"github.com/ruminate-app/backend/pkg/repository"
)

type ThoughtsHandler struct {
	thoughtRepo repository.ThoughtRepo
	historyRepo repository.HistoryRepo
	enqueuer    *queue.Enqueuer
}

func NewThoughtsHandler(tr repository.ThoughtRepo, hr repository.HistoryRepo, enq *queue.Enqueuer) *ThoughtsHandler {
	return &ThoughtsHandler{thoughtRepo: tr, historyRepo: hr, enqueuer: enq}
}

type postThoughtRequest struct {
	Text   string   `json:"text"`
	Tags   []string `json:"tags,omitempty"`
	Source string   `json:"source,omitempty"`
}

type postThoughtResponse struct {
	ID       int64  `json:"id"`
	AIStatus string `json:"ai_status,omitempty"`
}

// CreateThought stores the note and kicks off automatic processing. A refused
// enqueue (rate limit, entitlement, no enrollment) never fails the create.
func (h *ThoughtsHandler) CreateThought(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	if userID == 0 {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	var req postThoughtRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		http.Error(w, "missing fields", http.StatusBadRequest)
		return
	}
	if len(req.Text) > 10000 {
		http.Error(w, "thought too long", http.StatusBadRequest)
		return
	}

	now := time.Now().UnixMilli()
	t := &models.Thought{
		UserID:  userID,
		Text:    req.Text,
		Tags:    req.Tags,
		Source:  req.Source,
		Created: now,
		Updated: now,
	}
	id, err := h.thoughtRepo.CreateThought(r.Context(), t)
	if err != nil {
		http.Error(w, "failed to store thought", http.StatusInternalServerError)
		return
	}

	resp := postThoughtResponse{ID: id}
	if _, err := h.enqueuer.Enqueue(r.Context(), userID, id, models.TriggerAuto, queue.EnqueueOptions{RequestedBy: "create"}); err != nil {
		logger.Warn("auto enqueue refused", slog.Int64("thought_id", id), slog.Any("err", err))
	} else {
		resp.AIStatus = models.StatusPending
	}

	writeJSON(w, resp, http.StatusCreated)
}

func (h *ThoughtsHandler) ListThoughts(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	if userID == 0 {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	limit := 50
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	offset := 0
	if o := q.Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	thoughts, err := h.thoughtRepo.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		http.Error(w, "failed to list thoughts", http.StatusInternalServerError)
		return
	}
	if thoughts == nil {
		thoughts = []models.Thought{}
	}

	resp := map[string]any{
		"limit":  limit,
		"offset": offset,
		"items":  thoughts,
	}
	writeJSON(w, resp, http.StatusOK)
}

func (h *ThoughtsHandler) GetThought(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	thoughtID := pathID(r)
	if userID == 0 || thoughtID == 0 {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	t, err := h.thoughtRepo.GetThought(r.Context(), userID, thoughtID)
	if err != nil {
		http.Error(w, "failed to load thought", http.StatusInternalServerError)
		return
	}
	if t == nil {
		http.Error(w, "thought not found", http.StatusNotFound)
		return
	}
	writeJSON(w, t, http.StatusOK)
}

// GetHistory returns the thought's processing history, oldest first.
func (h *ThoughtsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	thoughtID := pathID(r)
	if userID == 0 || thoughtID == 0 {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	t, err := h.thoughtRepo.GetThought(r.Context(), userID, thoughtID)
	if err != nil {
		http.Error(w, "failed to load thought", http.StatusInternalServerError)
		return
	}
	if t == nil {
		http.Error(w, "thought not found", http.StatusNotFound)
		return
	}

	entries, err := h.historyRepo.ListByThought(r.Context(), thoughtID)
	if err != nil {
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	writeJSON(w, entries, http.StatusOK)
}

// pathID extracts the {id} route variable, returning 0 when absent or bad.
func pathID(r *http.Request) int64 {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
