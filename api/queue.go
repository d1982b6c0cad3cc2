package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/ruminate-app/backend/internal/ai"
	"github.com/ruminate-app/backend/internal/models"
	"github.com/ruminate-app/backend/internal/queue"
	"github.com/ruminate-app/backend/pkg/repository"
)

// QueueHandler exposes the processing queue: explicit process/reprocess
// requests, reverts, job status, enrollment and the call log.
type QueueHandler struct {
	enqueuer *queue.Enqueuer
	reverter *queue.Reverter
	jobRepo  repository.JobRepo
	enroll   repository.EnrollmentRepo
	callLogs repository.CallLogRepo
}

func NewQueueHandler(enq *queue.Enqueuer, rev *queue.Reverter, jr repository.JobRepo, er repository.EnrollmentRepo, cr repository.CallLogRepo) *QueueHandler {
	return &QueueHandler{enqueuer: enq, reverter: rev, jobRepo: jr, enroll: er, callLogs: cr}
}

// httpStatus maps queue error codes onto HTTP status codes.
func httpStatus(err error) int {
	switch queue.CodeOf(err) {
	case queue.CodeUnauthenticated:
		return http.StatusUnauthorized
	case queue.CodeInvalidArgument:
		return http.StatusBadRequest
	case queue.CodeNotFound:
		return http.StatusNotFound
	case queue.CodeFailedPrecondition:
		return http.StatusConflict
	case queue.CodePermissionDenied:
		return http.StatusForbidden
	case queue.CodeResourceExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

func writeQueueError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error(), Code: string(queue.CodeOf(err))}
	var qe *queue.Error
	if errors.As(err, &qe) {
		resp.Error = qe.Message
		resp.Reason = qe.Reason
	}
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("queue request failed", slog.Any("err", err))
		resp.Error = "internal error"
	}
	writeJSON(w, resp, status)
}

type processRequest struct {
	ToolSpecIDs    []string `json:"tool_spec_ids,omitempty"`
	AllowProcessed bool     `json:"allow_processed,omitempty"`
	RevertFirst    bool     `json:"revert_first,omitempty"`
	OverrideKey    string   `json:"override_key,omitempty"`
}

func decodeProcessRequest(r *http.Request) processRequest {
	var req processRequest
	if r.Body != nil {
		// an empty body is a plain request with defaults
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	return req
}

// Process enqueues a manual processing run for the thought.
func (h *QueueHandler) Process(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	thoughtID := pathID(r)
	req := decodeProcessRequest(r)

	res, err := h.enqueuer.Enqueue(r.Context(), userID, thoughtID, models.TriggerManual, queue.EnqueueOptions{
		ToolSpecIDs:    req.ToolSpecIDs,
		RequestedBy:    "api",
		AllowProcessed: req.AllowProcessed,
		OverrideKey:    req.OverrideKey,
	})
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, res, http.StatusAccepted)
}

// Reprocess enqueues another run for an already processed thought. With
// revert_first the stored originals are restored before the new run, so its
// changes apply to the user's own text rather than the previous run's output.
func (h *QueueHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	thoughtID := pathID(r)
	req := decodeProcessRequest(r)

	if req.RevertFirst {
		ok, err := h.reverter.HasAppliedChanges(r.Context(), userID, thoughtID)
		if err != nil {
			writeQueueError(w, err)
			return
		}
		if ok {
			if _, err := h.reverter.Revert(r.Context(), userID, thoughtID); err != nil {
				writeQueueError(w, err)
				return
			}
		}
	}

	res, err := h.enqueuer.Enqueue(r.Context(), userID, thoughtID, models.TriggerReprocess, queue.EnqueueOptions{
		ToolSpecIDs:    req.ToolSpecIDs,
		RequestedBy:    "api",
		AllowProcessed: req.AllowProcessed,
		OverrideKey:    req.OverrideKey,
	})
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, res, http.StatusAccepted)
}

// Revert restores the thought's pre-processing snapshot.
func (h *QueueHandler) Revert(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	thoughtID := pathID(r)
	if userID == 0 || thoughtID == 0 {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	t, err := h.reverter.Revert(r.Context(), userID, thoughtID)
	if err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, t, http.StatusOK)
}

// GetJob returns the status of one processing job.
func (h *QueueHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	jobID := pathID(r)
	if userID == 0 || jobID == 0 {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	job, err := h.jobRepo.GetJob(r.Context(), userID, jobID)
	if err != nil {
		http.Error(w, "failed to load job", http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, job, http.StatusOK)
}

type enrollRequest struct {
	SpecID string `json:"spec_id"`
}

// Enroll registers the user for one tool spec.
func (h *QueueHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	if userID == 0 {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SpecID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if _, err := ai.SpecByID(req.SpecID); err != nil {
		http.Error(w, "unknown tool spec", http.StatusBadRequest)
		return
	}

	if err := h.enroll.Enroll(r.Context(), userID, req.SpecID); err != nil {
		http.Error(w, "failed to enroll", http.StatusInternalServerError)
		return
	}

	ids, err := h.enroll.EnrolledSpecIDs(r.Context(), userID)
	if err != nil {
		http.Error(w, "failed to list enrollment", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"enrolled": ids}, http.StatusOK)
}

// ListEnrollment returns the user's enrolled tool spec ids.
func (h *QueueHandler) ListEnrollment(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	if userID == 0 {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	ids, err := h.enroll.EnrolledSpecIDs(r.Context(), userID)
	if err != nil {
		http.Error(w, "failed to list enrollment", http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, map[string]any{"enrolled": ids}, http.StatusOK)
}

// ListCallLogs returns the user's recent LLM call records, newest first.
func (h *QueueHandler) ListCallLogs(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	if userID == 0 {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}

	logs, err := h.callLogs.ListCallLogs(r.Context(), userID, limit)
	if err != nil {
		http.Error(w, "failed to list call logs", http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []models.CallLog{}
	}
	writeJSON(w, logs, http.StatusOK)
}
