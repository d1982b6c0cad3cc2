package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"log/slog"

	"github.com/ruminate-app/backend/internal/models"
	"github.com/ruminate-app/backend/pkg/repository"
)

// Reverter restores a thought's pre-processing snapshot and records what was
// undone. Usable standalone or as a prelude to a reprocess.
type Reverter struct {
	thoughts repository.ThoughtRepo
	logger   *slog.Logger
}

func NewReverter(thoughts repository.ThoughtRepo, logger *slog.Logger) *Reverter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reverter{thoughts: thoughts, logger: logger}
}

// Revert restores text/tags from the saved originals and clears every AI
// field. A thought with no applied changes is rejected, not silently
// accepted.
func (r *Reverter) Revert(ctx context.Context, userID, thoughtID int64) (*models.Thought, error) {
	t, err := r.thoughts.GetThought(ctx, userID, thoughtID)
	if err != nil {
		return nil, fmt.Errorf("load thought: %w", err)
	}
	if t == nil {
		return nil, E(CodeNotFound, "thought %d not found", thoughtID)
	}
	if t.AIAppliedChanges == nil {
		return nil, E(CodeFailedPrecondition, "thought has no applied changes to revert")
	}

	undone := *t.AIAppliedChanges

	if t.OriginalText != nil {
		t.Text = *t.OriginalText
	}
	if t.OriginalTags != nil {
		var tags []string
		if err := json.Unmarshal([]byte(*t.OriginalTags), &tags); err == nil {
			t.Tags = tags
		}
	}
	t.AIStatus = ""
	t.AIError = ""
	t.AIAppliedChanges = nil
	t.AISuggestions = nil
	t.OriginalText = nil
	t.OriginalTags = nil

	entry := &models.HistoryEntry{
		ThoughtID:     t.ID,
		UserID:        t.UserID,
		Trigger:       models.TriggerRevert,
		Status:        "reverted",
		UndoneChanges: &undone,
	}
	if err := r.thoughts.UpdateThoughtWithHistory(ctx, t, entry); err != nil {
		return nil, fmt.Errorf("write reverted thought: %w", err)
	}

	r.logger.Info("thought reverted", "thought_id", t.ID, "user_id", userID)
	return t, nil
}

// HasAppliedChanges reports whether a revert would succeed, letting callers
// implement revert-first reprocessing without treating "nothing to revert" as
// an error.
func (r *Reverter) HasAppliedChanges(ctx context.Context, userID, thoughtID int64) (bool, error) {
	t, err := r.thoughts.GetThought(ctx, userID, thoughtID)
	if err != nil {
		return false, err
	}
	return t != nil && t.AIAppliedChanges != nil, nil
}
