package ai

import (
	"encoding/json"
	"strings"

	"github.com/ruminate-app/backend/internal/models"
)

// ProcessedActions separates the model's proposals into mutations we will
// apply and suggestions we only surface.
type ProcessedActions struct {
	Mutations   []Action `json:"mutations"`
	Suggestions []string `json:"suggestions"`
	Skipped     []Action `json:"skipped,omitempty"`
}

// ProcessActions validates the proposed actions against the current thought.
// Proposals that would be no-ops (adding an existing tag, removing a missing
// one, rewriting to identical text) are skipped rather than failed.
func ProcessActions(actions []Action, t *models.Thought) ProcessedActions {
	var pa ProcessedActions
	for _, a := range actions {
		value := strings.TrimSpace(a.Value)
		if value == "" {
			pa.Skipped = append(pa.Skipped, a)
			continue
		}
		switch a.Type {
		case ActionAddTag:
			if t.HasTag(value) {
				pa.Skipped = append(pa.Skipped, a)
				continue
			}
			pa.Mutations = append(pa.Mutations, Action{Type: a.Type, Value: value})
		case ActionRemoveTag:
			if !t.HasTag(value) {
				pa.Skipped = append(pa.Skipped, a)
				continue
			}
			pa.Mutations = append(pa.Mutations, Action{Type: a.Type, Value: value})
		case ActionSetText:
			if value == t.Text {
				pa.Skipped = append(pa.Skipped, a)
				continue
			}
			pa.Mutations = append(pa.Mutations, Action{Type: a.Type, Value: value})
		case ActionAppendText:
			pa.Mutations = append(pa.Mutations, Action{Type: a.Type, Value: value})
		case ActionSuggest:
			pa.Suggestions = append(pa.Suggestions, value)
		default:
			pa.Skipped = append(pa.Skipped, a)
		}
	}
	return pa
}

// AppliedChange records one applied mutation for audit and revert.
type AppliedChange struct {
	Type string `json:"type"`
	Old  string `json:"old,omitempty"`
	New  string `json:"new,omitempty"`
}

// ThoughtUpdate is the combined partial update one processing run produces.
type ThoughtUpdate struct {
	Text           string          `json:"text"`
	Tags           []string        `json:"tags"`
	AppliedChanges []AppliedChange `json:"applied_changes"`
	Suggestions    []string        `json:"suggestions"`
}

// BuildThoughtUpdate turns processed actions into the update to write and the
// history entry to append.
func BuildThoughtUpdate(pa ProcessedActions, t *models.Thought, usage TokenUsage, trigger string) (*ThoughtUpdate, *models.HistoryEntry) {
	upd := &ThoughtUpdate{
		Text:        t.Text,
		Tags:        append([]string(nil), t.Tags...),
		Suggestions: pa.Suggestions,
	}

	for _, m := range pa.Mutations {
		switch m.Type {
		case ActionAddTag:
			upd.Tags = append(upd.Tags, m.Value)
			upd.AppliedChanges = append(upd.AppliedChanges, AppliedChange{Type: m.Type, New: m.Value})
		case ActionRemoveTag:
			kept := upd.Tags[:0]
			for _, tag := range upd.Tags {
				if tag != m.Value {
					kept = append(kept, tag)
				}
			}
			upd.Tags = kept
			upd.AppliedChanges = append(upd.AppliedChanges, AppliedChange{Type: m.Type, Old: m.Value})
		case ActionSetText:
			upd.AppliedChanges = append(upd.AppliedChanges, AppliedChange{Type: m.Type, Old: upd.Text, New: m.Value})
			upd.Text = m.Value
		case ActionAppendText:
			old := upd.Text
			upd.Text = strings.TrimRight(upd.Text, "\n") + "\n" + m.Value
			upd.AppliedChanges = append(upd.AppliedChanges, AppliedChange{Type: m.Type, Old: old, New: upd.Text})
		}
	}

	entry := &models.HistoryEntry{
		ThoughtID:      t.ID,
		UserID:         t.UserID,
		Trigger:        trigger,
		Status:         models.StatusCompleted,
		ChangesApplied: len(upd.AppliedChanges),
		Suggestions:    len(upd.Suggestions),
		TokensUsed:     usage.Total(),
	}
	return upd, entry
}

// ApplyTo writes the update onto the thought, capturing the pre-mutation
// snapshot the first time an automated mutation lands.
func (u *ThoughtUpdate) ApplyTo(t *models.Thought) {
	if len(u.AppliedChanges) > 0 && t.OriginalText == nil {
		text := t.Text
		tags, _ := json.Marshal(t.Tags)
		tagsJSON := string(tags)
		t.OriginalText = &text
		t.OriginalTags = &tagsJSON
	}

	t.Text = u.Text
	t.Tags = u.Tags
	t.AIStatus = models.StatusCompleted
	t.AIError = ""
	if len(u.AppliedChanges) > 0 {
		b, _ := json.Marshal(u.AppliedChanges)
		s := string(b)
		t.AIAppliedChanges = &s
	}
	if len(u.Suggestions) > 0 {
		b, _ := json.Marshal(u.Suggestions)
		s := string(b)
		t.AISuggestions = &s
	}
}
