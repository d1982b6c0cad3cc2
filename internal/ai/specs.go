package ai

import (
	"fmt"
	"sort"
)

// ToolSpec is a named capability the model is instructed to use when
// extracting actions from a thought.
type ToolSpec struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Instructions string `json:"instructions"`
}

// builtinSpecs is the registry of capabilities this deployment knows about.
// Users only get the ones they are enrolled in.
var builtinSpecs = map[string]ToolSpec{
	"thoughts": {
		ID:           "thoughts",
		Name:         "Thoughts",
		Description:  "Baseline note handling: tagging, cleanup, short suggestions",
		Instructions: "Tidy the note. Add or remove tags when clearly warranted and suggest improvements without rewriting the author's voice.",
	},
	"tasks": {
		ID:           "tasks",
		Name:         "Tasks",
		Description:  "Extract actionable to-dos from the note",
		Instructions: "Identify concrete next actions in the note and surface each as a suggestion prefixed with 'task:'.",
	},
	"goals": {
		ID:           "goals",
		Name:         "Goals",
		Description:  "Link the note to longer-term goals",
		Instructions: "When the note mentions an ambition or outcome, tag it goal-related and suggest a goal entry.",
	},
	"calendar": {
		ID:           "calendar",
		Name:         "Calendar",
		Description:  "Spot dates and scheduling intent",
		Instructions: "Find dates, times and scheduling intent and surface each as a suggestion prefixed with 'event:'.",
	},
	"people": {
		ID:           "people",
		Name:         "People",
		Description:  "Track people mentioned in notes",
		Instructions: "Tag people mentioned by name with a person- tag.",
	},
	"projects": {
		ID:           "projects",
		Name:         "Projects",
		Description:  "Track project references",
		Instructions: "Tag project references with a project- tag.",
	},
	"cbt": {
		ID:           "cbt",
		Name:         "CBT",
		Description:  "Cognitive-reframing prompts for negative self-talk",
		Instructions: "When the note contains negative self-talk, suggest one gentle reframing question. Never modify the text.",
	},
	"packing": {
		ID:           "packing",
		Name:         "Packing",
		Description:  "Extract packing-list items around trips",
		Instructions: "When the note mentions a trip, surface packing items as suggestions prefixed with 'pack:'.",
	},
}

// SpecByID returns the registered spec or an error for unknown ids.
func SpecByID(id string) (ToolSpec, error) {
	s, ok := builtinSpecs[id]
	if !ok {
		return ToolSpec{}, fmt.Errorf("unknown tool spec %q", id)
	}
	return s, nil
}

// SpecsByIDs resolves ids to specs, deduplicating while preserving order.
func SpecsByIDs(ids []string) ([]ToolSpec, error) {
	seen := make(map[string]bool, len(ids))
	out := make([]ToolSpec, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		s, err := SpecByID(id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// AllSpecIDs returns every registered spec id, sorted.
func AllSpecIDs() []string {
	out := make([]string, 0, len(builtinSpecs))
	for id := range builtinSpecs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
