package ai

import (
	"strings"

	"github.com/ruminate-app/backend/internal/models"
)

// ruleKind selects how a trigger rule matches a thought.
type ruleKind int

const (
	ruleExactTag ruleKind = iota
	ruleTagPrefix
	ruleSource
)

// triggerRule maps a structural property of a thought to a tool spec.
type triggerRule struct {
	kind   ruleKind
	match  string
	specID string
}

// triggerRules is the tag/source mapping kept as data so the full table is
// visible in one place.
var triggerRules = []triggerRule{
	{ruleExactTag, "tool-tasks", "tasks"},
	{ruleExactTag, "tool-goals", "goals"},
	{ruleExactTag, "tool-calendar", "calendar"},
	{ruleExactTag, "tool-cbt", "cbt"},
	{ruleExactTag, "tool-packing", "packing"},
	{ruleTagPrefix, "person-", "people"},
	{ruleTagPrefix, "project-", "projects"},
	{ruleTagPrefix, "goal-", "goals"},
	{ruleSource, "tasks", "tasks"},
	{ruleSource, "goals", "goals"},
	{ruleSource, "calendar", "calendar"},
	{ruleSource, "packing", "packing"},
}

// BaselineSpecID is always part of a resolved set before enrollment
// filtering.
const BaselineSpecID = "thoughts"

func (r triggerRule) matches(t *models.Thought) bool {
	switch r.kind {
	case ruleExactTag:
		return t.HasTag(r.match)
	case ruleTagPrefix:
		for _, tag := range t.Tags {
			if strings.HasPrefix(tag, r.match) {
				return true
			}
		}
	case ruleSource:
		return t.Source == r.match
	}
	return false
}

// ResolveSpecIDs inspects the thought's source and tags, includes the
// baseline spec, and filters the result to the user's enrollment. The
// returned order is stable: baseline first, then rule order.
func ResolveSpecIDs(t *models.Thought, enrolled []string) []string {
	enrolledSet := make(map[string]bool, len(enrolled))
	for _, id := range enrolled {
		enrolledSet[id] = true
	}

	candidates := []string{BaselineSpecID}
	for _, r := range triggerRules {
		if r.matches(t) {
			candidates = append(candidates, r.specID)
		}
	}

	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if seen[id] || !enrolledSet[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// FilterToEnrollment intersects caller-supplied spec ids with the user's
// enrollment, deduplicating while preserving the caller's order.
func FilterToEnrollment(requested, enrolled []string) []string {
	enrolledSet := make(map[string]bool, len(enrolled))
	for _, id := range enrolled {
		enrolledSet[id] = true
	}
	seen := make(map[string]bool, len(requested))
	out := make([]string, 0, len(requested))
	for _, id := range requested {
		if seen[id] || !enrolledSet[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
