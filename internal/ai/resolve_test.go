package ai

import (
	"reflect"
	"testing"

	"github.com/ruminate-app/backend/internal/models"
)

var allEnrolled = AllSpecIDs()

func TestResolveSpecIDs(t *testing.T) {
	tests := []struct {
		name     string
		thought  models.Thought
		enrolled []string
		want     []string
	}{
		{
			name:     "plain note gets baseline only",
			thought:  models.Thought{Text: "hello"},
			enrolled: allEnrolled,
			want:     []string{"thoughts"},
		},
		{
			name:     "tool tag adds its spec",
			thought:  models.Thought{Tags: []string{"tool-tasks"}},
			enrolled: allEnrolled,
			want:     []string{"thoughts", "tasks"},
		},
		{
			name:     "person prefix tag",
			thought:  models.Thought{Tags: []string{"person-ana"}},
			enrolled: allEnrolled,
			want:     []string{"thoughts", "people"},
		},
		{
			name:     "project prefix tag",
			thought:  models.Thought{Tags: []string{"project-kitchen"}},
			enrolled: allEnrolled,
			want:     []string{"thoughts", "projects"},
		},
		{
			name:     "source mapping",
			thought:  models.Thought{Source: "calendar"},
			enrolled: allEnrolled,
			want:     []string{"thoughts", "calendar"},
		},
		{
			name:     "tag and source resolve to one entry each",
			thought:  models.Thought{Tags: []string{"tool-goals", "goal-run-a-marathon"}, Source: "goals"},
			enrolled: allEnrolled,
			want:     []string{"thoughts", "goals"},
		},
		{
			name:     "enrollment filters the resolution",
			thought:  models.Thought{Tags: []string{"tool-tasks", "tool-calendar"}},
			enrolled: []string{"thoughts", "calendar"},
			want:     []string{"thoughts", "calendar"},
		},
		{
			name:     "baseline itself requires enrollment",
			thought:  models.Thought{Tags: []string{"tool-tasks"}},
			enrolled: []string{"tasks"},
			want:     []string{"tasks"},
		},
		{
			name:     "no enrollment resolves to nothing",
			thought:  models.Thought{Tags: []string{"tool-tasks"}},
			enrolled: nil,
			want:     []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveSpecIDs(&tt.thought, tt.enrolled)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ResolveSpecIDs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterToEnrollment(t *testing.T) {
	got := FilterToEnrollment(
		[]string{"tasks", "calendar", "tasks", "packing"},
		[]string{"thoughts", "tasks", "packing"},
	)
	want := []string{"tasks", "packing"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FilterToEnrollment() = %v, want %v", got, want)
	}
}

func TestSpecsByIDs(t *testing.T) {
	specs, err := SpecsByIDs([]string{"thoughts", "tasks", "thoughts"})
	if err != nil {
		t.Fatalf("SpecsByIDs: %v", err)
	}
	if len(specs) != 2 || specs[0].ID != "thoughts" || specs[1].ID != "tasks" {
		t.Errorf("specs = %+v", specs)
	}

	if _, err := SpecsByIDs([]string{"thoughts", "nope"}); err == nil {
		t.Error("unknown spec id did not error")
	}
}
