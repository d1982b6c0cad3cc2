package ai

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ruminate-app/backend/pkg/repository"
)

// ContextBuilder gathers the processing context passed to the model: a short
// digest of the user's recent notes.
type ContextBuilder struct {
	thoughts repository.ThoughtRepo
	limit    int
}

func NewContextBuilder(thoughts repository.ThoughtRepo) *ContextBuilder {
	return &ContextBuilder{thoughts: thoughts, limit: 10}
}

const contextSnippetLen = 160

// ProcessingContext returns a plain-text digest of the user's recent
// thoughts, newest first.
func (b *ContextBuilder) ProcessingContext(ctx context.Context, userID int64) (string, error) {
	recent, err := b.thoughts.ListByUser(ctx, userID, b.limit, 0)
	if err != nil {
		return "", fmt.Errorf("list recent thoughts: %w", err)
	}
	if len(recent) == 0 {
		return "(no previous notes)", nil
	}

	var sb strings.Builder
	for _, t := range recent {
		text := t.Text
		if len(text) > contextSnippetLen {
			// back up to a rune boundary so a multi-byte rune is never split
			cut := contextSnippetLen
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut] + "…"
		}
		sb.WriteString("- ")
		sb.WriteString(text)
		if len(t.Tags) > 0 {
			sb.WriteString(" [")
			sb.WriteString(strings.Join(t.Tags, ", "))
			sb.WriteString("]")
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
