package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/qri-io/jsonschema"
	"github.com/ruminate-app/backend/internal/config"
	"github.com/ruminate-app/backend/pkg/ollama"
)

// Action is one proposed mutation or suggestion extracted by the model.
type Action struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Supported action types.
const (
	ActionAddTag     = "add_tag"
	ActionRemoveTag  = "remove_tag"
	ActionSetText    = "set_text"
	ActionAppendText = "append_text"
	ActionSuggest    = "suggest"
)

// TokenUsage captures the model-side cost of one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (u TokenUsage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Result is the full outcome of one LLM interaction.
type Result struct {
	Prompt      string     `json:"prompt"`
	RawResponse string     `json:"raw_response"`
	Actions     []Action   `json:"actions"`
	Usage       TokenUsage `json:"usage"`
}

// defaultTemplate renders the processing prompt. Overridable via config.
const defaultTemplate = `You are the processing engine of a note-taking app.
The user wrote the following note:

{{.Text}}

Known context about the user:
{{.Context}}

You may use these capabilities:
{{range .Specs}}- {{.Name}}: {{.Instructions}}
{{end}}
Respond with a single JSON object of the form
{"actions":[{"type":"add_tag|remove_tag|set_text|append_text|suggest","value":"..."}]}
and nothing else. Propose only actions clearly supported by the note.`

// responseSchema constrains what we accept back from the model.
const responseSchema = `{
  "type": "object",
  "required": ["actions"],
  "properties": {
    "actions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "value"],
        "properties": {
          "type": {"type": "string", "enum": ["add_tag", "remove_tag", "set_text", "append_text", "suggest"]},
          "value": {"type": "string"}
        }
      }
    }
  }
}`

// Engine wraps an Ollama client and turns thoughts into proposed actions.
type Engine struct {
	client *ollama.Client
	cfg    config.EngineConfig
	schema *jsonschema.Schema
}

func NewEngine(client *ollama.Client, cfg config.EngineConfig) (*Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("ollama client is required")
	}
	if cfg.Model == "" {
		cfg.Model = "llama3"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Template.Template == "" {
		cfg.Template.Template = defaultTemplate
		cfg.Template.Version = "v1"
	}

	rs := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(responseSchema), rs); err != nil {
		return nil, fmt.Errorf("compile response schema: %w", err)
	}

	return &Engine{client: client, cfg: cfg, schema: rs}, nil
}

// Process renders the prompt, calls the model, and parses the validated
// action list.
func (e *Engine) Process(ctx context.Context, thoughtText, contextText string, specs []ToolSpec) (*Result, error) {
	data := map[string]any{"Text": thoughtText, "Context": contextText, "Specs": specs}
	prompt, err := ollama.RenderTemplate(e.cfg.Template.Template, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	ctxReq, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	out, err := e.client.Generate(ctxReq, e.cfg.Model, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	actions, err := e.parseActions(ctxReq, out.Text)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	return &Result{
		Prompt:      prompt,
		RawResponse: out.Text,
		Actions:     actions,
		Usage: TokenUsage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
		},
	}, nil
}

func (e *Engine) parseActions(ctx context.Context, raw string) ([]Action, error) {
	j := extractJSON(raw)
	if j == "" {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	verrs, err := e.schema.ValidateBytes(ctx, []byte(j))
	if err != nil {
		return nil, fmt.Errorf("schema validate: %w", err)
	}
	if len(verrs) > 0 {
		var sb strings.Builder
		for _, v := range verrs {
			sb.WriteString(v.Message)
			sb.WriteString("; ")
		}
		return nil, fmt.Errorf("response does not match schema: %s", sb.String())
	}

	var parsed struct {
		Actions []Action `json:"actions"`
	}
	if err := json.Unmarshal([]byte(j), &parsed); err != nil {
		return nil, err
	}
	return parsed.Actions, nil
}

// extractJSON pulls the first balanced JSON object out of a model response
// that may be wrapped in prose or code fences.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
