package ollama_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ruminate-app/backend/pkg/ollama"
)

func TestGenerateResult_Marshal(t *testing.T) {
	gr := ollama.GenerateResult{
		Text:            "ok",
		Raw:             json.RawMessage(`{"x":1}`),
		PromptEvalCount: 12,
		EvalCount:       34,
		Meta:            map[string]any{"model": "m", "latency_ms": 123},
	}
	b, err := json.Marshal(gr)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, "latency_ms") || !strings.Contains(s, "prompt_eval_count") {
		t.Fatalf("unexpected marshaled result: %s", s)
	}
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	if _, err := ollama.NewClient(cfgWithBase(":// not a url"), nil); err == nil {
		t.Fatal("expected error for invalid base url")
	}
}
