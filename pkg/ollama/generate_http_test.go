package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ruminate-app/backend/internal/config"
	"github.com/ruminate-app/backend/pkg/ollama"
)

func cfgWithBase(base string) config.OllamaConfig {
	return config.OllamaConfig{
		BaseURL:                 base,
		Timeout:                 2 * time.Second,
		Retries:                 2,
		Backoff:                 10 * time.Millisecond,
		CircuitFailureThreshold: 10,
		CircuitReset:            time.Second,
	}
}

// writeSequence writes each object as a JSON line and flushes; simulates
// Ollama's streaming responses.
func writeSequence(w http.ResponseWriter, seq []map[string]any) {
	enc := json.NewEncoder(w)
	for _, obj := range seq {
		_ = enc.Encode(obj)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

func TestClient_Generate_Retries_Backoff_Succeeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			a := atomic.AddInt32(&attempts, 1)
			if a == 1 {
				// transient error
				http.Error(w, "temporary", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			writeSequence(w, []map[string]any{
				{"response": `{"actions":`, "done": false},
				{"response": `[]}`, "done": true, "prompt_eval_count": 7, "eval_count": 3},
			})
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client, err := ollama.NewClient(cfgWithBase(srv.URL), srv.Client())
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	ctx := context.Background()
	res, err := client.Generate(ctx, "m", "p")
	if err != nil {
		t.Fatalf("Generate expected success after retry, got error: %v", err)
	}
	if res.Text != `{"actions":[]}` {
		t.Fatalf("unexpected accumulated text: %q", res.Text)
	}
	if res.PromptEvalCount != 7 || res.EvalCount != 3 {
		t.Fatalf("unexpected token counts: %+v", res)
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestClient_CircuitBreaker_Opens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := cfgWithBase(srv.URL)
	cfg.Retries = 0
	cfg.CircuitFailureThreshold = 2
	cfg.CircuitReset = time.Minute
	client, err := ollama.NewClient(cfg, srv.Client())
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := client.Generate(ctx, "m", "p"); err == nil {
			t.Fatalf("expected failure on attempt %d", i)
		}
	}
	if _, err := client.Generate(ctx, "m", "p"); err != ollama.ErrCircuitOpen {
		t.Fatalf("expected circuit open, got %v", err)
	}
}
