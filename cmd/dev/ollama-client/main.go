package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/ruminate-app/backend/internal/ai"
	"github.com/ruminate-app/backend/internal/config"
	"github.com/ruminate-app/backend/pkg/ollama"
)

// dev harness: runs one thought through the processing engine against a local
// ollama instance and prints the proposed actions.
func main() {
	var (
		baseURL = flag.String("url", "http://localhost:11434", "ollama base URL")
		model   = flag.String("model", "llama3", "model name")
		text    = flag.String("text", "Call the dentist tomorrow about the crown", "thought text to process")
	)
	flag.Parse()

	client, err := ollama.NewDefaultClient(config.OllamaConfig{
		BaseURL: *baseURL,
		Timeout: 60 * time.Second,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()
	if err := client.Health(ctx); err != nil {
		log.Fatalf("ollama not reachable: %v", err)
	}

	engine, err := ai.NewEngine(client, config.EngineConfig{Model: *model, Timeout: 60 * time.Second})
	if err != nil {
		log.Fatal(err)
	}

	specs, err := ai.SpecsByIDs([]string{"thoughts", "tasks"})
	if err != nil {
		log.Fatal(err)
	}

	result, err := engine.Process(ctx, *text, "(no previous notes)", specs)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("tokens: %d\n", result.Usage.Total())
	for _, a := range result.Actions {
		fmt.Printf("%-12s %s\n", a.Type, a.Value)
	}
	if len(result.Actions) == 0 {
		fmt.Println("(no actions proposed)")
	}
}
