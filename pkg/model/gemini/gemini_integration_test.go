package gemini_test

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/GaryBoone/ai-critics/pkg/domain"
	"github.com/GaryBoone/ai-critics/pkg/model"
	"github.com/GaryBoone/ai-critics/pkg/model/gemini"
)

func setupProvider(t *testing.T) *gemini.Provider {
	t.Helper()
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("Skipping: GEMINI_API_KEY not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	provider, err := gemini.New(ctx, apiKey)
	if err != nil {
		t.Fatalf("gemini.New: %v", err)
	}
	return provider
}

// TestIntegrationGeminiJSONStream verifies a JSON-object completion streams to a stop reason.
func TestIntegrationGeminiJSONStream(t *testing.T) {
	p := setupProvider(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	stream, err := p.Stream(ctx, model.Request{
		Model: "gemini-2.0-flash",
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Text: `Reply with a JSON object with a single field "code".`},
			{Role: domain.RoleUser, Text: "Write a Rust function that adds two integers."},
		},
		Temperature: 0.1,
		MaxTokens:   1024,
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	var text strings.Builder
	var last model.CompletionReason
	for {
		c, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		text.WriteString(c.Text)
		if c.Reason != model.ReasonNone {
			last = c.Reason
		}
	}

	if last != model.ReasonStop {
		t.Fatalf("reason = %q, want %q", last, model.ReasonStop)
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text.String()), &obj); err != nil {
		t.Fatalf("response is not a JSON object: %v\n%s", err, text.String())
	}
	if _, ok := obj["code"]; !ok {
		t.Errorf("response missing code field: %s", text.String())
	}
}
