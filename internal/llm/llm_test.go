package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/voice-proxy/internal/config"
	"github.com/loqalabs/voice-proxy/internal/fault"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newOllamaServer(t *testing.T, models []string) (*httptest.Server, *[]string) {
	t.Helper()
	var pulled []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			type model struct {
				Name string `json:"name"`
			}
			var list []model
			for _, m := range models {
				list = append(list, model{Name: m})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"models": list})
		case "/api/generate":
			var req ollamaRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if !strings.Contains(req.Prompt, "um so like") {
				http.Error(w, "prompt missing input", http.StatusBadRequest)
				return
			}
			enc := json.NewEncoder(w)
			_ = enc.Encode(ollamaStreamResponse{Response: "So, "})
			_ = enc.Encode(ollamaStreamResponse{Response: "to summarise."})
			_ = enc.Encode(ollamaStreamResponse{Done: true, EvalCount: 4})
		case "/api/pull":
			var req map[string]any
			_ = json.NewDecoder(r.Body).Decode(&req)
			pulled = append(pulled, req["model"].(string))
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &pulled
}

func TestOllamaRephrase(t *testing.T) {
	srv, _ := newOllamaServer(t, []string{"llama3:latest"})
	r := NewRephraser(NewOllamaGenerator(srv.URL, "llama3"), RephraserOptions{Prompt: config.DefaultPrompt, Timeout: time.Second}, testLogger())

	if err := r.Available(context.Background()); err != nil {
		t.Fatalf("available: %v", err)
	}
	got, improved := r.Rephrase(context.Background(), "um so like")
	if !improved || got != "So, to summarise." {
		t.Fatalf("unexpected rephrase %q (improved=%v)", got, improved)
	}
}

func TestOllamaAvailabilityRequiresModel(t *testing.T) {
	srv, pulled := newOllamaServer(t, []string{"mistral:latest"})
	gen := NewOllamaGenerator(srv.URL, "llama3")
	if err := gen.Available(context.Background()); !fault.Is(err, fault.EngineUnavailable) {
		t.Fatalf("expected unavailable when model missing, got %v", err)
	}
	r := NewRephraser(gen, RephraserOptions{Prompt: config.DefaultPrompt}, testLogger())
	if err := r.Prepare(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if len(*pulled) != 1 || (*pulled)[0] != "llama3" {
		t.Fatalf("expected llama3 pull, got %v", *pulled)
	}
}

func TestOllamaUnreachable(t *testing.T) {
	gen := NewOllamaGenerator("http://127.0.0.1:1", "llama3")
	if err := gen.Available(context.Background()); !fault.Is(err, fault.EngineUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestRephraseFallsBackOnFailure(t *testing.T) {
	gen := NewMockGenerator()
	gen.Script("", errors.New("model crashed"))
	r := NewRephraser(gen, RephraserOptions{Prompt: config.DefaultPrompt}, testLogger())

	got, improved := r.Rephrase(context.Background(), "keep me")
	if improved || got != "keep me" {
		t.Fatalf("expected original text, got %q", got)
	}

	gen.Script("   ", nil)
	if got, _ := r.Rephrase(context.Background(), "keep me"); got != "keep me" {
		t.Fatalf("expected original text on blank completion, got %q", got)
	}
}

func TestRephraseFallsBackOnTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	r := NewRephraser(NewOllamaGenerator(srv.URL, "llama3"), RephraserOptions{Prompt: config.DefaultPrompt, Timeout: 50 * time.Millisecond}, testLogger())
	if got, improved := r.Rephrase(context.Background(), "slow"); improved || got != "slow" {
		t.Fatalf("expected fallback on timeout, got %q", got)
	}
}

func TestPromptWithoutPlaceholder(t *testing.T) {
	gen := NewMockGenerator()
	r := NewRephraser(gen, RephraserOptions{Prompt: "Improve this:"}, testLogger())
	r.Rephrase(context.Background(), "hello")
	prompts := gen.Prompts()
	if len(prompts) != 1 || prompts[0] != `Improve this: "hello"` {
		t.Fatalf("unexpected prompt %q", prompts)
	}
}

func TestExecGeneratorUsesStdin(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	script := filepath.Join(t.TempDir(), "fake-llm.sh")
	body := "#!/bin/sh\nread line\necho \"$1: $line\"\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	gen, err := NewExecGenerator(script+" {model}", "llama3")
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	if err := gen.Available(context.Background()); err != nil {
		t.Fatalf("available: %v", err)
	}
	r := NewRephraser(gen, RephraserOptions{Prompt: "%s"}, testLogger())
	got, improved := r.Rephrase(context.Background(), "hi")
	if !improved || got != "llama3: hi" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestOpenAIGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/models":
			_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"llama3:latest","object":"model"}]}`))
		case "/v1/chat/completions":
			_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":" Polished. "}}],"usage":{"prompt_tokens":3,"completion_tokens":1}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	gen := NewOpenAIGenerator(srv.URL, "", "llama3")
	if err := gen.Available(context.Background()); err != nil {
		t.Fatalf("available: %v", err)
	}
	r := NewRephraser(gen, RephraserOptions{Prompt: config.DefaultPrompt}, testLogger())
	if got, improved := r.Rephrase(context.Background(), "rough"); !improved || got != "Polished." {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestNewGeneratorModes(t *testing.T) {
	cfg := config.Default().LLM
	for _, mode := range []string{"ollama", "openai", "mock"} {
		cfg.Mode = mode
		if _, err := NewGenerator(cfg); err != nil {
			t.Fatalf("mode %s: %v", mode, err)
		}
	}
	cfg.Mode = "oracle"
	if _, err := NewGenerator(cfg); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
