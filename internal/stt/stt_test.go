package stt

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/voice-proxy/internal/config"
	"github.com/loqalabs/voice-proxy/internal/fault"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunk.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	return path
}

func TestRemoteTranscriber(t *testing.T) {
	var gotModel, gotLanguage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/v1/audio/transcriptions":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			gotModel = r.FormValue("model")
			gotLanguage = r.FormValue("language")
			if _, _, err := r.FormFile("file"); err != nil {
				http.Error(w, "missing file", http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"text": "  hello there \n"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tr := NewRemoteTranscriber(srv.URL+"/", "", "base.en", "en", 5*time.Second)
	if err := tr.Available(context.Background()); err != nil {
		t.Fatalf("available: %v", err)
	}
	text, err := tr.Transcribe(context.Background(), writeSample(t))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "hello there" {
		t.Fatalf("unexpected transcript %q", text)
	}
	if gotModel != "base.en" || gotLanguage != "en" {
		t.Fatalf("unexpected form values model=%q language=%q", gotModel, gotLanguage)
	}
}

func TestRemoteTranscriberClassifiesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"loading model"}}`))
	}))
	defer srv.Close()

	tr := NewRemoteTranscriber(srv.URL, "", "base.en", "en", 5*time.Second)
	if err := tr.Available(context.Background()); !fault.Is(err, fault.EngineUnavailable) {
		t.Fatalf("expected unavailable probe, got %v", err)
	}
	// only the probe reports the engine as unavailable
	if _, err := tr.Transcribe(context.Background(), writeSample(t)); !fault.Is(err, fault.StageFailure) {
		t.Fatalf("expected stage failure for transcription, got %v", err)
	}
}

func TestRemoteTranscriberTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	tr := NewRemoteTranscriber(srv.URL, "", "base.en", "en", 50*time.Millisecond)
	_, err := tr.Transcribe(context.Background(), writeSample(t))
	if fault.KindOf(fault.Classify(fault.StageTranscribe, err)) != fault.StageTimeout {
		t.Fatalf("expected timeout classification, got %v", err)
	}
}

func TestExecTranscriberReadsTranscriptFile(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	script := filepath.Join(t.TempDir(), "fake-whisper.sh")
	body := "#!/bin/sh\n" +
		"audio=\"$1\"; shift\n" +
		"while [ $# -gt 0 ]; do\n" +
		"  if [ \"$1\" = \"--output_dir\" ]; then out=\"$2\"; fi\n" +
		"  shift\n" +
		"done\n" +
		"name=$(basename \"$audio\" .wav)\n" +
		"printf '  turn left here\\n' > \"$out/$name.txt\"\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	tr, err := NewExecTranscriber(script, "base.en", "en", 5*time.Second, testLogger())
	if err != nil {
		t.Fatalf("new transcriber: %v", err)
	}
	if err := tr.Available(context.Background()); err != nil {
		t.Fatalf("available: %v", err)
	}
	text, err := tr.Transcribe(context.Background(), writeSample(t))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "turn left here" {
		t.Fatalf("unexpected transcript %q", text)
	}
}

func TestExecTranscriberMissingBinary(t *testing.T) {
	tr, err := NewExecTranscriber("definitely-not-a-whisper-binary", "", "", time.Second, testLogger())
	if err != nil {
		t.Fatalf("new transcriber: %v", err)
	}
	if err := tr.Available(context.Background()); !fault.Is(err, fault.EngineUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if _, err := tr.Transcribe(context.Background(), writeSample(t)); !fault.Is(err, fault.StageFailure) {
		t.Fatalf("expected stage failure when the binary is missing mid-run, got %v", err)
	}
}

func TestNewSelectsMode(t *testing.T) {
	cfg := config.Default().STT
	cfg.Mode = "mock"
	tr, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := tr.(*Mock); !ok {
		t.Fatalf("expected mock transcriber, got %T", tr)
	}
	cfg.Mode = "carrier-pigeon"
	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestMockRecordsFileSize(t *testing.T) {
	m := NewMock("hi")
	path := writeSample(t)
	if _, err := m.Transcribe(context.Background(), path); err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	calls := m.Calls()
	if len(calls) != 1 || calls[0].Size != 12 {
		t.Fatalf("unexpected calls %+v", calls)
	}
}
