package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/voice-proxy/internal/protocol"
)

func newFakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(protocol.Status{
			State:        protocol.State{IsListening: true, SessionID: "s-1"},
			Availability: protocol.Availability{Transcription: true, Synthesis: true},
		})
	})
	mux.HandleFunc("POST /process-text", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
			Play bool   `json:"outputToVirtualMic"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Text == "busy" {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"success":false,"error":"a pipeline run is already in progress","kind":"state_conflict"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(protocol.TextResult{
			Success:            true,
			OriginalText:       req.Text,
			ImprovedText:       strings.ToUpper(req.Text),
			AudioSize:          2048,
			PlayedToVirtualMic: req.Play,
		})
	})
	mux.HandleFunc("POST /voice/clone", func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("audio")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		if string(data) != "sample" {
			http.Error(w, "unexpected sample", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "voiceId": "v-" + r.FormValue("voiceName")})
	})
	mux.HandleFunc("POST /realtime/start", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"message":"real-time mode started"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	srv := newFakeServer(t)
	out, err := run(t, srv, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"listening:      true", "session:        s-1", "improvement:    unavailable", "synthesis:      available"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTextCommand(t *testing.T) {
	srv := newFakeServer(t)
	out, err := run(t, srv, "text", "hello", "world", "--play")
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if !strings.Contains(out, "HELLO WORLD") || !strings.Contains(out, "2.0 KB") || !strings.Contains(out, "played to virtual microphone") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestTextCommandReportsConflict(t *testing.T) {
	srv := newFakeServer(t)
	_, err := run(t, srv, "text", "busy")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*apiError)
	if !ok {
		t.Fatalf("expected *apiError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Kind != "state_conflict" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestCloneCommand(t *testing.T) {
	srv := newFakeServer(t)
	sample := filepath.Join(t.TempDir(), "sample.wav")
	if err := os.WriteFile(sample, []byte("sample"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, srv, "clone", sample, "--name", "alex")
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if !strings.Contains(out, "v-alex") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	if _, err := run(t, srv, "clone", sample); err == nil {
		t.Fatal("expected missing --name to fail")
	}
}

func TestRealtimeStart(t *testing.T) {
	srv := newFakeServer(t)
	out, err := run(t, srv, "realtime", "start")
	if err != nil {
		t.Fatalf("realtime start: %v", err)
	}
	if strings.TrimSpace(out) != "real-time mode started" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestWSURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:3000":       "ws://localhost:3000/ws",
		"https://proxy.example/base/": "wss://proxy.example/base/ws",
	}
	for in, want := range cases {
		got, err := wsURL(in)
		if err != nil {
			t.Fatalf("wsURL(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("wsURL(%q) = %q, want %q", in, got, want)
		}
	}
}
