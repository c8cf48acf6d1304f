package tts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/voice-proxy/internal/audio"
	"github.com/loqalabs/voice-proxy/internal/fault"
)

func TestRemoteSynthesize(t *testing.T) {
	var got remoteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tts" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFFfakeaudio"))
	}))
	defer srv.Close()

	s := NewRemoteSynth(srv.URL, "tts_models/en/ljspeech/tacotron2-DDC", time.Second, time.Second)
	data, err := s.Synthesize(context.Background(), Request{Text: "hello", Voice: "v-1", Speed: 1.2, Pitch: 0.9})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(data) != "RIFFfakeaudio" {
		t.Fatalf("unexpected audio %q", data)
	}
	if got.Text != "hello" || got.SpeakerID != "v-1" || got.ModelName == "" || got.Speed != 1.2 || got.Pitch != 0.9 {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestRemoteSynthesizeFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewRemoteSynth(srv.URL, "", time.Second, time.Second)
	_, err := s.Synthesize(context.Background(), Request{Text: "hello"})
	if fault.KindOf(err) != fault.StageFailure {
		t.Fatalf("expected stage failure, got %v", err)
	}
	if err := s.Available(context.Background()); !fault.Is(err, fault.EngineUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestRemoteSynthesizeServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewRemoteSynth(srv.URL, "", time.Second, time.Second)
	if _, err := s.Synthesize(context.Background(), Request{Text: "hello"}); !fault.Is(err, fault.StageFailure) {
		t.Fatalf("expected stage failure for synthesis, got %v", err)
	}
	if _, err := s.CloneVoice(context.Background(), CloneRequest{Name: "alex", Filename: "a.wav", Sample: []byte("RIFF")}); !fault.Is(err, fault.StageFailure) {
		t.Fatalf("expected stage failure for cloning, got %v", err)
	}
}

func TestRemoteCloneVoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/voice/clone":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			file, header, err := r.FormFile("audio")
			if err != nil {
				http.Error(w, "missing audio", http.StatusBadRequest)
				return
			}
			sample, _ := io.ReadAll(file)
			if header.Filename != "sample.wav" || string(sample) != "RIFFsample" || r.FormValue("voice_name") != "alex" {
				http.Error(w, "unexpected form", http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"voice_id": "v-1"})
		case "/api/voices":
			_ = json.NewEncoder(w).Encode(map[string][]string{"voices": {"default", "v-1"}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := NewRemoteSynth(srv.URL, "", time.Second, time.Second)
	id, err := s.CloneVoice(context.Background(), CloneRequest{Name: "alex", Filename: "sample.wav", Sample: []byte("RIFFsample")})
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if id != "v-1" {
		t.Fatalf("unexpected voice id %q", id)
	}
	voices, err := s.(VoiceLister).Voices(context.Background())
	if err != nil || len(voices) != 2 {
		t.Fatalf("unexpected voices %v (%v)", voices, err)
	}
}

func TestExecSynthJoinsFrames(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	script := filepath.Join(t.TempDir(), "fake-tts.sh")
	// AQI= is {1,2}; AwQ= is {3,4}
	body := "#!/bin/sh\ncat >/dev/null\n" +
		"echo '{\"pcm_base64\":\"AQI=\",\"final\":false}'\n" +
		"echo '{\"pcm_base64\":\"AwQ=\",\"final\":true}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	s, err := NewExecSynth(script, 22050, 1)
	if err != nil {
		t.Fatalf("new synth: %v", err)
	}
	data, err := s.Synthesize(context.Background(), Request{Text: "hi"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	info, err := audio.InspectWAV(data)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.DataBytes != 4 || info.Format.SampleRate != 22050 {
		t.Fatalf("unexpected output %+v", info)
	}
	if _, err := s.CloneVoice(context.Background(), CloneRequest{Name: "alex"}); err == nil {
		t.Fatal("expected clone to be unsupported")
	}
}

func TestMockSynth(t *testing.T) {
	m := NewMockSynth(audio.Format{SampleRate: 22050, Channels: 1, BitDepth: 16})
	data, err := m.Synthesize(context.Background(), Request{Text: "two words", Voice: "v-1"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	info, err := audio.InspectWAV(data)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.Duration != 200*time.Millisecond {
		t.Fatalf("expected 200ms of audio, got %s", info.Duration)
	}
	if id, _ := m.CloneVoice(context.Background(), CloneRequest{Name: "alex"}); id != "mock-alex" {
		t.Fatalf("unexpected clone id %q", id)
	}
	if reqs := m.Requests(); len(reqs) != 1 || reqs[0].Voice != "v-1" {
		t.Fatalf("unexpected requests %+v", reqs)
	}
}
