package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/voice-proxy/internal/audio"
	"github.com/loqalabs/voice-proxy/internal/capture"
	"github.com/loqalabs/voice-proxy/internal/config"
	"github.com/loqalabs/voice-proxy/internal/fault"
	"github.com/loqalabs/voice-proxy/internal/llm"
	"github.com/loqalabs/voice-proxy/internal/orchestrator"
	"github.com/loqalabs/voice-proxy/internal/playback"
	"github.com/loqalabs/voice-proxy/internal/protocol"
	"github.com/loqalabs/voice-proxy/internal/stt"
	"github.com/loqalabs/voice-proxy/internal/tts"
)

var testFormat = audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	o      *orchestrator.Orchestrator
	stt    *stt.Mock
	synth  *tts.MockSynth
	player *playback.Mock
	srv    *httptest.Server
}

func newFixture(t *testing.T, wrap func(Engine) Engine) *fixture {
	t.Helper()
	logger := newLogger()
	f := &fixture{
		stt:    stt.NewMock("so um hello"),
		synth:  tts.NewMockSynth(testFormat),
		player: playback.NewMock(),
	}
	gen := llm.NewMockGenerator()
	gen.Script("Hello.", nil)
	o, err := orchestrator.New(orchestrator.Options{
		Format:            testFormat,
		ChunkDuration:     time.Second,
		OutputDevice:      "BlackHole 2ch",
		VirtualDeviceHint: "blackhole",
		TempDir:           t.TempDir(),
	}, orchestrator.Deps{
		Capturer:    capture.NewMock(testFormat, 0, "BlackHole 2ch", logger),
		Transcriber: f.stt,
		Improver:    llm.NewRephraser(gen, llm.RephraserOptions{Prompt: config.DefaultPrompt}, logger),
		Synthesizer: f.synth,
		Player:      f.player,
	}, logger)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(o.Close)
	f.o = o

	var engine Engine = o
	if wrap != nil {
		engine = wrap(o)
	}
	s := New(engine, Options{Version: "test", Voices: f.synth, TempDir: t.TempDir()}, logger)
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func postFile(t *testing.T, url string, fields map[string]string, filename string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write(content)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	_ = mw.Close()
	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.srv.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	var health map[string]any
	decode(t, resp, &health)
	if health["status"] != "ok" {
		t.Fatalf("unexpected health %v", health)
	}

	resp, err = http.Get(f.srv.URL + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	var status protocol.Status
	decode(t, resp, &status)
	if !status.Availability.Transcription || !status.Availability.VirtualDevice {
		t.Fatalf("unexpected availability %+v", status.Availability)
	}

	resp, err = http.Get(f.srv.URL + "/voices")
	if err != nil {
		t.Fatalf("get voices: %v", err)
	}
	var voices struct{ Voices []string }
	decode(t, resp, &voices)
	if len(voices.Voices) != 1 {
		t.Fatalf("unexpected voices %+v", voices)
	}

	resp, err = http.Get(f.srv.URL + "/sessions")
	if err != nil {
		t.Fatalf("get sessions: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected 501 without an event store, got %d", resp.StatusCode)
	}
}

func TestProcessTextEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	resp := postJSON(t, f.srv.URL+"/process-text", map[string]any{"text": "so um hello", "outputToVirtualMic": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var result protocol.TextResult
	decode(t, resp, &result)
	if !result.Success || result.ImprovedText != "Hello." || !result.AudioGenerated || !result.PlayedToVirtualMic {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(f.player.Calls()) != 1 {
		t.Fatalf("expected playback")
	}

	resp = postJSON(t, f.srv.URL+"/process-text", map[string]any{"text": "   "})
	var body errorBody
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusBadRequest || body.Kind != "invalid_input" {
		t.Fatalf("expected 400 invalid_input, got %d %+v", resp.StatusCode, body)
	}

	resp, err := http.Post(f.srv.URL+"/process-text", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", resp.StatusCode)
	}
}

type busyEngine struct {
	Engine
}

func (busyEngine) ProcessText(context.Context, string) (orchestrator.Result, error) {
	return orchestrator.Result{}, fault.Conflict("a pipeline run is already in progress")
}

type droppedEngine struct {
	Engine
}

func (droppedEngine) ProcessText(context.Context, string) (orchestrator.Result, error) {
	return orchestrator.Result{}, fault.FromStatus(fault.StageSynthesize, http.StatusServiceUnavailable, "503 Service Unavailable")
}

func TestFaultStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		wrap func(Engine) Engine
		want int
	}{
		{"busy", func(e Engine) Engine { return busyEngine{e} }, http.StatusConflict},
		{"engine dropped mid-run", func(e Engine) Engine { return droppedEngine{e} }, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.wrap)
			resp := postJSON(t, f.srv.URL+"/process-text", map[string]any{"text": "hello"})
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestProcessAudioUpload(t *testing.T) {
	f := newFixture(t, nil)
	wav := audio.ToWAV(make([]byte, 16000), testFormat)

	resp := postFile(t, f.srv.URL+"/process-audio", nil, "clip.wav", wav)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var result protocol.TextResult
	decode(t, resp, &result)
	if result.Transcript != "so um hello" || result.ImprovedText != "Hello." {
		t.Fatalf("unexpected result %+v", result)
	}
	if calls := f.stt.Calls(); len(calls) != 1 || calls[0].Size != int64(len(wav)) {
		t.Fatalf("upload not passed through intact: %+v", calls)
	}

	f.stt.Script("", nil)
	resp = postFile(t, f.srv.URL+"/process-audio", nil, "quiet.wav", wav)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for empty transcript, got %d", resp.StatusCode)
	}

	resp = postJSON(t, f.srv.URL+"/process-audio", map[string]string{"path": "/etc/passwd"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without multipart, got %d", resp.StatusCode)
	}
}

func TestVoiceCloneUpload(t *testing.T) {
	f := newFixture(t, nil)
	f.synth.ScriptClone("v-9", nil)
	wav := audio.ToWAV(make([]byte, 32000), testFormat)

	resp := postFile(t, f.srv.URL+"/voice/clone", map[string]string{"voiceName": "alex"}, "alex.wav", wav)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var body map[string]any
	decode(t, resp, &body)
	if body["voiceId"] != "v-9" {
		t.Fatalf("unexpected body %v", body)
	}
	if f.o.State().ActiveVoiceID != "v-9" {
		t.Fatalf("voice not activated")
	}

	resp = postFile(t, f.srv.URL+"/voice/clone", nil, "alex.wav", wav)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without voiceName, got %d", resp.StatusCode)
	}
}

func TestRealtimeEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Post(f.srv.URL+"/realtime/start", "application/json", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	resp.Body.Close()
	if !f.o.State().IsListening {
		t.Fatalf("expected listening")
	}
	resp, err = http.Post(f.srv.URL+"/realtime/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	resp.Body.Close()
	if f.o.State().IsListening {
		t.Fatalf("expected idle")
	}

	resp, err = http.Get(f.srv.URL + "/realtime/start")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", resp.StatusCode)
	}
}

func TestWebSocketCommandsAndEvents(t *testing.T) {
	f := newFixture(t, nil)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.Command{Type: protocol.CommandStartRealTime}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var gotReply, gotEvent bool
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for !gotReply || !gotEvent {
		var msg struct {
			Type    string `json:"type"`
			Success *bool  `json:"success"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		switch {
		case msg.Type == protocol.ReplyRealTimeStarted && msg.Success != nil && *msg.Success:
			gotReply = true
		case msg.Type == string(protocol.EventRealTimeStarted):
			gotEvent = true
		}
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	for {
		var reply protocol.Reply
		if err := conn.ReadJSON(&reply); err != nil {
			t.Fatalf("read: %v", err)
		}
		if reply.Type == protocol.ReplyError {
			if reply.Kind != "invalid_input" {
				t.Fatalf("unexpected error reply %+v", reply)
			}
			break
		}
	}
}
