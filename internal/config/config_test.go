package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.BitDepth != 16 || cfg.Audio.Channels != 1 {
		t.Fatalf("unexpected default audio format: %+v", cfg.Audio)
	}
	if cfg.Realtime.ChunkDurationMS != 3000 {
		t.Fatalf("expected 3s default chunk, got %d", cfg.Realtime.ChunkDurationMS)
	}
	if cfg.Audio.OutputDevice != "BlackHole 2ch" {
		t.Fatalf("expected BlackHole default output, got %q", cfg.Audio.OutputDevice)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice-proxy.yaml")
	data := []byte(`
http:
  port: 8088
realtime:
  chunk_duration_ms: 1000
  max_buffer_ms: 0
stt:
  mode: remote
  endpoint: http://whisper:9000
llm:
  mode: mock
tts:
  mode: mock
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 8088 {
		t.Fatalf("expected port 8088, got %d", cfg.HTTP.Port)
	}
	if cfg.STT.Mode != "remote" || cfg.STT.Endpoint != "http://whisper:9000" {
		t.Fatalf("unexpected stt config: %+v", cfg.STT)
	}
	if cfg.Realtime.MaxBufferMS != 0 {
		t.Fatalf("expected uncapped buffer")
	}
	// untouched sections keep their defaults
	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("expected default sample rate to survive partial yaml")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOICE_PROXY_BUS_ENABLED", "true")
	t.Setenv("VOICE_PROXY_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("VOICE_PROXY_BUS_EMBEDDED", "false")
	t.Setenv("VOICE_PROXY_AUDIO_SAMPLE_RATE", "48000")
	t.Setenv("VOICE_PROXY_AUDIO_OUTPUT_DEVICE", "Loopback Audio")
	t.Setenv("VOICE_PROXY_REALTIME_CHUNK_DURATION_MS", "2000")
	t.Setenv("VOICE_PROXY_REALTIME_SILENCE_THRESHOLD", "0.05")
	t.Setenv("VOICE_PROXY_STT_MODE", "mock")
	t.Setenv("VOICE_PROXY_LLM_MODEL", "mistral")
	t.Setenv("VOICE_PROXY_LLM_AUTO_PULL", "true")
	t.Setenv("VOICE_PROXY_TTS_VOICE", "v-1")
	t.Setenv("VOICE_PROXY_TTS_SPEED", "1.25")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Bus.Servers) != 2 || cfg.Bus.Embedded {
		t.Fatalf("expected 2 external servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Fatalf("expected sample rate override")
	}
	if cfg.Audio.OutputDevice != "Loopback Audio" {
		t.Fatalf("expected output device override")
	}
	if cfg.Realtime.ChunkDurationMS != 2000 || cfg.Realtime.SilenceThreshold != 0.05 {
		t.Fatalf("expected realtime overrides, got %+v", cfg.Realtime)
	}
	if cfg.STT.Mode != "mock" {
		t.Fatalf("expected stt mode override")
	}
	if cfg.LLM.Model != "mistral" || !cfg.LLM.AutoPull {
		t.Fatalf("expected llm overrides, got %+v", cfg.LLM)
	}
	if cfg.TTS.Voice != "v-1" || cfg.TTS.Speed != 1.25 {
		t.Fatalf("expected tts overrides, got %+v", cfg.TTS)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"bit depth":       func(c *Config) { c.Audio.BitDepth = 12 },
		"chunk duration":  func(c *Config) { c.Realtime.ChunkDurationMS = 0 },
		"silence":         func(c *Config) { c.Realtime.SilenceThreshold = 2 },
		"buffer cap":      func(c *Config) { c.Realtime.MaxBufferMS = 500 },
		"stt mode":        func(c *Config) { c.STT.Mode = "cloud" },
		"llm exec":        func(c *Config) { c.LLM.Mode = "exec"; c.LLM.Command = "" },
		"tts remote":      func(c *Config) { c.TTS.Endpoint = "" },
		"capture command": func(c *Config) { c.Capture.Command = "" },
		"timeout":         func(c *Config) { c.STT.TimeoutMS = 0 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestSampleConfigLoads(t *testing.T) {
	cfg, err := Load("../../voice-proxy.yaml")
	if err != nil {
		t.Fatalf("load sample config: %v", err)
	}
	if cfg.LLM.Prompt != DefaultPrompt {
		t.Fatalf("expected default prompt to survive, got %q", cfg.LLM.Prompt)
	}
	if cfg.Capture.Mode != "exec" || cfg.TTS.Mode != "remote" {
		t.Fatalf("unexpected modes: capture=%s tts=%s", cfg.Capture.Mode, cfg.TTS.Mode)
	}
}
