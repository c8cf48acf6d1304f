package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	ServiceName string           `yaml:"service_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Audio       AudioConfig      `yaml:"audio"`
	Realtime    RealtimeConfig   `yaml:"realtime"`
	Capture     CaptureConfig    `yaml:"capture"`
	Playback    PlaybackConfig   `yaml:"playback"`
	STT         STTConfig        `yaml:"stt"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	Monitor     MonitorConfig    `yaml:"monitor"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// AudioConfig describes the capture format and the devices on either end.
type AudioConfig struct {
	SampleRate        int    `yaml:"sample_rate"`
	Channels          int    `yaml:"channels"`
	BitDepth          int    `yaml:"bit_depth"`
	InputDevice       string `yaml:"input_device"`
	OutputDevice      string `yaml:"output_device"`
	VirtualDeviceHint string `yaml:"virtual_device_hint"`
}

type RealtimeConfig struct {
	ChunkDurationMS  int     `yaml:"chunk_duration_ms"`
	SilenceThreshold float64 `yaml:"silence_threshold"`
	MaxBufferMS      int     `yaml:"max_buffer_ms"`
}

type CaptureConfig struct {
	Mode           string `yaml:"mode"` // exec, mock
	Command        string `yaml:"command"`
	DevicesCommand string `yaml:"devices_command"`
	MockFrameMS    int    `yaml:"mock_frame_ms"`
}

type PlaybackConfig struct {
	Mode    string `yaml:"mode"` // exec, mock
	Command string `yaml:"command"`
}

type STTConfig struct {
	Mode      string `yaml:"mode"` // exec, remote, mock
	Command   string `yaml:"command"`
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Language  string `yaml:"language"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // ollama, exec, openai, mock
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Prompt      string  `yaml:"prompt"`
	AutoPull    bool    `yaml:"auto_pull"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Mode           string  `yaml:"mode"` // remote, exec, mock
	Endpoint       string  `yaml:"endpoint"`
	Command        string  `yaml:"command"`
	Model          string  `yaml:"model"`
	Voice          string  `yaml:"voice"`
	Speed          float64 `yaml:"speed"`
	Pitch          float64 `yaml:"pitch"`
	SampleRate     int     `yaml:"sample_rate"`
	Channels       int     `yaml:"channels"`
	TimeoutMS      int     `yaml:"timeout_ms"`
	CloneTimeoutMS int     `yaml:"clone_timeout_ms"`
}

type MonitorConfig struct {
	Enabled    bool `yaml:"enabled"`
	IntervalMS int  `yaml:"interval_ms"`
	ProbeMS    int  `yaml:"probe_timeout_ms"`
}

// DefaultPrompt asks the model to rewrite without changing meaning. %s receives the raw transcript.
const DefaultPrompt = `Please rephrase the following text to make it clearer, more professional, and better structured while maintaining the original meaning. Reply with the rephrased text only: "%s"`

func Default() Config {
	return Config{
		ServiceName: "voice-proxy",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 3000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			SubjectPrefix:  "voiceproxy",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/voice-proxy-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Audio: AudioConfig{
			SampleRate:        16000,
			Channels:          1,
			BitDepth:          16,
			InputDevice:       "default",
			OutputDevice:      "BlackHole 2ch",
			VirtualDeviceHint: "BlackHole",
		},
		Realtime: RealtimeConfig{
			ChunkDurationMS:  3000,
			SilenceThreshold: 0.01,
			MaxBufferMS:      30000,
		},
		Capture: CaptureConfig{
			Mode:           "exec",
			Command:        "sox -q -t coreaudio {device} -r {rate} -c {channels} -b {bits} -e signed-integer -t raw -",
			DevicesCommand: "sox -V1 -n -t coreaudio dummy trim 0 0",
			MockFrameMS:    100,
		},
		Playback: PlaybackConfig{
			Mode:    "exec",
			Command: "sox -q {file} -t coreaudio {device}",
		},
		STT: STTConfig{
			Mode:      "exec",
			Command:   "whisper",
			Endpoint:  "http://localhost:9000",
			Model:     "base.en",
			Language:  "en",
			TimeoutMS: 30000,
		},
		LLM: LLMConfig{
			Mode:        "ollama",
			Endpoint:    "http://localhost:11434",
			Command:     "ollama run {model}",
			Model:       "llama3",
			Prompt:      DefaultPrompt,
			AutoPull:    false,
			MaxTokens:   256,
			Temperature: 0.3,
			TimeoutMS:   10000,
		},
		TTS: TTSConfig{
			Mode:           "remote",
			Endpoint:       "http://localhost:5002",
			Model:          "tts_models/en/ljspeech/tacotron2-DDC",
			Voice:          "default",
			Speed:          1.0,
			Pitch:          1.0,
			SampleRate:     22050,
			Channels:       1,
			TimeoutMS:      30000,
			CloneTimeoutMS: 60000,
		},
		Monitor: MonitorConfig{
			Enabled:    true,
			IntervalMS: 15000,
			ProbeMS:    5000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "VOICE_PROXY_SERVICE_NAME")
	overrideString(&cfg.Environment, "VOICE_PROXY_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOICE_PROXY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOICE_PROXY_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOICE_PROXY_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOICE_PROXY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOICE_PROXY_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "VOICE_PROXY_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VOICE_PROXY_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOICE_PROXY_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOICE_PROXY_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOICE_PROXY_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOICE_PROXY_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOICE_PROXY_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOICE_PROXY_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOICE_PROXY_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.SubjectPrefix, "VOICE_PROXY_BUS_SUBJECT_PREFIX")
	overrideString(&cfg.EventStore.Path, "VOICE_PROXY_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "VOICE_PROXY_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "VOICE_PROXY_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "VOICE_PROXY_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "VOICE_PROXY_EVENT_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Audio.SampleRate, "VOICE_PROXY_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "VOICE_PROXY_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.BitDepth, "VOICE_PROXY_AUDIO_BIT_DEPTH")
	overrideString(&cfg.Audio.InputDevice, "VOICE_PROXY_AUDIO_INPUT_DEVICE")
	overrideString(&cfg.Audio.OutputDevice, "VOICE_PROXY_AUDIO_OUTPUT_DEVICE")
	overrideString(&cfg.Audio.VirtualDeviceHint, "VOICE_PROXY_AUDIO_VIRTUAL_DEVICE_HINT")
	overrideInt(&cfg.Realtime.ChunkDurationMS, "VOICE_PROXY_REALTIME_CHUNK_DURATION_MS")
	overrideFloat(&cfg.Realtime.SilenceThreshold, "VOICE_PROXY_REALTIME_SILENCE_THRESHOLD")
	overrideInt(&cfg.Realtime.MaxBufferMS, "VOICE_PROXY_REALTIME_MAX_BUFFER_MS")
	overrideString(&cfg.Capture.Mode, "VOICE_PROXY_CAPTURE_MODE")
	overrideString(&cfg.Capture.Command, "VOICE_PROXY_CAPTURE_COMMAND")
	overrideString(&cfg.Capture.DevicesCommand, "VOICE_PROXY_CAPTURE_DEVICES_COMMAND")
	overrideString(&cfg.Playback.Mode, "VOICE_PROXY_PLAYBACK_MODE")
	overrideString(&cfg.Playback.Command, "VOICE_PROXY_PLAYBACK_COMMAND")
	overrideString(&cfg.STT.Mode, "VOICE_PROXY_STT_MODE")
	overrideString(&cfg.STT.Command, "VOICE_PROXY_STT_COMMAND")
	overrideString(&cfg.STT.Endpoint, "VOICE_PROXY_STT_ENDPOINT")
	overrideString(&cfg.STT.APIKey, "VOICE_PROXY_STT_API_KEY")
	overrideString(&cfg.STT.Model, "VOICE_PROXY_STT_MODEL")
	overrideString(&cfg.STT.Language, "VOICE_PROXY_STT_LANGUAGE")
	overrideInt(&cfg.STT.TimeoutMS, "VOICE_PROXY_STT_TIMEOUT_MS")
	overrideString(&cfg.LLM.Mode, "VOICE_PROXY_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "VOICE_PROXY_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "VOICE_PROXY_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "VOICE_PROXY_LLM_MODEL")
	overrideString(&cfg.LLM.APIKey, "VOICE_PROXY_LLM_API_KEY")
	overrideString(&cfg.LLM.Prompt, "VOICE_PROXY_LLM_PROMPT")
	overrideBool(&cfg.LLM.AutoPull, "VOICE_PROXY_LLM_AUTO_PULL")
	overrideInt(&cfg.LLM.MaxTokens, "VOICE_PROXY_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "VOICE_PROXY_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "VOICE_PROXY_LLM_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "VOICE_PROXY_TTS_MODE")
	overrideString(&cfg.TTS.Endpoint, "VOICE_PROXY_TTS_ENDPOINT")
	overrideString(&cfg.TTS.Command, "VOICE_PROXY_TTS_COMMAND")
	overrideString(&cfg.TTS.Model, "VOICE_PROXY_TTS_MODEL")
	overrideString(&cfg.TTS.Voice, "VOICE_PROXY_TTS_VOICE")
	overrideFloat(&cfg.TTS.Speed, "VOICE_PROXY_TTS_SPEED")
	overrideFloat(&cfg.TTS.Pitch, "VOICE_PROXY_TTS_PITCH")
	overrideInt(&cfg.TTS.TimeoutMS, "VOICE_PROXY_TTS_TIMEOUT_MS")
	overrideInt(&cfg.TTS.CloneTimeoutMS, "VOICE_PROXY_TTS_CLONE_TIMEOUT_MS")
	overrideBool(&cfg.Monitor.Enabled, "VOICE_PROXY_MONITOR_ENABLED")
	overrideInt(&cfg.Monitor.IntervalMS, "VOICE_PROXY_MONITOR_INTERVAL_MS")
	overrideInt(&cfg.Monitor.ProbeMS, "VOICE_PROXY_MONITOR_PROBE_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.SubjectPrefix == "" {
			return errors.New("bus.subject_prefix must not be empty")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	switch cfg.Audio.BitDepth {
	case 8, 16, 24, 32:
	default:
		return errors.New("audio.bit_depth must be one of 8|16|24|32")
	}
	if cfg.Realtime.ChunkDurationMS <= 0 {
		return errors.New("realtime.chunk_duration_ms must be positive")
	}
	if cfg.Realtime.SilenceThreshold < 0 || cfg.Realtime.SilenceThreshold > 1 {
		return errors.New("realtime.silence_threshold must be between 0 and 1")
	}
	if cfg.Realtime.MaxBufferMS < 0 {
		return errors.New("realtime.max_buffer_ms must be >= 0")
	}
	if cfg.Realtime.MaxBufferMS > 0 && cfg.Realtime.MaxBufferMS < cfg.Realtime.ChunkDurationMS {
		return errors.New("realtime.max_buffer_ms must be at least one chunk long")
	}
	switch cfg.Capture.Mode {
	case "mock":
	case "exec":
		if cfg.Capture.Command == "" {
			return errors.New("capture.command must be set when mode=exec")
		}
	default:
		return errors.New("capture.mode must be one of exec|mock")
	}
	switch cfg.Playback.Mode {
	case "mock":
	case "exec":
		if cfg.Playback.Command == "" {
			return errors.New("playback.command must be set when mode=exec")
		}
	default:
		return errors.New("playback.mode must be one of exec|mock")
	}
	switch cfg.STT.Mode {
	case "mock":
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	case "remote":
		if cfg.STT.Endpoint == "" {
			return errors.New("stt.endpoint must be set when mode=remote")
		}
	default:
		return errors.New("stt.mode must be one of exec|remote|mock")
	}
	switch cfg.LLM.Mode {
	case "mock":
	case "ollama", "openai":
		if cfg.LLM.Endpoint == "" {
			return fmt.Errorf("llm.endpoint must be set when mode=%s", cfg.LLM.Mode)
		}
	case "exec":
		if cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
	default:
		return errors.New("llm.mode must be one of ollama|exec|openai|mock")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock":
	case "remote":
		if cfg.TTS.Endpoint == "" {
			return errors.New("tts.endpoint must be set when mode=remote")
		}
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	default:
		return errors.New("tts.mode must be one of remote|exec|mock")
	}
	for name, ms := range map[string]int{
		"stt.timeout_ms":       cfg.STT.TimeoutMS,
		"llm.timeout_ms":       cfg.LLM.TimeoutMS,
		"tts.timeout_ms":       cfg.TTS.TimeoutMS,
		"tts.clone_timeout_ms": cfg.TTS.CloneTimeoutMS,
	} {
		if ms <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if cfg.Monitor.Enabled && cfg.Monitor.IntervalMS <= 0 {
		return errors.New("monitor.interval_ms must be positive when the monitor is enabled")
	}
	return nil
}
