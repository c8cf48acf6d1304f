package runtime

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/voice-proxy/internal/audio"
	"github.com/loqalabs/voice-proxy/internal/capture"
	"github.com/loqalabs/voice-proxy/internal/config"
	"github.com/loqalabs/voice-proxy/internal/llm"
	"github.com/loqalabs/voice-proxy/internal/orchestrator"
	"github.com/loqalabs/voice-proxy/internal/playback"
	"github.com/loqalabs/voice-proxy/internal/stt"
	"github.com/loqalabs/voice-proxy/internal/tts"
)

// buildEngines constructs every port from its configured mode. The voice
// lister is nil when the synthesis backend cannot enumerate voices.
func buildEngines(cfg config.Config, logger *slog.Logger) (orchestrator.Deps, tts.VoiceLister, error) {
	var deps orchestrator.Deps
	format := audio.Format{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		BitDepth:   cfg.Audio.BitDepth,
	}

	switch cfg.Capture.Mode {
	case "exec":
		c, err := capture.NewExecCapturer(cfg.Capture.Command, cfg.Capture.DevicesCommand, cfg.Audio.InputDevice, format, logger)
		if err != nil {
			return deps, nil, err
		}
		deps.Capturer = c
	case "mock":
		deps.Capturer = capture.NewMock(format, time.Duration(cfg.Capture.MockFrameMS)*time.Millisecond, cfg.Audio.OutputDevice, logger)
	default:
		return deps, nil, fmt.Errorf("unsupported capture mode %q", cfg.Capture.Mode)
	}

	switch cfg.Playback.Mode {
	case "exec":
		p, err := playback.NewExecPlayer(cfg.Playback.Command, logger)
		if err != nil {
			return deps, nil, err
		}
		deps.Player = p
	case "mock":
		deps.Player = playback.NewMock()
	default:
		return deps, nil, fmt.Errorf("unsupported playback mode %q", cfg.Playback.Mode)
	}

	transcriber, err := stt.New(cfg.STT, logger)
	if err != nil {
		return deps, nil, err
	}
	deps.Transcriber = transcriber

	generator, err := llm.NewGenerator(cfg.LLM)
	if err != nil {
		return deps, nil, err
	}
	deps.Improver = llm.NewRephraser(generator, llm.RephraserOptions{
		Prompt:      cfg.LLM.Prompt,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     time.Duration(cfg.LLM.TimeoutMS) * time.Millisecond,
	}, logger)

	synth, err := tts.New(cfg.TTS)
	if err != nil {
		return deps, nil, err
	}
	deps.Synthesizer = synth
	voices, _ := synth.(tts.VoiceLister)

	logger.Info("engines configured",
		slog.String("capture", cfg.Capture.Mode),
		slog.String("playback", cfg.Playback.Mode),
		slog.String("stt", cfg.STT.Mode),
		slog.String("llm", cfg.LLM.Mode),
		slog.String("tts", cfg.TTS.Mode))
	return deps, voices, nil
}
