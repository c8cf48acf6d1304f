// Package stt turns recorded speech into text.
package stt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/voice-proxy/internal/config"
)

// Transcriber abstracts speech-to-text backends.
type Transcriber interface {
	// Transcribe returns the text spoken in the audio container at path. An
	// empty string means no speech was recognised.
	Transcribe(ctx context.Context, path string) (string, error)
	// Available is a cheap probe of whether the backend can be used.
	Available(ctx context.Context) error
}

// New builds the transcriber selected by cfg.Mode.
func New(cfg config.STTConfig, logger *slog.Logger) (Transcriber, error) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	switch cfg.Mode {
	case "exec":
		return NewExecTranscriber(cfg.Command, cfg.Model, cfg.Language, timeout, logger)
	case "remote":
		return NewRemoteTranscriber(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.Language, timeout), nil
	case "mock":
		return NewMock("mock transcript"), nil
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
