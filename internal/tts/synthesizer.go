// Package tts synthesizes speech and registers cloned voices.
package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/voice-proxy/internal/audio"
	"github.com/loqalabs/voice-proxy/internal/config"
)

// Request contains parameters to synthesize speech.
type Request struct {
	Text  string
	Voice string
	Speed float64
	Pitch float64
}

// CloneRequest registers a new voice from a recorded sample.
type CloneRequest struct {
	Name     string
	Filename string
	Sample   []byte
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	// Synthesize returns encoded audio for req.Text.
	Synthesize(ctx context.Context, req Request) ([]byte, error)
	// CloneVoice returns an opaque voice identifier.
	CloneVoice(ctx context.Context, req CloneRequest) (string, error)
	Available(ctx context.Context) error
}

// VoiceLister is implemented by backends that can enumerate voices.
type VoiceLister interface {
	Voices(ctx context.Context) ([]string, error)
}

// New builds the synthesizer selected by cfg.Mode.
func New(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "remote":
		return NewRemoteSynth(cfg.Endpoint, cfg.Model,
			time.Duration(cfg.TimeoutMS)*time.Millisecond,
			time.Duration(cfg.CloneTimeoutMS)*time.Millisecond), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "mock":
		return NewMockSynth(audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels, BitDepth: 16}), nil
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}
