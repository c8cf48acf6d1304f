// Package playback routes synthesized audio to an output device, normally
// the virtual microphone.
package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/loqalabs/voice-proxy/internal/execcmd"
)

// ErrEmptyAudio is returned when there is nothing to play.
var ErrEmptyAudio = errors.New("audio payload is empty")

// Player plays an encoded audio file to a named device.
type Player interface {
	Play(ctx context.Context, audio []byte, device string) error
}

type execPlayer struct {
	command string
	log     *slog.Logger
}

// NewExecPlayer returns a player that writes audio to a temp file and runs
// command with {file} and {device} substituted.
func NewExecPlayer(command string, log *slog.Logger) (Player, error) {
	if _, err := execcmd.Parse(command, nil); err != nil {
		return nil, fmt.Errorf("playback command: %w", err)
	}
	if !execcmd.HasPlaceholder(command, "file") {
		return nil, fmt.Errorf("playback command must reference {file}")
	}
	return &execPlayer{command: command, log: log.With(slog.String("component", "playback"))}, nil
}

func (p *execPlayer) Play(ctx context.Context, audio []byte, device string) error {
	if len(audio) == 0 {
		return ErrEmptyAudio
	}
	file, err := os.CreateTemp("", "voiceproxy_play_*.wav")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	if _, err := file.Write(audio); err != nil {
		file.Close()
		return fmt.Errorf("write temp audio: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close temp audio: %w", err)
	}

	args, err := execcmd.Parse(p.command, execcmd.Vars{"file": file.Name(), "device": device})
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	p.log.Debug("audio played", slog.String("device", device), slog.Int("bytes", len(audio)))
	return nil
}

// Played records one call to a Mock player.
type Played struct {
	Device string
	Audio  []byte
}

// Mock records playback requests instead of producing sound.
type Mock struct {
	mu    sync.Mutex
	calls []Played
	err   error
}

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Play(ctx context.Context, audio []byte, device string) error {
	if len(audio) == 0 {
		return ErrEmptyAudio
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, Played{Device: device, Audio: append([]byte(nil), audio...)})
	return nil
}

// FailWith makes subsequent calls return err; nil restores success.
func (m *Mock) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Calls returns a snapshot of recorded playback.
func (m *Mock) Calls() []Played {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Played(nil), m.calls...)
}
