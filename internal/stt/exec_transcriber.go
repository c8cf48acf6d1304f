package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/voice-proxy/internal/execcmd"
	"github.com/loqalabs/voice-proxy/internal/fault"
)

type execTranscriber struct {
	cmd      []string
	model    string
	language string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewExecTranscriber runs a whisper-compatible CLI that writes a .txt
// transcript next to a requested output directory.
func NewExecTranscriber(command, model, language string, timeout time.Duration, logger *slog.Logger) (Transcriber, error) {
	args, err := execcmd.Parse(command, nil)
	if err != nil {
		return nil, fmt.Errorf("stt command: %w", err)
	}
	return &execTranscriber{
		cmd:      args,
		model:    model,
		language: language,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "stt"), slog.String("mode", "exec")),
	}, nil
}

func (t *execTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	outDir, err := os.MkdirTemp("", "voiceproxy_stt_*")
	if err != nil {
		return "", fmt.Errorf("temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(outDir); err != nil {
			t.logger.Warn("failed to remove transcript dir", slogError(err))
		}
	}()

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	args := append([]string{}, t.cmd[1:]...)
	args = append(args, path)
	if t.model != "" {
		args = append(args, "--model", t.model)
	}
	if t.language != "" {
		args = append(args, "--language", t.language)
	}
	args = append(args, "--output_format", "txt", "--output_dir", outDir)

	cmd := exec.CommandContext(ctx, t.cmd[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("stt command: %w", ctxErr)
		}
		if errors.Is(err, exec.ErrNotFound) {
			return "", fault.New(fault.StageFailure, fault.StageTranscribe, fmt.Errorf("%s not installed: %w", t.cmd[0], err))
		}
		return "", fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	data, err := os.ReadFile(filepath.Join(outDir, base+".txt"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (t *execTranscriber) Available(ctx context.Context) error {
	if _, err := exec.LookPath(t.cmd[0]); err != nil {
		return fault.Unavailable(fault.StageTranscribe, fmt.Errorf("%s not installed: %w", t.cmd[0], err))
	}
	return nil
}
