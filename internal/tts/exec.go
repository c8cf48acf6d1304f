package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/loqalabs/voice-proxy/internal/audio"
	"github.com/loqalabs/voice-proxy/internal/execcmd"
	"github.com/loqalabs/voice-proxy/internal/fault"
)

// ErrCloneUnsupported is returned by backends that cannot register voices.
var ErrCloneUnsupported = errors.New("voice cloning is not supported by this tts backend")

type execSynth struct {
	cmd    []string
	format audio.Format
	mu     sync.Mutex
}

type execRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice"`
	Speed      float64 `json:"speed"`
	Pitch      float64 `json:"pitch"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

// NewExecSynth runs command once per request. The request is written to
// stdin as JSON; stdout carries newline-delimited JSON frames of base64
// 16-bit PCM, which are joined into a single WAV.
func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	args, err := execcmd.Parse(command, nil)
	if err != nil {
		return nil, fmt.Errorf("tts command: %w", err)
	}
	format := audio.Format{SampleRate: sampleRate, Channels: channels, BitDepth: 16}
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("tts output format: %w", err)
	}
	return &execSynth{cmd: args, format: format}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(execRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		Speed:      req.Speed,
		Pitch:      req.Pitch,
		SampleRate: e.format.SampleRate,
		Channels:   e.format.Channels,
	})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var pcm []byte
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			_ = cmd.Wait()
			return nil, fmt.Errorf("decode tts frame: %w", err)
		}
		frame, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			_ = cmd.Wait()
			return nil, fmt.Errorf("decode tts pcm: %w", err)
		}
		pcm = append(pcm, frame...)
		if resp.Final {
			break
		}
	}
	scanErr := scanner.Err()
	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("tts command: %w", ctxErr)
		}
		return nil, fmt.Errorf("tts command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if scanErr != nil {
		return nil, scanErr
	}
	if len(pcm) == 0 {
		return nil, errors.New("tts command produced no audio")
	}
	return audio.ToWAV(pcm, e.format), nil
}

func (e *execSynth) CloneVoice(context.Context, CloneRequest) (string, error) {
	return "", fault.New(fault.StageFailure, fault.StageClone, ErrCloneUnsupported)
}

func (e *execSynth) Available(context.Context) error {
	if _, err := exec.LookPath(e.cmd[0]); err != nil {
		return fault.Unavailable(fault.StageSynthesize, fmt.Errorf("%s not installed: %w", e.cmd[0], err))
	}
	return nil
}
