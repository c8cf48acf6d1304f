package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/voice-proxy/internal/fault"
)

const probeTimeout = 5 * time.Second

type remoteSynth struct {
	endpoint     string
	model        string
	timeout      time.Duration
	cloneTimeout time.Duration
	client       *http.Client
}

// NewRemoteSynth talks to a Coqui-style TTS server.
func NewRemoteSynth(endpoint, model string, timeout, cloneTimeout time.Duration) Synthesizer {
	return &remoteSynth{
		endpoint:     strings.TrimRight(endpoint, "/"),
		model:        model,
		timeout:      timeout,
		cloneTimeout: cloneTimeout,
		client:       &http.Client{},
	}
}

type remoteRequest struct {
	Text      string  `json:"text"`
	ModelName string  `json:"model_name"`
	SpeakerID string  `json:"speaker_id"`
	Speed     float64 `json:"speed"`
	Pitch     float64 `json:"pitch"`
}

type cloneResponse struct {
	VoiceID string `json:"voice_id"`
}

type voicesResponse struct {
	Voices []string `json:"voices"`
}

func (s *remoteSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(remoteRequest{
		Text:      req.Text,
		ModelName: s.model,
		SpeakerID: req.Voice,
		Speed:     req.Speed,
		Pitch:     req.Pitch,
	})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/api/tts", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fault.FromStatus(fault.StageSynthesize, resp.StatusCode, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts response: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("tts returned no audio")
	}
	return data, nil
}

func (s *remoteSynth) CloneVoice(ctx context.Context, req CloneRequest) (string, error) {
	ctx, cancel := withTimeout(ctx, s.cloneTimeout)
	defer cancel()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("audio", req.Filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(req.Sample); err != nil {
		return "", err
	}
	if err := form.WriteField("voice_name", req.Name); err != nil {
		return "", err
	}
	if s.model != "" {
		if err := form.WriteField("model", s.model); err != nil {
			return "", err
		}
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/api/voice/clone", &body)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fault.FromStatus(fault.StageClone, resp.StatusCode, resp.Status)
	}
	var out cloneResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode clone response: %w", err)
	}
	if out.VoiceID == "" {
		return "", errors.New("clone response missing voice_id")
	}
	return out.VoiceID, nil
}

func (s *remoteSynth) Voices(ctx context.Context) ([]string, error) {
	ctx, cancel := withTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"/api/voices", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fault.Unavailable(fault.StageSynthesize, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fault.FromStatus(fault.StageSynthesize, resp.StatusCode, resp.Status)
	}
	var out voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode voices: %w", err)
	}
	if out.Voices == nil {
		out.Voices = []string{}
	}
	return out.Voices, nil
}

func (s *remoteSynth) Available(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fault.Unavailable(fault.StageSynthesize, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fault.Unavailable(fault.StageSynthesize, fmt.Errorf("health returned status %s", resp.Status))
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
