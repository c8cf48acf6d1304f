package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/voice-proxy/internal/fault"
	"github.com/sashabaranov/go-openai"
)

const probeTimeout = 5 * time.Second

type remoteTranscriber struct {
	endpoint string
	client   *openai.Client
	http     *http.Client
	model    string
	language string
	timeout  time.Duration
}

// NewRemoteTranscriber talks to an OpenAI-compatible transcription service
// rooted at endpoint (requests go to endpoint/v1/audio/transcriptions).
func NewRemoteTranscriber(endpoint, apiKey, model, language string, timeout time.Duration) Transcriber {
	endpoint = strings.TrimRight(endpoint, "/")
	httpClient := &http.Client{}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = endpoint + "/v1"
	cfg.HTTPClient = httpClient
	return &remoteTranscriber{
		endpoint: endpoint,
		client:   openai.NewClientWithConfig(cfg),
		http:     httpClient,
		model:    model,
		language: language,
		timeout:  timeout,
	}
}

func (t *remoteTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: path,
		Language: t.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", classifyOpenAIError(fault.StageTranscribe, err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (t *remoteTranscriber) Available(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return fault.Unavailable(fault.StageTranscribe, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fault.Unavailable(fault.StageTranscribe, fmt.Errorf("health returned status %s", resp.Status))
	}
	return nil
}

func classifyOpenAIError(stage fault.Stage, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fault.FromStatus(stage, apiErr.HTTPStatusCode, http.StatusText(apiErr.HTTPStatusCode))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fault.FromStatus(stage, reqErr.HTTPStatusCode, http.StatusText(reqErr.HTTPStatusCode))
	}
	return err
}
