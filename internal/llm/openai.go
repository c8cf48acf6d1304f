package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/voice-proxy/internal/fault"
	"github.com/sashabaranov/go-openai"
)

type openAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator targets any OpenAI-compatible chat endpoint. An empty
// endpoint uses the public API; otherwise requests go to endpoint/v1.
func NewOpenAIGenerator(endpoint, apiKey, model string) Generator {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = strings.TrimRight(endpoint, "/") + "/v1"
	}
	return &openAIGenerator{client: openai.NewClientWithConfig(cfg), model: model}
}

func (g *openAIGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return errors.New("openai returned no choices")
	}
	return consumer(Chunk{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Latency:          time.Since(start),
	})
}

func (g *openAIGenerator) Available(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	models, err := g.client.ListModels(ctx)
	if err != nil {
		return fault.Unavailable(fault.StageImprove, err)
	}
	for _, m := range models.Models {
		if m.ID == g.model || modelMatches(m.ID, g.model) {
			return nil
		}
	}
	return fault.Unavailable(fault.StageImprove, fmt.Errorf("model %s is not served", g.model))
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fault.FromStatus(fault.StageImprove, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fault.FromStatus(fault.StageImprove, reqErr.HTTPStatusCode, reqErr.Error())
	}
	return err
}
