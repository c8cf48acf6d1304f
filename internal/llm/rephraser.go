package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Rephraser rewrites transcripts through a Generator. It never fails: any
// backend error, timeout or empty completion yields the original text.
type Rephraser struct {
	generator   Generator
	prompt      string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	logger      *slog.Logger
}

// RephraserOptions tunes prompt construction and limits.
type RephraserOptions struct {
	// Prompt must contain a single %s for the input text.
	Prompt      string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

func NewRephraser(generator Generator, opts RephraserOptions, logger *slog.Logger) *Rephraser {
	if !strings.Contains(opts.Prompt, "%s") {
		opts.Prompt = strings.TrimSpace(opts.Prompt) + ` "%s"`
	}
	return &Rephraser{
		generator:   generator,
		prompt:      opts.Prompt,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		timeout:     opts.Timeout,
		logger:      logger.With(slog.String("component", "llm")),
	}
}

// Rephrase returns the improved text and whether the model's output was used.
func (r *Rephraser) Rephrase(ctx context.Context, text string) (string, bool) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var out strings.Builder
	start := time.Now()
	err := r.generator.Generate(ctx, Request{
		Prompt:      fmt.Sprintf(r.prompt, text),
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
	}, func(chunk Chunk) error {
		out.WriteString(chunk.Content)
		return nil
	})
	if err != nil {
		r.logger.Warn("text improvement failed, using original text", slogError(err))
		return text, false
	}
	improved := strings.TrimSpace(out.String())
	if improved == "" {
		r.logger.Warn("text improvement returned nothing, using original text")
		return text, false
	}
	r.logger.Debug("text improved", slog.Duration("latency", time.Since(start)))
	return improved, true
}

func (r *Rephraser) Available(ctx context.Context) error {
	return r.generator.Available(ctx)
}

// Prepare fetches the model when the backend supports it.
func (r *Rephraser) Prepare(ctx context.Context) error {
	p, ok := r.generator.(Preparer)
	if !ok {
		return nil
	}
	return p.Prepare(ctx)
}
