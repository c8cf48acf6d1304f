package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/voice-proxy/internal/execcmd"
	"github.com/loqalabs/voice-proxy/internal/fault"
)

type execGenerator struct {
	cmd []string
	mu  sync.Mutex
}

// NewExecGenerator runs command once per prompt, writing the prompt to stdin
// and reading the completion from stdout. {model} is substituted.
func NewExecGenerator(command, model string) (Generator, error) {
	args, err := execcmd.Parse(command, execcmd.Vars{"model": model})
	if err != nil {
		return nil, fmt.Errorf("llm command: %w", err)
	}
	return &execGenerator{cmd: args}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	start := time.Now()
	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdin = strings.NewReader(req.Prompt)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("llm exec command: %w", ctxErr)
		}
		return fmt.Errorf("llm exec command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return consumer(Chunk{
		Content: string(output),
		Partial: false,
		Latency: time.Since(start),
	})
}

func (g *execGenerator) Available(ctx context.Context) error {
	if _, err := exec.LookPath(g.cmd[0]); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fault.Unavailable(fault.StageImprove, fmt.Errorf("%s not installed: %w", g.cmd[0], err))
		}
		return fault.Unavailable(fault.StageImprove, err)
	}
	return nil
}
