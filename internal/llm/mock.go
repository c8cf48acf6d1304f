package llm

import (
	"context"
	"strings"
	"sync"
)

// MockGenerator echoes prompts back or returns a scripted completion.
type MockGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

// Script sets the completion and error returned by later calls. An empty
// reply echoes the prompt.
func (m *MockGenerator) Script(reply string, err error) {
	m.mu.Lock()
	m.reply, m.err = reply, err
	m.mu.Unlock()
}

func (m *MockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	m.mu.Lock()
	m.prompts = append(m.prompts, req.Prompt)
	reply, err := m.reply, m.err
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if reply == "" {
		reply = "[improved] " + strings.TrimSpace(req.Prompt)
	}
	return consumer(Chunk{Content: reply})
}

func (m *MockGenerator) Available(context.Context) error { return nil }

// Prompts returns every prompt received so far.
func (m *MockGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
