package tts

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/voice-proxy/internal/audio"
)

// MockSynth returns silent WAV audio sized to the input and records every
// request it receives.
type MockSynth struct {
	format audio.Format

	mu       sync.Mutex
	requests []Request
	clones   []CloneRequest
	voiceID  string
	err      error
	cloneErr error
}

func NewMockSynth(format audio.Format) *MockSynth {
	return &MockSynth{format: format}
}

// Script sets the error returned by Synthesize.
func (m *MockSynth) Script(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// ScriptClone sets the identifier and error returned by CloneVoice. An empty
// id yields "mock-<name>".
func (m *MockSynth) ScriptClone(id string, err error) {
	m.mu.Lock()
	m.voiceID, m.cloneErr = id, err
	m.mu.Unlock()
}

func (m *MockSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	words := len(strings.Fields(req.Text))
	if words == 0 {
		words = 1
	}
	pcm := make([]byte, m.format.BytesFor(time.Duration(words)*100*time.Millisecond))
	return audio.ToWAV(pcm, m.format), nil
}

func (m *MockSynth) CloneVoice(ctx context.Context, req CloneRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clones = append(m.clones, req)
	if m.cloneErr != nil {
		return "", m.cloneErr
	}
	if m.voiceID != "" {
		return m.voiceID, nil
	}
	return "mock-" + req.Name, nil
}

func (m *MockSynth) Voices(context.Context) ([]string, error) {
	return []string{"default"}, nil
}

func (m *MockSynth) Available(context.Context) error { return nil }

// Requests returns the synthesis requests received so far.
func (m *MockSynth) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Clones returns the clone requests received so far.
func (m *MockSynth) Clones() []CloneRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CloneRequest(nil), m.clones...)
}
