package stt

import (
	"context"
	"os"
	"sync"
)

// Call records one Transcribe invocation.
type Call struct {
	Path string
	// Size is the size of the file at call time, or -1 if it could not be read.
	Size int64
}

// Mock returns scripted transcripts and records every file it was asked to
// transcribe.
type Mock struct {
	mu    sync.Mutex
	text  string
	err   error
	calls []Call
	// OnTranscribe, when set, runs before the scripted result is returned.
	OnTranscribe func(ctx context.Context, path string)
}

func NewMock(text string) *Mock {
	return &Mock{text: text}
}

// Script sets the transcript and error returned by later calls.
func (m *Mock) Script(text string, err error) {
	m.mu.Lock()
	m.text, m.err = text, err
	m.mu.Unlock()
}

func (m *Mock) Transcribe(ctx context.Context, path string) (string, error) {
	size := int64(-1)
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	m.mu.Lock()
	m.calls = append(m.calls, Call{Path: path, Size: size})
	hook := m.OnTranscribe
	text, err := m.text, m.err
	m.mu.Unlock()
	if hook != nil {
		hook(ctx, path)
	}
	return text, err
}

func (m *Mock) Available(context.Context) error { return nil }

// Calls returns a snapshot of recorded invocations.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}
