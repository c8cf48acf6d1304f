package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/voice-proxy/internal/audio"
)

// Mock produces silent frames on a ticker while running. Tests inject
// specific fragments with Emit.
type Mock struct {
	format       audio.Format
	frame        time.Duration
	outputDevice string
	log          *slog.Logger

	events chan Event

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMock returns a capturer that emits frame-sized silence every frame.
// A zero frame disables the ticker so only Emit produces audio.
func NewMock(format audio.Format, frame time.Duration, outputDevice string, log *slog.Logger) *Mock {
	return &Mock{
		format:       format,
		frame:        frame,
		outputDevice: outputDevice,
		log:          log.With(slog.String("component", "capture"), slog.String("mode", "mock")),
		events:       make(chan Event, 64),
	}
}

func (m *Mock) Events() <-chan Event { return m.events }

func (m *Mock) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Mock) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		m.log.Warn("capture already running")
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(loopCtx, m.done)
	return nil
}

func (m *Mock) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	if m.frame <= 0 {
		<-ctx.Done()
		return
	}
	silence := make([]byte, m.format.BytesFor(m.frame))
	ticker := time.NewTicker(m.frame)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.events <- Event{Kind: Fragment, Data: append([]byte(nil), silence...)}
		}
	}
}

func (m *Mock) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	m.events <- Event{Kind: Stopped}
	return nil
}

// Emit injects a fragment as if it had been captured.
func (m *Mock) Emit(data []byte) {
	m.events <- Event{Kind: Fragment, Data: append([]byte(nil), data...)}
}

// Fail simulates an abnormal end of capture.
func (m *Mock) Fail(err error) {
	m.mu.Lock()
	wasRunning := m.running
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if wasRunning {
		cancel()
		<-done
	}
	m.events <- Event{Kind: Failed, Err: err}
	m.events <- Event{Kind: Stopped}
}

func (m *Mock) Devices(ctx context.Context) (DeviceList, error) {
	list := DeviceList{
		Input:  []string{"Mock Microphone"},
		Output: []string{"Mock Speakers"},
	}
	if m.outputDevice != "" {
		list.Output = append(list.Output, m.outputDevice)
	}
	return list, nil
}
