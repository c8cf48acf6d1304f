// Package orchestrator coordinates capture, transcription, text improvement,
// synthesis and playback. It owns the session state, the chunk buffer and the
// single pipeline run permit, and republishes lifecycle events to any number
// of subscribers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/voice-proxy/internal/audio"
	"github.com/loqalabs/voice-proxy/internal/capture"
	"github.com/loqalabs/voice-proxy/internal/config"
	"github.com/loqalabs/voice-proxy/internal/playback"
	"github.com/loqalabs/voice-proxy/internal/protocol"
	"github.com/loqalabs/voice-proxy/internal/stt"
	"github.com/loqalabs/voice-proxy/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrInvalidInput marks requests rejected before any stage runs.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmptyInput is returned for blank text.
	ErrEmptyInput = fmt.Errorf("%w: text is required", ErrInvalidInput)
)

// Improver rewrites text and never fails outward.
type Improver interface {
	Rephrase(ctx context.Context, text string) (string, bool)
	Available(ctx context.Context) error
}

// Deps are the engines the orchestrator drives.
type Deps struct {
	Capturer    capture.Capturer
	Transcriber stt.Transcriber
	Improver    Improver
	Synthesizer tts.Synthesizer
	Player      playback.Player
}

// Options are fixed for the orchestrator's lifetime.
type Options struct {
	Format        audio.Format
	ChunkDuration time.Duration
	// MaxBuffer caps buffered audio; zero disables the cap.
	MaxBuffer time.Duration
	// SilenceThreshold is reported but not applied.
	SilenceThreshold  float64
	OutputDevice      string
	VirtualDeviceHint string
	Voice             string
	Speed             float64
	Pitch             float64
	AutoPull          bool
	TempDir           string
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Format: audio.Format{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
			BitDepth:   cfg.Audio.BitDepth,
		},
		ChunkDuration:     time.Duration(cfg.Realtime.ChunkDurationMS) * time.Millisecond,
		MaxBuffer:         time.Duration(cfg.Realtime.MaxBufferMS) * time.Millisecond,
		SilenceThreshold:  cfg.Realtime.SilenceThreshold,
		OutputDevice:      cfg.Audio.OutputDevice,
		VirtualDeviceHint: cfg.Audio.VirtualDeviceHint,
		Voice:             cfg.TTS.Voice,
		Speed:             cfg.TTS.Speed,
		Pitch:             cfg.TTS.Pitch,
		AutoPull:          cfg.LLM.AutoPull,
	}
}

// Result is the outcome of one pipeline run.
type Result struct {
	Transcript   string
	ImprovedText string
	Audio        []byte
}

type Orchestrator struct {
	opts      Options
	deps      Deps
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *metrics
	threshold int
	token     *runToken

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	runs   sync.WaitGroup

	mu               sync.Mutex
	listening        bool
	sessionID        string
	buffer           *audio.Buffer
	pendingFinals    []finalChunk
	expectStopped    int
	lastTranscript   string
	lastImprovedText string
	activeVoiceID    string

	subsMu  sync.Mutex
	subs    map[int]chan protocol.Event
	nextSub int
	closed  bool
}

func New(opts Options, deps Deps, logger *slog.Logger) (*Orchestrator, error) {
	if err := opts.Format.Validate(); err != nil {
		return nil, fmt.Errorf("audio format: %w", err)
	}
	threshold := opts.Format.BytesFor(opts.ChunkDuration)
	if threshold <= 0 {
		return nil, fmt.Errorf("chunk duration %s is too short", opts.ChunkDuration)
	}
	if opts.MaxBuffer < 0 || (opts.MaxBuffer > 0 && opts.MaxBuffer < opts.ChunkDuration) {
		return nil, fmt.Errorf("max buffer %s must be zero or at least one chunk (%s)", opts.MaxBuffer, opts.ChunkDuration)
	}
	if deps.Capturer == nil || deps.Transcriber == nil || deps.Improver == nil || deps.Synthesizer == nil || deps.Player == nil {
		return nil, errors.New("orchestrator requires capture, transcription, improvement, synthesis and playback engines")
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		opts:      opts,
		deps:      deps,
		logger:    logger.With(slog.String("component", "orchestrator")),
		tracer:    otel.Tracer(instrumentationName),
		threshold: threshold,
		token:     newRunToken(),
		ctx:       ctx,
		cancel:    cancel,
		buffer:    audio.NewBuffer(opts.Format.BytesFor(opts.MaxBuffer)),
		subs:      make(map[int]chan protocol.Event),
	}
	o.metrics = newMetrics(o.bufferedBytes, o.logger)

	o.wg.Add(1)
	go o.pump()

	o.logger.Info("orchestrator ready",
		slog.Int("chunk_bytes", threshold),
		slog.Duration("chunk_duration", opts.ChunkDuration),
		slog.Float64("silence_threshold", opts.SilenceThreshold))
	return o, nil
}

// Drain stops capture and waits until every pipeline run, including the
// final chunk, has finished or ctx is done.
func (o *Orchestrator) Drain(ctx context.Context) error {
	o.StopRealTime()
	done := make(chan struct{})
	go func() {
		o.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		o.logger.Warn("gave up waiting for pipeline runs", slogError(ctx.Err()))
		return ctx.Err()
	}
}

// Close stops capture, cancels in-flight work and closes every subscription.
func (o *Orchestrator) Close() {
	o.StopRealTime()
	o.cancel()
	o.wg.Wait()
	o.runs.Wait()

	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	o.closed = true
	for id, ch := range o.subs {
		close(ch)
		delete(o.subs, id)
	}
}

// ChunkBytes is the buffered size that triggers a dispatch.
func (o *Orchestrator) ChunkBytes() int { return o.threshold }

// State returns a snapshot of the session.
func (o *Orchestrator) State() protocol.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return protocol.State{
		IsListening:      o.listening,
		IsProcessing:     o.token.held(),
		LastTranscript:   o.lastTranscript,
		LastImprovedText: o.lastImprovedText,
		ActiveVoiceID:    o.activeVoiceID,
		SessionID:        o.sessionID,
		BufferedBytes:    o.buffer.Len() + o.pendingBytesLocked(),
	}
}

// finalChunk is the remainder of a stopped session waiting for the permit.
type finalChunk struct {
	pcm     []byte
	session string
}

func (o *Orchestrator) pendingBytesLocked() int {
	n := 0
	for _, f := range o.pendingFinals {
		n += len(f.pcm)
	}
	return n
}

func (o *Orchestrator) bufferedBytes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buffer.Len()
}

// Subscribe registers an event listener with a channel of the given capacity.
// A listener that falls behind misses events rather than stalling the
// pipeline. The returned func unsubscribes and closes the channel.
func (o *Orchestrator) Subscribe(size int) (<-chan protocol.Event, func()) {
	if size <= 0 {
		size = 64
	}
	ch := make(chan protocol.Event, size)

	o.subsMu.Lock()
	if o.closed {
		o.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	o.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.subsMu.Lock()
			defer o.subsMu.Unlock()
			if c, ok := o.subs[id]; ok {
				delete(o.subs, id)
				close(c)
			}
		})
	}
}

func (o *Orchestrator) publish(typ protocol.EventType, sessionID, runID string, data any) {
	evt := protocol.Event{
		Type:      typ,
		SessionID: sessionID,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	for id, ch := range o.subs {
		select {
		case ch <- evt:
		default:
			o.logger.Warn("subscriber lagging, dropping event",
				slog.Int("subscriber", id),
				slog.String("event", string(typ)))
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
