package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/voice-proxy/internal/audio"
	"github.com/loqalabs/voice-proxy/internal/fault"
	"github.com/loqalabs/voice-proxy/internal/protocol"
	"github.com/loqalabs/voice-proxy/internal/tts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// run is one trip through the pipeline while holding the permit.
type run struct {
	id      string
	kind    string
	session string
	start   time.Time
	ctx     context.Context
	span    trace.Span
	release func()
	// chunkPath is where a chunk run writes its WAV container.
	chunkPath string
}

type input struct {
	pcm  []byte
	path string
	text string
}

// ProcessText improves and synthesizes text without transcription. It fails
// with a StateConflict error if another run holds the permit.
func (o *Orchestrator) ProcessText(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyInput
	}
	r, err := o.begin(ctx, protocol.RunText, text)
	if err != nil {
		return Result{}, err
	}
	res, err := o.execute(r, input{text: text})
	if err != nil {
		o.fail(r, err)
		return Result{}, err
	}
	o.finish(r, res)
	return res, nil
}

// ProcessAudioFile runs every stage on a recorded file.
func (o *Orchestrator) ProcessAudioFile(ctx context.Context, path string) (Result, error) {
	if strings.TrimSpace(path) == "" {
		return Result{}, fmt.Errorf("%w: audio file path is required", ErrInvalidInput)
	}
	if _, err := os.Stat(path); err != nil {
		return Result{}, fmt.Errorf("%w: audio file: %v", ErrInvalidInput, err)
	}
	r, err := o.begin(ctx, protocol.RunAudio, path)
	if err != nil {
		return Result{}, err
	}
	res, err := o.execute(r, input{path: path})
	if err != nil {
		o.fail(r, err)
		return Result{}, err
	}
	o.finish(r, res)
	return res, nil
}

func (o *Orchestrator) begin(ctx context.Context, kind, in string) (*run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	release, ok := o.token.tryAcquire()
	if !ok {
		o.logger.Warn("pipeline busy, rejecting request", slog.String("kind", kind))
		return nil, fault.Conflict("a pipeline run is already in progress")
	}
	return o.startRunLocked(ctx, release, kind, in, 0, o.sessionID), nil
}

func (o *Orchestrator) startRunLocked(ctx context.Context, release func(), kind, in string, size int, session string) *run {
	ctx, span := o.tracer.Start(ctx, "voiceproxy.run", trace.WithAttributes(
		attribute.String("run.kind", kind),
		attribute.Int("run.bytes", size),
	))
	r := &run{
		id:      uuid.NewString(),
		kind:    kind,
		session: session,
		start:   time.Now(),
		ctx:     ctx,
		span:    span,
		release: release,
	}
	if kind == protocol.RunChunk {
		r.chunkPath = o.chunkPath(r.id)
		in = r.chunkPath
	}
	o.runs.Add(1)
	o.logger.Debug("pipeline run started", slog.String("run_id", r.id), slog.String("kind", kind), slog.Int("bytes", size))
	o.publish(protocol.EventProcessingStarted, session, r.id, protocol.ProcessingStarted{Type: kind, Input: in, Bytes: size})
	return r
}

func (o *Orchestrator) runChunk(r *run, pcm []byte) {
	res, err := o.execute(r, input{pcm: pcm})
	if err != nil {
		o.fail(r, err)
		return
	}
	// a playback failure is reported but the run still completes
	_ = o.play(r.ctx, res.Audio, r.session, r.id)
	o.finish(r, res)
}

// execute runs the stages for in. Transcription is skipped for text input.
func (o *Orchestrator) execute(r *run, in input) (Result, error) {
	ctx := r.ctx
	path := in.path
	if in.pcm != nil {
		cleanup, err := o.writeChunk(ctx, r.chunkPath, in.pcm)
		if err != nil {
			return Result{}, err
		}
		defer cleanup()
		path = r.chunkPath
	}

	var res Result
	text := in.text
	if path != "" {
		var transcript string
		err := o.stage(ctx, fault.StageTranscribe, func(ctx context.Context) error {
			var err error
			transcript, err = o.deps.Transcriber.Transcribe(ctx, path)
			return err
		})
		if err != nil {
			return Result{}, err
		}
		o.mu.Lock()
		o.lastTranscript = transcript
		o.mu.Unlock()
		if strings.TrimSpace(transcript) == "" {
			return Result{}, fault.New(fault.EmptyTranscript, fault.StageTranscribe, errors.New("no speech detected in audio"))
		}
		res.Transcript = transcript
		text = transcript
	}

	_ = o.stage(ctx, fault.StageImprove, func(ctx context.Context) error {
		res.ImprovedText, _ = o.deps.Improver.Rephrase(ctx, text)
		return nil
	})

	err := o.stage(ctx, fault.StageSynthesize, func(ctx context.Context) error {
		var err error
		res.Audio, err = o.deps.Synthesizer.Synthesize(ctx, tts.Request{
			Text:  res.ImprovedText,
			Voice: o.voice(),
			Speed: o.opts.Speed,
			Pitch: o.opts.Pitch,
		})
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (o *Orchestrator) chunkPath(runID string) string {
	dir := o.opts.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "voiceproxy_chunk_"+runID+".wav")
}

// writeChunk wraps pcm in a WAV container at path. The returned cleanup
// removes it; removal failures are only logged.
func (o *Orchestrator) writeChunk(ctx context.Context, path string, pcm []byte) (func(), error) {
	err := o.stage(ctx, fault.StageConvert, func(context.Context) error {
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return fmt.Errorf("create chunk file: %w", err)
		}
		if _, err := file.Write(audio.ToWAV(pcm, o.opts.Format)); err != nil {
			file.Close()
			os.Remove(path)
			return fmt.Errorf("write chunk file: %w", err)
		}
		return file.Close()
	})
	if err != nil {
		return nil, err
	}
	cleanup := func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			o.logger.Warn("failed to remove chunk file", slog.String("path", path), slogError(err))
		}
	}
	return cleanup, nil
}

func (o *Orchestrator) stage(ctx context.Context, stage fault.Stage, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "voiceproxy.stage."+string(stage))
	defer span.End()
	start := time.Now()
	err := fault.Classify(stage, fn(ctx))
	o.metrics.recordStage(ctx, stage, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (o *Orchestrator) voice() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.activeVoiceID != "" {
		return o.activeVoiceID
	}
	return o.opts.Voice
}

func (o *Orchestrator) finish(r *run, res Result) {
	complete := protocol.ProcessingComplete{
		Transcript:   res.Transcript,
		ImprovedText: res.ImprovedText,
		AudioSize:    len(res.Audio),
	}
	if r.kind != protocol.RunChunk {
		complete.AudioBuffer = res.Audio
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastImprovedText = res.ImprovedText
	o.publish(protocol.EventProcessingComplete, r.session, r.id, complete)
	if r.kind == protocol.RunChunk {
		o.logger.Info("chunk processed",
			slog.String("transcript", res.Transcript),
			slog.String("improved", res.ImprovedText))
		o.publish(protocol.EventChunkProcessed, r.session, r.id, protocol.ChunkProcessed{
			Transcript:   res.Transcript,
			ImprovedText: res.ImprovedText,
			AudioSize:    len(res.Audio),
		})
	}
	o.endRunLocked(r, "ok")
}

func (o *Orchestrator) fail(r *run, err error) {
	if fault.Is(err, fault.EmptyTranscript) {
		o.logger.Warn("pipeline run produced no speech", slog.String("run_id", r.id))
	} else {
		o.logger.Error("pipeline run failed", slog.String("run_id", r.id), slog.String("kind", r.kind), slogError(err))
	}
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())

	o.mu.Lock()
	defer o.mu.Unlock()
	o.publish(protocol.EventError, r.session, r.id, errorPayload(err))
	o.endRunLocked(r, string(fault.KindOf(err)))
}

// endRunLocked releases the permit and immediately looks for queued work.
func (o *Orchestrator) endRunLocked(r *run, outcome string) {
	r.span.SetAttributes(attribute.String("run.outcome", outcome))
	r.span.End()
	o.metrics.recordRun(o.ctx, r.kind, outcome)
	o.logger.Debug("pipeline run finished",
		slog.String("run_id", r.id),
		slog.String("outcome", outcome),
		slog.Duration("elapsed", time.Since(r.start)))
	r.release()
	o.maybeDispatchLocked()
	o.runs.Done()
}

func errorPayload(err error) protocol.Error {
	payload := protocol.Error{Message: err.Error()}
	var fe *fault.Error
	if errors.As(err, &fe) {
		payload.Kind = string(fe.Kind)
		payload.Stage = string(fe.Stage)
	}
	return payload
}

func (o *Orchestrator) play(ctx context.Context, data []byte, session, runID string) error {
	err := o.stage(ctx, fault.StagePlayback, func(ctx context.Context) error {
		return o.deps.Player.Play(ctx, data, o.opts.OutputDevice)
	})
	if err != nil {
		o.logger.Warn("virtual mic playback failed", slogError(err))
		o.publish(protocol.EventError, session, runID, errorPayload(err))
		return err
	}
	o.publish(protocol.EventAudioPlayed, session, runID, protocol.AudioPlayed{Size: len(data)})
	return nil
}

// PlayToVirtualMic sends audio to the configured output device.
func (o *Orchestrator) PlayToVirtualMic(ctx context.Context, data []byte) error {
	o.mu.Lock()
	session := o.sessionID
	o.mu.Unlock()
	return o.play(ctx, data, session, "")
}

// CloneVoice registers a voice from the sample at samplePath and makes it the
// active voice for later synthesis.
func (o *Orchestrator) CloneVoice(ctx context.Context, samplePath, name string) (string, error) {
	if strings.TrimSpace(samplePath) == "" || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: samplePath and voiceName are required", ErrInvalidInput)
	}
	sample, err := os.ReadFile(samplePath)
	if err != nil {
		return "", fmt.Errorf("%w: sample audio file: %v", ErrInvalidInput, err)
	}
	if info, err := audio.InspectWAV(sample); err == nil {
		o.logger.Info("cloning voice from wav sample",
			slog.String("voice_name", name),
			slog.Duration("duration", info.Duration),
			slog.Int("sample_rate", info.Format.SampleRate))
	} else {
		o.logger.Info("cloning voice", slog.String("voice_name", name), slog.Int("bytes", len(sample)))
	}

	var voiceID string
	err = o.stage(ctx, fault.StageClone, func(ctx context.Context) error {
		var err error
		voiceID, err = o.deps.Synthesizer.CloneVoice(ctx, tts.CloneRequest{
			Name:     name,
			Filename: filepath.Base(samplePath),
			Sample:   sample,
		})
		return err
	})

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.logger.Error("voice cloning failed", slogError(err))
		o.publish(protocol.EventError, o.sessionID, "", errorPayload(err))
		return "", err
	}
	o.activeVoiceID = voiceID
	o.logger.Info("voice cloned", slog.String("voice_id", voiceID), slog.String("voice_name", name))
	o.publish(protocol.EventVoiceCloned, o.sessionID, "", protocol.VoiceCloned{VoiceID: voiceID, VoiceName: name})
	return voiceID, nil
}
