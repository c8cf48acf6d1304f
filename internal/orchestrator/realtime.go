package orchestrator

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/loqalabs/voice-proxy/internal/capture"
	"github.com/loqalabs/voice-proxy/internal/fault"
	"github.com/loqalabs/voice-proxy/internal/protocol"
)

// StartRealTime begins continuous capture. Starting while already listening
// logs a warning and returns nil.
func (o *Orchestrator) StartRealTime() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.listening {
		o.logger.Warn("real-time mode already active")
		return nil
	}
	if err := o.deps.Capturer.Start(o.ctx); err != nil {
		err = fault.Classify(fault.StageCapture, fmt.Errorf("start capture: %w", err))
		o.logger.Error("failed to start real-time mode", slogError(err))
		o.publish(protocol.EventError, "", "", errorPayload(err))
		return err
	}

	o.listening = true
	o.sessionID = uuid.NewString()
	o.buffer.Reset()
	o.logger.Info("real-time mode started", slog.String("session_id", o.sessionID))
	o.publish(protocol.EventRealTimeStarted, o.sessionID, "", nil)
	return nil
}

// StopRealTime ends capture. Audio still buffered is dispatched as one final
// chunk; an in-flight run is left to finish.
func (o *Orchestrator) StopRealTime() {
	o.mu.Lock()
	if !o.listening {
		o.mu.Unlock()
		return
	}
	o.expectStopped++
	o.endSessionLocked()
	o.mu.Unlock()

	// Stop waits for the capture reader, which may need the pump to make
	// progress, so it must run without holding mu.
	if err := o.deps.Capturer.Stop(); err != nil {
		o.logger.Warn("failed to stop capture", slogError(err))
	}
}

// endSessionLocked flushes the buffer into a final chunk and returns to idle.
func (o *Orchestrator) endSessionLocked() {
	session := o.sessionID
	o.listening = false
	if remainder := o.buffer.Drain(); len(remainder) > 0 {
		if release, ok := o.token.tryAcquire(); ok {
			o.dispatchChunkLocked(release, remainder, session)
		} else {
			o.pendingFinals = append(o.pendingFinals, finalChunk{pcm: remainder, session: session})
			o.logger.Debug("final chunk queued behind in-flight run",
				slog.String("session_id", session),
				slog.Int("bytes", len(remainder)),
				slog.Int("queued", len(o.pendingFinals)))
		}
	}
	o.sessionID = ""
	o.logger.Info("real-time mode stopped", slog.String("session_id", session))
	o.publish(protocol.EventRealTimeStopped, session, "", nil)
}

func (o *Orchestrator) pump() {
	defer o.wg.Done()
	events := o.deps.Capturer.Events()
	for {
		select {
		case <-o.ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			switch evt.Kind {
			case capture.Fragment:
				o.onFragment(evt.Data)
			case capture.Failed:
				o.onCaptureFailed(evt.Err)
			case capture.Stopped:
				o.onCaptureStopped()
			}
		}
	}
}

func (o *Orchestrator) onFragment(data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.listening {
		return
	}
	if dropped := o.buffer.Append(data); dropped > 0 {
		o.logger.Warn("audio buffer full, dropped oldest audio",
			slog.Int("dropped_bytes", dropped),
			slog.Int("buffered_bytes", o.buffer.Len()))
		o.metrics.recordDropped(o.ctx, dropped)
	}
	o.maybeDispatchLocked()
}

func (o *Orchestrator) onCaptureFailed(err error) {
	if err == nil {
		err = fmt.Errorf("capture failed")
	}
	err = fault.New(fault.StageFailure, fault.StageCapture, err)
	o.logger.Warn("capture failed", slogError(err))

	o.mu.Lock()
	defer o.mu.Unlock()
	o.publish(protocol.EventError, o.sessionID, "", errorPayload(err))
}

func (o *Orchestrator) onCaptureStopped() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.expectStopped > 0 {
		o.expectStopped--
		return
	}
	if !o.listening {
		return
	}
	o.logger.Warn("capture ended while listening")
	o.endSessionLocked()
}

// maybeDispatchLocked starts the next chunk run if the permit is free and
// there is work: queued final chunks first, oldest session first, then a
// full buffer.
func (o *Orchestrator) maybeDispatchLocked() {
	if len(o.pendingFinals) > 0 {
		release, ok := o.token.tryAcquire()
		if !ok {
			return
		}
		next := o.pendingFinals[0]
		o.pendingFinals[0] = finalChunk{}
		o.pendingFinals = o.pendingFinals[1:]
		o.dispatchChunkLocked(release, next.pcm, next.session)
		return
	}
	if !o.listening || o.buffer.Len() < o.threshold {
		return
	}
	release, ok := o.token.tryAcquire()
	if !ok {
		return
	}
	o.dispatchChunkLocked(release, o.buffer.Drain(), o.sessionID)
}

func (o *Orchestrator) dispatchChunkLocked(release func(), pcm []byte, session string) {
	r := o.startRunLocked(o.ctx, release, protocol.RunChunk, "", len(pcm), session)
	go o.runChunk(r, pcm)
}
