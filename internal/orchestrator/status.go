package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loqalabs/voice-proxy/internal/capture"
	"github.com/loqalabs/voice-proxy/internal/protocol"
	"golang.org/x/sync/errgroup"
)

const probeTimeout = 5 * time.Second

var errNoVirtualDevice = errors.New("virtual audio device not found")

type preparer interface {
	Prepare(ctx context.Context) error
}

// Initialize probes every engine, pulls the improvement model when it is
// missing and auto-pull is on, and emits initialized. Unavailable engines
// are logged but do not fail initialization.
func (o *Orchestrator) Initialize(ctx context.Context) (protocol.Availability, error) {
	o.logger.Info("initializing voice pipeline")
	avail := o.Probe(ctx)

	if !avail.Improvement && o.opts.AutoPull {
		if p, ok := o.deps.Improver.(preparer); ok {
			o.logger.Info("improvement model unavailable, pulling")
			if err := p.Prepare(ctx); err != nil {
				o.logger.Warn("model pull failed", slogError(err))
			} else {
				avail.Improvement = o.deps.Improver.Available(ctx) == nil
			}
		}
	}

	o.logger.Info("voice pipeline initialized",
		slog.Bool("transcription", avail.Transcription),
		slog.Bool("improvement", avail.Improvement),
		slog.Bool("synthesis", avail.Synthesis),
		slog.Bool("virtual_device", avail.VirtualDevice))
	if !avail.VirtualDevice {
		o.logger.Warn("virtual audio device not found", slog.String("hint", o.opts.VirtualDeviceHint))
	}

	o.mu.Lock()
	o.publish(protocol.EventInitialized, o.sessionID, "", protocol.Initialized{Availability: avail})
	o.mu.Unlock()
	return avail, ctx.Err()
}

// Probe checks every engine concurrently.
func (o *Orchestrator) Probe(ctx context.Context) protocol.Availability {
	var avail protocol.Availability
	g, ctx := errgroup.WithContext(ctx)
	check := func(name string, fn func(context.Context) error, dst *bool) {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			if err := fn(pctx); err != nil {
				o.logger.Debug("engine unavailable", slog.String("engine", name), slogError(err))
				return nil
			}
			*dst = true
			return nil
		})
	}
	check("transcription", o.deps.Transcriber.Available, &avail.Transcription)
	check("improvement", o.deps.Improver.Available, &avail.Improvement)
	check("synthesis", o.deps.Synthesizer.Available, &avail.Synthesis)
	check("virtual_device", func(ctx context.Context) error {
		list, err := o.deps.Capturer.Devices(ctx)
		if err != nil {
			return err
		}
		if !capture.HasVirtualDevice(list, o.opts.VirtualDeviceHint) {
			return errNoVirtualDevice
		}
		return nil
	}, &avail.VirtualDevice)
	_ = g.Wait()

	o.mu.Lock()
	avail.RealTime = o.listening
	o.mu.Unlock()
	return avail
}

// Devices enumerates the capture and playback devices.
func (o *Orchestrator) Devices(ctx context.Context) (protocol.Devices, error) {
	list, err := o.deps.Capturer.Devices(ctx)
	if err != nil {
		return protocol.Devices{Input: []string{}, Output: []string{}}, err
	}
	return protocol.Devices{Input: list.Input, Output: list.Output}, nil
}

// Status combines the session state with fresh probes and device listing.
func (o *Orchestrator) Status(ctx context.Context) protocol.Status {
	devices, err := o.Devices(ctx)
	if err != nil {
		o.logger.Warn("device enumeration failed", slogError(err))
	}
	return protocol.Status{
		State:        o.State(),
		Availability: o.Probe(ctx),
		AudioDevices: devices,
	}
}
