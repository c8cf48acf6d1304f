// Package control maps control-channel commands onto the orchestrator and
// carries them over the NATS bus. The WebSocket channel in the server package
// shares the same Dispatcher.
package control

import (
	"context"
	"errors"
	"log/slog"

	"github.com/loqalabs/voice-proxy/internal/fault"
	"github.com/loqalabs/voice-proxy/internal/orchestrator"
	"github.com/loqalabs/voice-proxy/internal/protocol"
)

// KindInvalidInput is reported for commands rejected before any stage ran.
const KindInvalidInput = "invalid_input"

// Engine is the orchestrator surface the control channels drive.
type Engine interface {
	StartRealTime() error
	StopRealTime()
	ProcessText(ctx context.Context, text string) (orchestrator.Result, error)
	PlayToVirtualMic(ctx context.Context, audio []byte) error
	CloneVoice(ctx context.Context, samplePath, name string) (string, error)
	Status(ctx context.Context) protocol.Status
	Subscribe(size int) (<-chan protocol.Event, func())
}

type Dispatcher struct {
	engine Engine
	logger *slog.Logger
}

func NewDispatcher(engine Engine, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{engine: engine, logger: logger}
}

// Handle executes cmd and builds the reply. Failures never escape as Go
// errors; they are carried in the reply.
func (d *Dispatcher) Handle(ctx context.Context, cmd protocol.Command) protocol.Reply {
	switch cmd.Type {
	case protocol.CommandStartRealTime:
		if err := d.engine.StartRealTime(); err != nil {
			return errorReply(err)
		}
		return protocol.Reply{Type: protocol.ReplyRealTimeStarted, Success: true}

	case protocol.CommandStopRealTime:
		d.engine.StopRealTime()
		return protocol.Reply{Type: protocol.ReplyRealTimeStopped, Success: true}

	case protocol.CommandProcessText:
		result, err := ProcessText(ctx, d.engine, cmd.Text, cmd.OutputToVirtualMic, d.logger)
		if err != nil {
			return errorReply(err)
		}
		return protocol.Reply{Type: protocol.ReplyTextProcessed, Success: true, Result: &result}

	case protocol.CommandCloneVoice:
		id, err := d.engine.CloneVoice(ctx, cmd.SamplePath, cmd.VoiceName)
		if err != nil {
			return errorReply(err)
		}
		return protocol.Reply{Type: protocol.ReplyVoiceCloned, Success: true, VoiceID: id}

	case protocol.CommandStatus:
		status := d.engine.Status(ctx)
		return protocol.Reply{Type: protocol.ReplyStatus, Success: true, Status: &status}

	default:
		d.logger.Warn("unknown control command", slog.String("type", cmd.Type))
		return protocol.Reply{Type: protocol.ReplyError, Message: "unknown command type: " + cmd.Type, Kind: KindInvalidInput}
	}
}

// ProcessText runs text through the pipeline and optionally plays the result
// on the virtual microphone. A playback failure is logged and reported in the
// result rather than failing the request.
func ProcessText(ctx context.Context, engine Engine, text string, play bool, logger *slog.Logger) (protocol.TextResult, error) {
	res, err := engine.ProcessText(ctx, text)
	if err != nil {
		return protocol.TextResult{}, err
	}
	out := protocol.TextResult{
		Success:        true,
		OriginalText:   text,
		Transcript:     res.Transcript,
		ImprovedText:   res.ImprovedText,
		AudioGenerated: len(res.Audio) > 0,
		AudioSize:      len(res.Audio),
	}
	if play && len(res.Audio) > 0 {
		if err := engine.PlayToVirtualMic(ctx, res.Audio); err != nil {
			logger.Warn("failed to play processed text", slog.String("error", err.Error()))
		} else {
			out.PlayedToVirtualMic = true
		}
	}
	return out, nil
}

// ErrorKind names the failure class of err for replies.
func ErrorKind(err error) string {
	if errors.Is(err, orchestrator.ErrInvalidInput) {
		return KindInvalidInput
	}
	return string(fault.KindOf(err))
}

func errorReply(err error) protocol.Reply {
	return protocol.Reply{Type: protocol.ReplyError, Message: err.Error(), Kind: ErrorKind(err)}
}
