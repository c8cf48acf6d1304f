package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/voice-proxy/internal/bus"
	"github.com/loqalabs/voice-proxy/internal/fault"
	"github.com/loqalabs/voice-proxy/internal/protocol"
	"github.com/nats-io/nats.go"
)

const commandTimeout = 2 * time.Minute

// Adapter answers commands on <prefix>.cmd.<type> and republishes every
// orchestrator event on <prefix>.event.<type>.
type Adapter struct {
	bus        *bus.Client
	dispatcher *Dispatcher
	engine     Engine
	logger     *slog.Logger
	subCmd     *nats.Subscription
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	unsub      func()

	mu     sync.Mutex
	closed bool
}

func NewAdapter(parent context.Context, busClient *bus.Client, engine Engine, logger *slog.Logger) *Adapter {
	ctx, cancel := context.WithCancel(parent)
	logger = logger.With(slog.String("component", "control"))
	return &Adapter{
		bus:        busClient,
		dispatcher: NewDispatcher(engine, logger),
		engine:     engine,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Adapter) Start() error {
	sub, err := s.bus.Conn().Subscribe(s.bus.Subject(protocol.SubjectCommandSuffix, "*"), s.handleCommand)
	if err != nil {
		return err
	}
	s.subCmd = sub

	events, unsub := s.engine.Subscribe(256)
	s.unsub = unsub
	s.wg.Add(1)
	go s.forward(events)

	s.logger.Info("control bus ready", slog.String("subject", sub.Subject))
	return nil
}

func (s *Adapter) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	if s.subCmd != nil {
		_ = s.subCmd.Drain()
	}
	if s.unsub != nil {
		s.unsub()
	}
	s.wg.Wait()
}

func (s *Adapter) Healthy() bool {
	return s.subCmd != nil && s.subCmd.IsValid() && s.bus.Healthy()
}

// handleCommand runs each command on its own goroutine so a long pipeline run
// does not stall the subscription.
func (s *Adapter) handleCommand(msg *nats.Msg) {
	var cmd protocol.Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		s.logger.Warn("control failed to decode command", slogError(err))
		s.respond(msg, protocol.Reply{Type: protocol.ReplyError, Message: "invalid command: " + err.Error(), Kind: KindInvalidInput})
		return
	}
	// the subject names the command when the body does not
	if cmd.Type == "" {
		cmd.Type = msg.Subject[strings.LastIndex(msg.Subject, ".")+1:]
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.respond(msg, protocol.Reply{Type: protocol.ReplyError, Message: "control channel is shutting down", Kind: string(fault.EngineUnavailable)})
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, commandTimeout)
		defer cancel()
		s.respond(msg, s.dispatcher.Handle(ctx, cmd))
	}()
}

func (s *Adapter) respond(msg *nats.Msg, reply protocol.Reply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("control failed to encode reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("control failed to send reply", slogError(err))
	}
}

func (s *Adapter) forward(events <-chan protocol.Event) {
	defer s.wg.Done()
	for evt := range events {
		subject := s.bus.Subject(protocol.SubjectEventSuffix, string(evt.Type))
		if err := s.bus.PublishJSON(subject, evt); err != nil {
			s.logger.Warn("control failed to publish event", slog.String("event", string(evt.Type)), slogError(err))
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
