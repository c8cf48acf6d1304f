package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/loqalabs/voice-proxy/internal/protocol"
)

// Source is anything that publishes orchestrator events.
type Source interface {
	Subscribe(size int) (<-chan protocol.Event, func())
}

// Recorder persists orchestrator events to the store, grouping them by
// real-time session. Events outside a session are kept under DirectSession.
type Recorder struct {
	store *Store
	log   *slog.Logger
	unsub func()
	wg    sync.WaitGroup
}

func NewRecorder(store *Store, log *slog.Logger) *Recorder {
	return &Recorder{store: store, log: log.With(slog.String("component", "eventstore"))}
}

// Start subscribes to src and records until Close.
func (r *Recorder) Start(src Source) {
	events, unsub := src.Subscribe(512)
	r.unsub = unsub
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for evt := range events {
			if err := r.Record(context.Background(), evt); err != nil {
				r.log.Warn("failed to record event", slog.String("event", string(evt.Type)), slogError(err))
			}
		}
	}()
}

// Record writes a single event.
func (r *Recorder) Record(ctx context.Context, evt protocol.Event) error {
	session := evt.SessionID
	if session == "" {
		session = DirectSession
	}
	if err := r.store.AppendSession(ctx, session); err != nil {
		return err
	}

	// synthesized audio is not kept, only its size
	if pc, ok := evt.Data.(protocol.ProcessingComplete); ok {
		pc.AudioBuffer = nil
		evt.Data = pc
	}

	var payload []byte
	if evt.Data != nil {
		data, err := json.Marshal(evt.Data)
		if err != nil {
			return err
		}
		payload = data
	}
	if err := r.store.AppendEvent(ctx, Event{
		SessionID: session,
		RunID:     evt.RunID,
		Type:      string(evt.Type),
		Payload:   payload,
		CreatedAt: evt.Timestamp,
	}); err != nil {
		return err
	}

	if evt.Type == protocol.EventRealTimeStopped {
		return r.store.EndSession(ctx, session)
	}
	return nil
}

// Close stops recording after draining buffered events.
func (r *Recorder) Close() {
	if r.unsub != nil {
		r.unsub()
	}
	r.wg.Wait()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
