package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/voice-proxy/internal/control"
	"github.com/loqalabs/voice-proxy/internal/protocol"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	wsMaxMessage = 1 << 20
)

// handleWS upgrades the connection, streams every orchestrator event to the
// client and answers its commands. Replies and events share one writer.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slogError(err))
		return
	}
	log := s.logger.With(slog.String("remote", r.RemoteAddr))
	log.Info("websocket client connected")

	events, unsubscribe := s.engine.Subscribe(128)
	ctx, cancel := context.WithCancel(context.Background())
	replies := make(chan protocol.Reply, 16)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop(ctx, conn, events, replies, log)
	}()

	s.readLoop(ctx, conn, replies, &wg, log)

	cancel()
	unsubscribe()
	wg.Wait()
	_ = conn.Close()
	log.Info("websocket client disconnected")
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, replies chan<- protocol.Reply, wg *sync.WaitGroup, log *slog.Logger) {
	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	send := func(reply protocol.Reply) {
		select {
		case replies <- reply:
		case <-ctx.Done():
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", slogError(err))
			}
			return
		}
		var cmd protocol.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Warn("invalid websocket command", slogError(err))
			send(protocol.Reply{Type: protocol.ReplyError, Message: "invalid command: " + err.Error(), Kind: control.KindInvalidInput})
			continue
		}
		// commands run concurrently so a long pipeline run does not block
		// stopRealTime or status on the same connection
		wg.Add(1)
		go func() {
			defer wg.Done()
			send(s.dispatcher.Handle(ctx, cmd))
		}()
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, events <-chan protocol.Event, replies <-chan protocol.Reply, log *slog.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(v); err != nil {
			log.Warn("websocket write failed", slogError(err))
			// unblocks the reader
			_ = conn.Close()
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if !write(evt) {
				return
			}
		case reply := <-replies:
			if !write(reply) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
