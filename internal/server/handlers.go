package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/loqalabs/voice-proxy/internal/control"
	"github.com/loqalabs/voice-proxy/internal/fault"
	"github.com/loqalabs/voice-proxy/internal/protocol"
)

var errBadRequest = errors.New("bad request")

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": nowUTC(),
		"state":     s.engine.State(),
	})
}

func (s *Server) handleAPI(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "voice-proxy",
		"version": s.opts.Version,
		"endpoints": map[string]string{
			"GET /health":               "liveness and session state",
			"GET /status":               "session state, engine availability and audio devices",
			"GET /devices":              "audio input and output devices",
			"GET /voices":               "synthesis voices",
			"POST /process-text":        "improve and synthesize text",
			"POST /process-audio":       "transcribe, improve and synthesize an uploaded recording",
			"POST /realtime/start":      "start real-time capture",
			"POST /realtime/stop":       "stop real-time capture",
			"POST /voice/clone":         "clone a voice from an uploaded sample",
			"GET /sessions":             "recorded real-time sessions",
			"GET /sessions/{id}/events": "recorded events of one session",
			"GET /ws":                   "WebSocket control channel and event stream",
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status(r.Context()))
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.engine.Devices(r.Context())
	if err != nil {
		s.writeError(w, r, fault.Classify(fault.StageCapture, err))
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.opts.Voices == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "voice listing is not supported by the synthesis engine"})
		return
	}
	voices, err := s.opts.Voices.Voices(r.Context())
	if err != nil {
		s.writeError(w, r, fault.Classify(fault.StageSynthesize, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

type processTextRequest struct {
	Text               string `json:"text"`
	OutputToVirtualMic bool   `json:"outputToVirtualMic"`
}

func (s *Server) handleProcessText(w http.ResponseWriter, r *http.Request) {
	var req processTextRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err))
		return
	}
	result, err := control.ProcessText(r.Context(), s.engine, req.Text, req.OutputToVirtualMic, s.logger)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleProcessAudio(w http.ResponseWriter, r *http.Request) {
	path, cleanup, err := s.saveUpload(w, r, "audio")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer cleanup()

	res, err := s.engine.ProcessAudioFile(r.Context(), path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := protocol.TextResult{
		Success:        true,
		Transcript:     res.Transcript,
		OriginalText:   res.Transcript,
		ImprovedText:   res.ImprovedText,
		AudioGenerated: len(res.Audio) > 0,
		AudioSize:      len(res.Audio),
	}
	if play, _ := strconv.ParseBool(r.FormValue("outputToVirtualMic")); play && len(res.Audio) > 0 {
		if err := s.engine.PlayToVirtualMic(r.Context(), res.Audio); err != nil {
			s.logger.Warn("failed to play processed audio", slogError(err))
		} else {
			out.PlayedToVirtualMic = true
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRealtimeStart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.StartRealTime(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "real-time mode started"})
}

func (s *Server) handleRealtimeStop(w http.ResponseWriter, _ *http.Request) {
	s.engine.StopRealTime()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "real-time mode stopped"})
}

// handleVoiceClone accepts a multipart upload with an "audio" file and a
// "voiceName" field, or a JSON body naming a sample already on disk.
func (s *Server) handleVoiceClone(w http.ResponseWriter, r *http.Request) {
	var samplePath, name string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			SamplePath string `json:"samplePath"`
			VoiceName  string `json:"voiceName"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err))
			return
		}
		samplePath, name = req.SamplePath, req.VoiceName
	} else {
		path, cleanup, err := s.saveUpload(w, r, "audio")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		defer cleanup()
		samplePath, name = path, r.FormValue("voiceName")
	}

	id, err := s.engine.CloneVoice(r.Context(), samplePath, name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "voiceId": id, "voiceName": name})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.opts.Timeline == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "event store is disabled"})
		return
	}
	sessions, err := s.opts.Timeline.ListSessions(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Timeline == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "event store is disabled"})
		return
	}
	events, err := s.opts.Timeline.ListSessionEvents(r.Context(), r.PathValue("id"), queryInt(r, "limit", 100))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]protocol.RawEvent, 0, len(events))
	for _, e := range events {
		out = append(out, protocol.RawEvent{
			Type:      protocol.EventType(e.Type),
			SessionID: e.SessionID,
			RunID:     e.RunID,
			Timestamp: e.CreatedAt,
			Data:      json.RawMessage(e.Payload),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// saveUpload stores the multipart file in field to a temp file that keeps
// the upload's extension.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request, field string) (string, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("%w: expected multipart form: %v", errBadRequest, err)
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s file is required", errBadRequest, field)
	}
	defer file.Close()
	return s.writeTemp(file, header)
}

func (s *Server) writeTemp(src multipart.File, header *multipart.FileHeader) (string, func(), error) {
	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".wav"
	}
	dst, err := os.CreateTemp(s.opts.TempDir, "voiceproxy_upload_*"+ext)
	if err != nil {
		return "", nil, fault.New(fault.StageFailure, fault.StageConvert, fmt.Errorf("create upload file: %w", err))
	}
	path := dst.Name()
	cleanup := func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove upload", slog.String("path", path), slogError(err))
		}
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		cleanup()
		return "", nil, fault.New(fault.StageFailure, fault.StageConvert, fmt.Errorf("store upload: %w", err))
	}
	if err := dst.Close(); err != nil {
		cleanup()
		return "", nil, fault.New(fault.StageFailure, fault.StageConvert, fmt.Errorf("store upload: %w", err))
	}
	return path, cleanup, nil
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}
