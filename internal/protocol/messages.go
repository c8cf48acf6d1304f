// Package protocol holds the wire types shared by the WebSocket channel, the
// NATS control adapter, the event store and the CLI.
package protocol

import (
	"encoding/json"
	"time"
)

// EventType names an orchestrator notification.
type EventType string

const (
	EventInitialized        EventType = "initialized"
	EventRealTimeStarted    EventType = "realTimeModeStarted"
	EventRealTimeStopped    EventType = "realTimeModeStopped"
	EventProcessingStarted  EventType = "processingStarted"
	EventProcessingComplete EventType = "processingComplete"
	EventChunkProcessed     EventType = "chunkProcessed"
	EventVoiceCloned        EventType = "voiceCloned"
	EventAudioPlayed        EventType = "audioPlayed"
	EventError              EventType = "error"
)

// Event is one notification emitted by the orchestrator. Data holds one of the
// payload types below.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// RawEvent is Event with an undecoded payload, used by readers.
type RawEvent struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	RunID     string          `json:"run_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Run kinds reported in ProcessingStarted.
const (
	RunText  = "text"
	RunAudio = "audio"
	RunChunk = "chunk"
)

type Initialized struct {
	Availability Availability `json:"availability"`
}

type ProcessingStarted struct {
	Type  string `json:"type"`
	Input string `json:"input,omitempty"`
	Bytes int    `json:"bytes,omitempty"`
}

type ProcessingComplete struct {
	Transcript   string `json:"transcript,omitempty"`
	ImprovedText string `json:"improvedText"`
	AudioBuffer  []byte `json:"audioBuffer,omitempty"`
	AudioSize    int    `json:"audioSize"`
}

type ChunkProcessed struct {
	Transcript   string `json:"transcript"`
	ImprovedText string `json:"improvedText"`
	AudioSize    int    `json:"audioSize"`
}

type VoiceCloned struct {
	VoiceID   string `json:"voiceId"`
	VoiceName string `json:"voiceName"`
}

type AudioPlayed struct {
	Size int `json:"size"`
}

type Error struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Stage   string `json:"stage,omitempty"`
}

// Availability reports which engines answered their probes.
type Availability struct {
	Transcription bool `json:"whisperAvailable"`
	Improvement   bool `json:"ollamaAvailable"`
	Synthesis     bool `json:"ttsAvailable"`
	VirtualDevice bool `json:"blackHoleInstalled"`
	RealTime      bool `json:"realtimeActive"`
}

// State is a snapshot of the orchestrator session.
type State struct {
	IsListening      bool   `json:"isListening"`
	IsProcessing     bool   `json:"isProcessing"`
	LastTranscript   string `json:"lastTranscript"`
	LastImprovedText string `json:"lastImprovedText"`
	ActiveVoiceID    string `json:"currentVoiceId,omitempty"`
	SessionID        string `json:"sessionId,omitempty"`
	BufferedBytes    int    `json:"bufferedBytes"`
}

// Devices lists audio devices.
type Devices struct {
	Input  []string `json:"input"`
	Output []string `json:"output"`
}

// Status is the synchronous status response.
type Status struct {
	State        State        `json:"state"`
	Availability Availability `json:"serviceAvailability"`
	AudioDevices Devices      `json:"audioDevices"`
}

// TextResult is returned to synchronous text callers.
type TextResult struct {
	Success            bool   `json:"success"`
	OriginalText       string `json:"originalText"`
	Transcript         string `json:"transcript,omitempty"`
	ImprovedText       string `json:"improvedText"`
	AudioGenerated     bool   `json:"audioGenerated"`
	AudioSize          int    `json:"audioSize"`
	PlayedToVirtualMic bool   `json:"playedToVirtualMic"`
}

// Command types accepted on the control channel.
const (
	CommandStartRealTime = "startRealTime"
	CommandStopRealTime  = "stopRealTime"
	CommandProcessText   = "processText"
	CommandCloneVoice    = "cloneVoice"
	CommandStatus        = "status"
)

// Command is a control-channel request.
type Command struct {
	Type               string `json:"type"`
	Text               string `json:"text,omitempty"`
	SamplePath         string `json:"samplePath,omitempty"`
	VoiceName          string `json:"voiceName,omitempty"`
	OutputToVirtualMic bool   `json:"outputToVirtualMic,omitempty"`
}

// Reply types sent back to the issuer of a Command.
const (
	ReplyRealTimeStarted = "realTimeStarted"
	ReplyRealTimeStopped = "realTimeStopped"
	ReplyTextProcessed   = "textProcessed"
	ReplyVoiceCloned     = "voiceCloned"
	ReplyStatus          = "status"
	ReplyError           = "error"
)

// Reply answers a Command.
type Reply struct {
	Type    string      `json:"type"`
	Success bool        `json:"success"`
	Result  *TextResult `json:"result,omitempty"`
	VoiceID string      `json:"voiceId,omitempty"`
	Status  *Status     `json:"status,omitempty"`
	Message string      `json:"message,omitempty"`
	Kind    string      `json:"kind,omitempty"`
}

// Bus subjects are formed by joining the configured prefix with these.
const (
	SubjectCommandSuffix   = "cmd"
	SubjectEventSuffix     = "event"
	SubjectHeartbeatSuffix = "heartbeat"
)

// Heartbeat is published periodically by the engine monitor.
type Heartbeat struct {
	Service      string       `json:"service"`
	Availability Availability `json:"availability"`
	State        State        `json:"state"`
	Timestamp    time.Time    `json:"timestamp"`
}
