package capture

import (
	"context"
	"strings"
)

// EventKind distinguishes capture notifications.
type EventKind int

const (
	// Fragment carries raw PCM.
	Fragment EventKind = iota
	// Stopped is sent once when a capture session ends, for any reason.
	Stopped
	// Failed reports an abnormal end of capture; Stopped still follows.
	Failed
)

// Event is a single notification from the capture stream.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

// DeviceList is the result of an enumeration query.
type DeviceList struct {
	Input  []string `json:"input"`
	Output []string `json:"output"`
}

// Capturer abstracts continuous microphone capture.
type Capturer interface {
	// Start begins a capture session. Starting an active capturer is a no-op.
	Start(ctx context.Context) error
	// Stop ends the current session; a Stopped event follows.
	Stop() error
	Running() bool
	// Events is a single long-lived stream shared by all sessions.
	Events() <-chan Event
	// Devices queries the OS each time it is called.
	Devices(ctx context.Context) (DeviceList, error)
}

// HasVirtualDevice reports whether any output device name contains hint.
func HasVirtualDevice(list DeviceList, hint string) bool {
	if hint == "" {
		return false
	}
	hint = strings.ToLower(hint)
	for _, name := range list.Output {
		if strings.Contains(strings.ToLower(name), hint) {
			return true
		}
	}
	return false
}
