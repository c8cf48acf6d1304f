// Package fault classifies pipeline failures so transports can report them
// consistently.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind names a failure class.
type Kind string

const (
	EngineUnavailable Kind = "engine_unavailable"
	EmptyTranscript   Kind = "empty_transcript"
	StageTimeout      Kind = "stage_timeout"
	StageFailure      Kind = "stage_failure"
	StateConflict     Kind = "state_conflict"
)

// Stage identifies where in the pipeline a failure happened.
type Stage string

const (
	StageCapture    Stage = "capture"
	StageConvert    Stage = "convert"
	StageTranscribe Stage = "transcribe"
	StageImprove    Stage = "improve"
	StageSynthesize Stage = "synthesize"
	StageClone      Stage = "clone"
	StagePlayback   Stage = "playback"
)

// Error carries a Kind and the stage that produced it.
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind and stage.
func New(kind Kind, stage Stage, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// Unavailable reports an engine that cannot be reached or is not installed.
// Only availability probes use it; an engine that drops out during a stage
// fails that stage with StageFailure or StageTimeout.
func Unavailable(stage Stage, err error) *Error {
	return New(EngineUnavailable, stage, err)
}

// Conflict reports a request that collides with the current session state.
func Conflict(msg string) *Error {
	return New(StateConflict, "", errors.New(msg))
}

// Classify attaches a Kind to err. Errors that already carry a Kind keep it,
// deadline errors become StageTimeout and everything else is a StageFailure.
func Classify(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Stage == "" {
			fe.Stage = stage
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(StageTimeout, stage, err)
	}
	return New(StageFailure, stage, err)
}

// KindOf returns the kind carried by err, or StageFailure for unclassified errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StageTimeout
	}
	return StageFailure
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

// HTTPStatus maps a kind to the status synchronous callers receive.
func HTTPStatus(kind Kind) int {
	switch kind {
	case EngineUnavailable:
		return http.StatusServiceUnavailable
	case EmptyTranscript:
		return http.StatusUnprocessableEntity
	case StageTimeout:
		return http.StatusGatewayTimeout
	case StateConflict:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

// FromStatus turns a non-2xx engine response to a stage call into a classified
// error. Probes report their own failures as Unavailable.
func FromStatus(stage Stage, code int, status string) error {
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return New(StageTimeout, stage, fmt.Errorf("engine returned status %s", status))
	default:
		return New(StageFailure, stage, fmt.Errorf("engine returned status %s", status))
	}
}
