package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassifyDeadline(t *testing.T) {
	err := Classify(StageSynthesize, fmt.Errorf("post: %w", context.DeadlineExceeded))
	if KindOf(err) != StageTimeout {
		t.Fatalf("expected timeout, got %s", KindOf(err))
	}
	var fe *Error
	if !errors.As(err, &fe) || fe.Stage != StageSynthesize {
		t.Fatalf("expected synthesize stage, got %v", err)
	}
}

func TestClassifyKeepsExistingKind(t *testing.T) {
	orig := New(EmptyTranscript, "", errors.New("no speech detected in audio"))
	err := Classify(StageTranscribe, fmt.Errorf("chunk: %w", orig))
	if !Is(err, EmptyTranscript) {
		t.Fatalf("expected empty transcript to survive classification, got %v", err)
	}
	if orig.Stage != StageTranscribe {
		t.Fatalf("expected stage to be filled in")
	}
}

func TestClassifyDefaultsToFailure(t *testing.T) {
	if KindOf(Classify(StageTranscribe, errors.New("exit status 1"))) != StageFailure {
		t.Fatal("expected stage failure")
	}
	if Classify(StageTranscribe, nil) != nil {
		t.Fatal("expected nil passthrough")
	}
}

func TestHTTPStatus(t *testing.T) {
	if HTTPStatus(StateConflict) != http.StatusConflict {
		t.Fatal("conflict should map to 409")
	}
	if HTTPStatus(EmptyTranscript) != http.StatusUnprocessableEntity {
		t.Fatal("empty transcript should map to 422")
	}
	if HTTPStatus(StageFailure) != http.StatusBadGateway {
		t.Fatal("failure should map to 502")
	}
}

func TestFromStatus(t *testing.T) {
	if KindOf(FromStatus(StageSynthesize, 503, "503 Service Unavailable")) != StageFailure {
		t.Fatal("503 from a stage call should be a stage failure")
	}
	if KindOf(FromStatus(StageSynthesize, 504, "504 Gateway Timeout")) != StageTimeout {
		t.Fatal("504 should be timeout")
	}
	if KindOf(FromStatus(StageSynthesize, 400, "400 Bad Request")) != StageFailure {
		t.Fatal("400 should be failure")
	}
}
