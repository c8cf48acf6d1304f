package execcmd

import (
	"reflect"
	"testing"
)

func TestParseSubstitutesAfterSplitting(t *testing.T) {
	args, err := Parse(`sox -q {file} -t coreaudio "{device}"`, Vars{"file": "/tmp/a.wav", "device": "BlackHole 2ch"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"sox", "-q", "/tmp/a.wav", "-t", "coreaudio", "BlackHole 2ch"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("got %q, want %q", args, want)
	}

	args, err = Parse("sox -t coreaudio {device} -", Vars{"device": "Built-in Microphone"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if args[3] != "Built-in Microphone" || len(args) != 5 {
		t.Fatalf("device with spaces must remain one argument: %q", args)
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := Parse("   ", nil); err == nil {
		t.Fatal("expected error for empty command")
	}
	if _, err := Parse(`whisper "unterminated`, nil); err == nil {
		t.Fatal("expected error for bad quoting")
	}
}

func TestHasPlaceholder(t *testing.T) {
	if !HasPlaceholder("ollama run {model}", "model") || HasPlaceholder("ollama run llama3", "model") {
		t.Fatal("placeholder detection mismatch")
	}
}
