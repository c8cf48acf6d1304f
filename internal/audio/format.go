// Package audio holds the PCM arithmetic, WAV container handling and the
// fragment buffer used while capturing.
package audio

import (
	"fmt"
	"time"
)

// Format describes interleaved signed little-endian PCM.
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	BitDepth   int `json:"bit_depth"`
}

func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", f.Channels)
	}
	if f.BitDepth <= 0 || f.BitDepth%8 != 0 {
		return fmt.Errorf("bit depth must be a positive multiple of 8, got %d", f.BitDepth)
	}
	return nil
}

func (f Format) BytesPerSample() int { return f.BitDepth / 8 }

// BytesPerFrame is the size of one sample across all channels.
func (f Format) BytesPerFrame() int { return f.Channels * f.BytesPerSample() }

func (f Format) BytesPerSecond() int { return f.SampleRate * f.BytesPerFrame() }

// BytesFor returns the frame-aligned byte length of d worth of audio.
func (f Format) BytesFor(d time.Duration) int {
	n := int(int64(f.BytesPerSecond()) * d.Milliseconds() / 1000)
	if frame := f.BytesPerFrame(); frame > 0 {
		n -= n % frame
	}
	return n
}

// Duration returns how long n bytes of PCM play for.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}
