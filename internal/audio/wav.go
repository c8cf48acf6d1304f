package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// HeaderSize is the length of the canonical RIFF/WAVE PCM header.
const HeaderSize = 44

// ToWAV prefixes raw PCM with a canonical 44-byte WAV header describing f and
// the payload length. The payload is copied unchanged.
func ToWAV(pcm []byte, f Format) []byte {
	out := make([]byte, HeaderSize+len(pcm))
	dataLen := uint32(len(pcm))

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], 36+dataLen)
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(out[32:34], uint16(f.BytesPerFrame()))
	binary.LittleEndian.PutUint16(out[34:36], uint16(f.BitDepth))

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], dataLen)

	copy(out[HeaderSize:], pcm)
	return out
}

// Info summarises a decoded WAV container.
type Info struct {
	Format    Format        `json:"format"`
	DataBytes int64         `json:"data_bytes"`
	Duration  time.Duration `json:"duration"`
}

// ErrNotWAV is returned when data is not a readable RIFF/WAVE PCM stream.
var ErrNotWAV = errors.New("not a valid wav container")

// InspectWAV reads the container header and locates the PCM payload.
func InspectWAV(data []byte) (Info, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Info{}, ErrNotWAV
	}
	var format *goaudio.Format = dec.Format()
	info := Info{Format: Format{
		SampleRate: format.SampleRate,
		Channels:   format.NumChannels,
		BitDepth:   int(dec.BitDepth),
	}}
	if err := dec.FwdToPCM(); err != nil {
		return info, fmt.Errorf("locate pcm chunk: %w", err)
	}
	info.DataBytes = dec.PCMLen()
	info.Duration = info.Format.Duration(int(info.DataBytes))
	return info, nil
}
