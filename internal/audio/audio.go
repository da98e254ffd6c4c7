package audio

import (
	"errors"
	"fmt"
	"time"
)

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Buffer is decoded PCM audio, planar float32 in [-1, 1].
type Buffer struct {
	SampleRate int
	Data       [][]float32 // one slice per channel, equal lengths
}

// NewBuffer allocates a silent buffer.
func NewBuffer(sampleRate, channels, frames int) *Buffer {
	data := make([][]float32, channels)
	for i := range data {
		data[i] = make([]float32, frames)
	}
	return &Buffer{SampleRate: sampleRate, Data: data}
}

// NumChannels returns the channel count.
func (b *Buffer) NumChannels() int { return len(b.Data) }

// Frames returns the length in sample frames.
func (b *Buffer) Frames() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Sample returns channel ch at frame i. Mono buffers feed every channel.
func (b *Buffer) Sample(ch, i int) float32 {
	if ch >= len(b.Data) {
		ch = len(b.Data) - 1
	}
	return b.Data[ch][i]
}

var (
	ErrEmptyMedia = errors.New("empty media")
	ErrNoAudio    = errors.New("no audio frames decoded")
)

// DecodeError reports that a media blob could not be turned into PCM.
// Callers treat it as non-fatal: the clip falls back to the video track's
// own audio.
type DecodeError struct {
	Format string // detected container, "" if unknown
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("decode audio: %v", e.Err)
	}
	return fmt.Sprintf("decode %s audio: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
