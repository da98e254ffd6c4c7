package audio

import (
	"context"
	"log"
	"math"
	"time"
)

// OnsetDetector finds where sound starts in a freshly recorded clip so
// the default trim skips leading silence.
type OnsetDetector struct {
	Decoder   *Decoder
	Threshold float64       // fraction of full scale
	Backoff   time.Duration // kept before the first loud sample
}

// Find decodes data and returns the onset in seconds. It never fails:
// undecodable media or a clip with no loud sample yields 0.
func (o *OnsetDetector) Find(ctx context.Context, data []byte) float64 {
	buf, err := o.Decoder.Decode(ctx, data)
	if err != nil {
		log.Printf("Onset detection skipped: %v", err)
		return 0
	}
	return Onset(buf, o.Threshold, o.Backoff)
}

// Onset scans the first channel for the first sample louder than
// threshold and returns its time minus backoff, clamped to zero.
func Onset(buf *Buffer, threshold float64, backoff time.Duration) float64 {
	if buf == nil || buf.NumChannels() == 0 || buf.SampleRate <= 0 {
		return 0
	}
	for i, s := range buf.Data[0] {
		if math.Abs(float64(s)) > threshold {
			t := float64(i)/float64(buf.SampleRate) - backoff.Seconds()
			return math.Max(0, t)
		}
	}
	return 0
}
