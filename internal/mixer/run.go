package mixer

import (
	"context"
	"log"
	"time"

	"github.com/satindergrewal/vidpad/internal/audio"
)

// Frames returns the channel of rendered PCM frames (20ms each).
func (c *Context) Frames() <-chan []int16 {
	return c.frames
}

// Dropped returns how many frames were discarded because nobody was
// reading Frames.
func (c *Context) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Run renders one frame per tick while the context is running. Blocks
// until ctx is cancelled. The clock does not advance while suspended.
func (c *Context) Run(ctx context.Context) {
	defer close(c.frames)

	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	log.Printf("Audio render loop started (%d Hz, %v frames)", c.sampleRate, audio.FrameDuration)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if c.State() != Running {
			continue
		}
		frame := c.Render(c.sampleRate * int(audio.FrameDuration/time.Millisecond) / 1000)

		select {
		case c.frames <- frame:
		default:
			// consumer too slow, keep the clock moving
			c.mu.Lock()
			c.dropped++
			c.mu.Unlock()
		}
	}
}
