// Package trigger is the per-cell playback controller. It starts a cell's
// audio through the mixer and its video element in step, enforces the
// cell's overlap policy, and owns the auto-stop timer that returns the
// video to rest.
package trigger

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/satindergrewal/vidpad/internal/clock"
	"github.com/satindergrewal/vidpad/internal/mixer"
	"github.com/satindergrewal/vidpad/internal/pad"
	"github.com/satindergrewal/vidpad/internal/video"
)

// DefaultFade is the gain ramp that keeps a trigger from clicking.
const DefaultFade = 5 * time.Millisecond

// Video is the element a controller drives. *video.Element implements it.
type Video interface {
	SetSource(url string, duration float64)
	SetMuted(bool)
	SetVolume(float64) error
	Seek(float64)
	Play() error
	Pause()
	OnEnded(func())
	State() video.State
}

// Options configure a Controller.
type Options struct {
	Context *mixer.Context
	Clock   clock.Clock
	Video   Video
	Fade    time.Duration
}

// instance is one in-flight audio trigger.
type instance struct {
	id   string
	src  *mixer.BufferSource
	gain *mixer.GainNode
}

// Controller owns one cell's playback. Operations are serialized; audio
// end callbacks from the render loop only touch the instance set.
type Controller struct {
	id    int
	ctx   *mixer.Context
	clock clock.Clock
	video Video
	fade  time.Duration

	op      sync.Mutex // serializes operations and timer callbacks
	playing bool
	rest    float64 // video position at rest: the cell's StartTime
	timer   clock.Timer
	gen     uint64

	mu        sync.Mutex // guards instances
	instances map[string]*instance
}

// NewController creates the controller for cell id.
func NewController(id int, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Fade <= 0 {
		opts.Fade = DefaultFade
	}
	c := &Controller{
		id:        id,
		ctx:       opts.Context,
		clock:     opts.Clock,
		video:     opts.Video,
		fade:      opts.Fade,
		instances: make(map[string]*instance),
	}
	c.video.OnEnded(c.videoEnded)
	return c
}

// Trigger runs the Idle -> Triggered transition for a pointer-down on
// cell. Decode and playback failures are absorbed into the Outcome.
func (c *Controller) Trigger(ev PointerEvent, cell pad.Cell, g Guards) Outcome {
	if reason := guard(ev, cell, g); reason != "" {
		return Outcome{Status: Ignored, Reason: reason}
	}

	if c.ctx.State() != mixer.Running {
		if err := c.ctx.Resume(); err != nil {
			log.Printf("Pad %d: audio context resume failed, trigger dropped: %v", c.id, err)
			return Outcome{Status: Aborted, Reason: "resume failed", Err: err}
		}
	}

	c.op.Lock()
	defer c.op.Unlock()

	out := Outcome{Status: Started}

	if !cell.AllowOverlap {
		c.stopAudio()
	}

	if cell.Audio != nil {
		if err := c.startAudio(cell); err != nil {
			log.Printf("Pad %d: audio start failed: %v", c.id, err)
			out.Err = &PlaybackStartError{CellID: c.id, Media: "audio", Err: err}
		} else {
			out.Audio = true
		}
	}

	if err := c.startVideo(cell); err != nil {
		log.Printf("Pad %d: video play failed, continuing audio-only: %v", c.id, err)
		if out.Err == nil {
			out.Err = &PlaybackStartError{CellID: c.id, Media: "video", Err: err}
		}
	} else {
		out.Video = true
	}
	return out
}

func guard(ev PointerEvent, cell pad.Cell, g Guards) string {
	switch {
	case cell.IsEmpty():
		return "empty"
	case g.EditMode:
		return "edit mode"
	case g.Suspended:
		return "suspended"
	case ev.OnControl:
		return "control overlay"
	case ev.Button != ButtonPrimary:
		return "non-primary button"
	}
	return ""
}

func (c *Controller) startAudio(cell pad.Cell) error {
	gain := c.ctx.NewGain()
	c.ctx.Connect(gain)
	gain.Ramp(0, cell.GainLevel(), c.fade.Seconds())

	src := c.ctx.NewBufferSource(cell.Audio)
	src.Connect(gain)
	inst := &instance{id: uuid.NewString(), src: src, gain: gain}
	src.OnEnded(func() {
		c.mu.Lock()
		delete(c.instances, inst.id)
		c.mu.Unlock()
	})

	c.mu.Lock()
	c.instances[inst.id] = inst
	c.mu.Unlock()

	if err := src.Start(cell.StartTime, cell.Window()); err != nil {
		c.mu.Lock()
		delete(c.instances, inst.id)
		c.mu.Unlock()
		gain.Disconnect()
		return err
	}
	return nil
}

// startVideo must be called with op held. Mute is set before the seek and
// the seek happens before play.
func (c *Controller) startVideo(cell pad.Cell) error {
	hasAudio := cell.Audio != nil
	c.video.SetMuted(hasAudio)
	if !hasAudio {
		if err := c.video.SetVolume(cell.NativeVolume()); err != nil {
			return err
		}
	}
	c.rest = cell.StartTime
	c.video.Seek(cell.StartTime)
	if err := c.video.Play(); err != nil {
		if c.playing {
			c.toRest()
		}
		return err
	}

	c.playing = true
	c.gen++
	gen := c.gen
	if c.timer != nil {
		c.timer.Stop()
	}
	window := time.Duration(cell.Window() * float64(time.Second))
	c.timer = c.clock.AfterFunc(window, func() { c.autoStop(gen) })
	return nil
}

func (c *Controller) autoStop(gen uint64) {
	c.op.Lock()
	defer c.op.Unlock()
	if gen != c.gen || !c.playing {
		return
	}
	c.toRest()
}

func (c *Controller) videoEnded() {
	c.op.Lock()
	defer c.op.Unlock()
	// A play that raced the ended event owns the element now.
	if !c.playing || c.video.State().Playing {
		return
	}
	c.toRest()
}

// toRest is the Triggered -> Idle effect. Must be called with op held.
func (c *Controller) toRest() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.playing = false
	c.video.Pause()
	c.video.Seek(c.rest)
}

// stopAudio stops every in-flight instance. Stop errors from sources that
// already ended are ignored.
func (c *Controller) stopAudio() {
	c.mu.Lock()
	prior := make([]*instance, 0, len(c.instances))
	for id, inst := range c.instances {
		prior = append(prior, inst)
		delete(c.instances, id)
	}
	c.mu.Unlock()

	for _, inst := range prior {
		_ = inst.src.Stop()
		inst.gain.Disconnect()
	}
}

// Stop returns the video to rest. In-flight audio finishes on its own.
func (c *Controller) Stop() {
	c.op.Lock()
	defer c.op.Unlock()
	if c.playing {
		c.toRest()
	}
}

// Suspend is Stop for an external suspend (modal opened, app hidden).
// The element keeps its source so resuming shows the rest frame.
func (c *Controller) Suspend() {
	c.Stop()
}

// StopAll stops the video and every audio instance.
func (c *Controller) StopAll() {
	c.op.Lock()
	defer c.op.Unlock()
	if c.playing {
		c.toRest()
	}
	c.stopAudio()
}

// Bind attaches cell's media to the video element and parks it at the
// cell's in-point. It is safe to call repeatedly as the cell changes.
func (c *Controller) Bind(cell pad.Cell) {
	c.op.Lock()
	defer c.op.Unlock()

	if c.video.State().Source != cell.VideoURL {
		if c.playing {
			c.toRest()
		}
		c.video.SetSource(cell.VideoURL, cell.Duration())
	}
	hasAudio := cell.Audio != nil
	c.video.SetMuted(hasAudio)
	if !hasAudio {
		if err := c.video.SetVolume(cell.NativeVolume()); err != nil {
			log.Printf("Pad %d: set native volume: %v", c.id, err)
		}
	}
	c.rest = cell.StartTime
	if !c.playing {
		c.video.Seek(cell.StartTime)
	}
}

// Unbind stops everything and detaches the video source.
func (c *Controller) Unbind() {
	c.StopAll()
	c.op.Lock()
	defer c.op.Unlock()
	c.video.SetSource("", 0)
	c.rest = 0
}

// Playing reports the cell's visual playing flag.
func (c *Controller) Playing() bool {
	c.op.Lock()
	defer c.op.Unlock()
	return c.playing
}

// Active returns the number of in-flight audio instances.
func (c *Controller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.instances)
}

// Video returns the element's state.
func (c *Controller) Video() video.State {
	return c.video.State()
}
