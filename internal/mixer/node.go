package mixer

import (
	"errors"
	"math"

	"github.com/satindergrewal/vidpad/internal/audio"
)

// ErrInvalidState is returned when a source is started twice or stopped
// when it is not playing.
var ErrInvalidState = errors.New("invalid source state")

// ErrNotConnected is returned when a source starts before its gain node
// is attached to the graph.
var ErrNotConnected = errors.New("source not connected to output")

// Param is an automatable gain value. It supports one pending linear
// ramp, which is all trigger fades need.
type Param struct {
	value     float64
	rampFrom  float64
	rampTo    float64
	rampStart int64 // frame
	rampEnd   int64 // frame, exclusive; <= rampStart means no ramp
}

func (p *Param) valueAt(frame int64) float64 {
	if p.rampEnd <= p.rampStart || frame >= p.rampEnd {
		return p.value
	}
	if frame <= p.rampStart {
		return p.rampFrom
	}
	t := float64(frame-p.rampStart) / float64(p.rampEnd-p.rampStart)
	return p.rampFrom + (p.rampTo-p.rampFrom)*t
}

// GainNode scales the sources connected to it.
type GainNode struct {
	ctx     *Context
	gain    Param
	sources map[*BufferSource]struct{}
	route   route
}

type route int

const (
	routeNone route = iota
	routeBus
	routeDirect
)

// SetValue sets the gain immediately, cancelling any ramp.
func (g *GainNode) SetValue(v float64) {
	g.ctx.mu.Lock()
	defer g.ctx.mu.Unlock()
	g.gain = Param{value: v}
}

// Ramp moves the gain linearly from one value to another over dur
// seconds, starting at the context's current time.
func (g *GainNode) Ramp(from, to, dur float64) {
	g.ctx.mu.Lock()
	defer g.ctx.mu.Unlock()
	start := g.ctx.frame
	frames := int64(math.Round(dur * float64(g.ctx.sampleRate)))
	g.gain = Param{
		value:     to,
		rampFrom:  from,
		rampTo:    to,
		rampStart: start,
		rampEnd:   start + frames,
	}
}

// Value returns the gain at the context's current time.
func (g *GainNode) Value() float64 {
	g.ctx.mu.Lock()
	defer g.ctx.mu.Unlock()
	return g.gain.valueAt(g.ctx.frame)
}

// Target returns the value the gain settles at once any ramp completes.
func (g *GainNode) Target() float64 {
	g.ctx.mu.Lock()
	defer g.ctx.mu.Unlock()
	return g.gain.value
}

// Disconnect detaches g from the graph. Sources still playing through it
// are ended first.
func (g *GainNode) Disconnect() {
	c := g.ctx
	c.mu.Lock()
	var ended []*BufferSource
	for s := range g.sources {
		ended = append(ended, s)
	}
	for _, s := range ended {
		c.finish(s)
	}
	c.detach(g)
	c.mu.Unlock()
	fireEnded(ended)
}

func (g *GainNode) mixInto(left, right []float32, frame int64, ended *[]*BufferSource) {
	for s := range g.sources {
		if s.mixInto(left, right, frame, &g.gain) {
			*ended = append(*ended, s)
		}
	}
}

type sourceState int

const (
	sourceCreated sourceState = iota
	sourcePlaying
	sourceEnded
)

// BufferSource plays a window of a decoded buffer once.
type BufferSource struct {
	ctx     *Context
	buf     *audio.Buffer
	out     *GainNode
	state   sourceState
	pos     int
	end     int
	onEnded func()
}

// Connect routes the source through g. Must be called before Start.
func (s *BufferSource) Connect(g *GainNode) {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	s.out = g
}

// OnEnded registers a callback that runs exactly once, when the source
// finishes naturally or is stopped. It runs without context locks held.
func (s *BufferSource) OnEnded(f func()) {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	s.onEnded = f
}

// Start begins playback of [offset, offset+duration) seconds of the
// buffer. A negative duration is treated as zero.
func (s *BufferSource) Start(offset, duration float64) error {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	if s.state != sourceCreated {
		return ErrInvalidState
	}
	if s.out == nil || s.out.route == routeNone {
		return ErrNotConnected
	}
	rate := float64(s.buf.SampleRate)
	frames := s.buf.Frames()
	s.pos = clampInt(int(math.Round(offset*rate)), 0, frames)
	s.end = clampInt(s.pos+int(math.Round(math.Max(0, duration)*rate)), s.pos, frames)
	s.state = sourcePlaying
	s.out.sources[s] = struct{}{}
	s.ctx.playing++
	return nil
}

// Stop ends playback now. Stopping a source that already ended or never
// started returns ErrInvalidState; callers doing best-effort cleanup
// ignore it.
func (s *BufferSource) Stop() error {
	s.ctx.mu.Lock()
	if s.state != sourcePlaying {
		s.ctx.mu.Unlock()
		return ErrInvalidState
	}
	s.ctx.finish(s)
	f := s.onEnded
	s.ctx.mu.Unlock()

	if f != nil {
		f()
	}
	return nil
}

// Playing reports whether the source is still producing sound.
func (s *BufferSource) Playing() bool {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	return s.state == sourcePlaying
}

// mixInto adds the next len(left) frames and reports whether the source
// reached its end.
func (s *BufferSource) mixInto(left, right []float32, frame int64, gain *Param) bool {
	for i := range left {
		if s.pos >= s.end {
			return true
		}
		g := float32(gain.valueAt(frame + int64(i)))
		left[i] += s.buf.Sample(0, s.pos) * g
		right[i] += s.buf.Sample(1, s.pos) * g
		s.pos++
	}
	return s.pos >= s.end
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
