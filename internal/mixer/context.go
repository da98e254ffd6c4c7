// Package mixer is the pad server's audio graph: a context with a sample
// clock, per-trigger gain nodes and buffer sources, and one master bus
// (limiter then master gain) in front of the hardware output.
package mixer

import (
	"errors"
	"log"
	"sync"

	"github.com/satindergrewal/vidpad/internal/audio"
)

// State is the audio context's run state.
type State int

const (
	Suspended State = iota
	Running
	Closed
)

func (s State) String() string {
	switch s {
	case Suspended:
		return "suspended"
	case Running:
		return "running"
	case Closed:
		return "closed"
	}
	return "unknown"
}

var ErrClosed = errors.New("audio context closed")

// Options configure a Context.
type Options struct {
	SampleRate int
	Limiter    LimiterConfig
	// OnResume runs when a suspended context resumes, e.g. to start the
	// hardware sink. An error keeps the context suspended.
	OnResume func() error
}

// Context owns the audio graph and its sample clock. It starts suspended
// and only renders after Resume.
type Context struct {
	mu         sync.Mutex
	sampleRate int
	state      State
	frame      int64 // frames rendered so far
	playing    int   // sources in sourcePlaying
	onResume   func() error
	direct     map[*GainNode]struct{}

	limiterCfg LimiterConfig
	busOnce    sync.Once
	bus        *Bus
	busErr     error

	frames  chan []int16
	dropped int
}

// NewContext creates a suspended context.
func NewContext(opts Options) *Context {
	if opts.SampleRate <= 0 {
		opts.SampleRate = audio.SampleRate
	}
	return &Context{
		sampleRate: opts.SampleRate,
		onResume:   opts.OnResume,
		limiterCfg: opts.Limiter,
		direct:     make(map[*GainNode]struct{}),
		frames:     make(chan []int16, 100),
	}
}

var (
	defaultMu  sync.Mutex
	defaultCtx *Context
)

// Default returns the process-wide context, creating it on first use
// with opts. Later calls ignore opts. The context is never torn down.
func Default(opts Options) *Context {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultCtx == nil {
		defaultCtx = NewContext(opts)
	}
	return defaultCtx
}

// SampleRate returns the context's rate in Hz.
func (c *Context) SampleRate() int { return c.sampleRate }

// State returns the current run state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentTime returns seconds of audio rendered since creation.
func (c *Context) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.frame) / float64(c.sampleRate)
}

// Resume moves a suspended context to running. It is a no-op when
// already running.
func (c *Context) Resume() error {
	c.mu.Lock()
	switch c.state {
	case Closed:
		c.mu.Unlock()
		return ErrClosed
	case Running:
		c.mu.Unlock()
		return nil
	}
	hook := c.onResume
	c.mu.Unlock()

	if hook != nil {
		if err := hook(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return ErrClosed
	}
	c.state = Running
	return nil
}

// Suspend stops rendering; the clock pauses with it.
func (c *Context) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Running {
		c.state = Suspended
	}
}

// Close ends every playing source and stops the context for good.
func (c *Context) Close() {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.state = Closed
	var ended []*BufferSource
	for g := range c.allInputs() {
		for s := range g.sources {
			ended = append(ended, s)
		}
	}
	for _, s := range ended {
		c.finish(s)
	}
	c.mu.Unlock()
	fireEnded(ended)
}

// NewGain creates a gain node at unity.
func (c *Context) NewGain() *GainNode {
	return &GainNode{
		ctx:     c,
		gain:    Param{value: 1},
		sources: make(map[*BufferSource]struct{}),
	}
}

// NewBufferSource creates a one-shot source for buf.
func (c *Context) NewBufferSource(buf *audio.Buffer) *BufferSource {
	return &BufferSource{ctx: c, buf: buf}
}

// Connect attaches g to the master bus. If the bus could not be built,
// g goes straight to the destination instead.
func (c *Context) Connect(g *GainNode) {
	bus, err := c.Bus()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		g.route = routeDirect
		c.direct[g] = struct{}{}
		return
	}
	g.route = routeBus
	bus.inputs[g] = struct{}{}
}

// Bus returns the master bus, building it on first use. A construction
// error is sticky: the context keeps running without a bus.
func (c *Context) Bus() (*Bus, error) {
	c.busOnce.Do(func() {
		bus, err := newBus(c.limiterCfg, c.sampleRate)
		c.mu.Lock()
		c.bus, c.busErr = bus, err
		c.mu.Unlock()
		if err != nil {
			log.Printf("Master bus unavailable, routing pads direct to output: %v", err)
		}
	})
	return c.bus, c.busErr
}

// ActiveSources returns the number of playing buffer sources.
func (c *Context) ActiveSources() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// ConnectedNodes returns the number of gain nodes attached to the bus or
// destination.
func (c *Context) ConnectedNodes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.allInputs())
}

// allInputs must be called with mu held.
func (c *Context) allInputs() map[*GainNode]struct{} {
	all := make(map[*GainNode]struct{}, len(c.direct))
	for g := range c.direct {
		all[g] = struct{}{}
	}
	if c.bus != nil {
		for g := range c.bus.inputs {
			all[g] = struct{}{}
		}
	}
	return all
}

// finish retires a playing source and drops its gain node once the node
// has nothing left to play. Must be called with mu held.
func (c *Context) finish(s *BufferSource) {
	if s.state != sourcePlaying {
		return
	}
	s.state = sourceEnded
	c.playing--
	g := s.out
	delete(g.sources, s)
	if len(g.sources) > 0 {
		return
	}
	c.detach(g)
}

// detach must be called with mu held.
func (c *Context) detach(g *GainNode) {
	switch g.route {
	case routeBus:
		delete(c.bus.inputs, g)
	case routeDirect:
		delete(c.direct, g)
	}
	g.route = routeNone
}

func fireEnded(sources []*BufferSource) {
	for _, s := range sources {
		if s.onEnded != nil {
			s.onEnded()
		}
	}
}

// Render mixes the next n frames and advances the clock. The result is
// interleaved stereo int16. Sources that end during the block have their
// OnEnded callbacks run before Render returns.
func (c *Context) Render(n int) []int16 {
	busL, busR := make([]float32, n), make([]float32, n)
	dirL, dirR := make([]float32, n), make([]float32, n)
	var ended []*BufferSource

	c.mu.Lock()
	if c.bus != nil {
		for g := range c.bus.inputs {
			g.mixInto(busL, busR, c.frame, &ended)
		}
		c.bus.process(busL, busR, c.frame)
	}
	for g := range c.direct {
		g.mixInto(dirL, dirR, c.frame, &ended)
	}
	c.frame += int64(n)
	for _, s := range ended {
		c.finish(s)
	}
	c.mu.Unlock()

	fireEnded(ended)

	out := make([]int16, n*2)
	for i := 0; i < n; i++ {
		out[i*2] = toInt16(busL[i] + dirL[i])
		out[i*2+1] = toInt16(busR[i] + dirR[i])
	}
	return out
}

func toInt16(v float32) int16 {
	s := v * 32767
	// Clip to int16 range
	if s > 32767 {
		return 32767
	} else if s < -32768 {
		return -32768
	}
	return int16(s)
}
