// Package video models the video element each pad cell shows: which clip
// it is bound to, whether its own audio track is muted, its native volume,
// and where its playhead is. Positions advance with the injected clock so
// the server can report them to clients and tests can step them.
package video

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/satindergrewal/vidpad/internal/clock"
)

var (
	// ErrNoSource is returned by Play on an element with nothing bound.
	ErrNoSource = errors.New("video element has no source")
	// ErrDecoderLimit is returned by Play when every decoder slot is busy.
	ErrDecoderLimit = errors.New("video decoder limit reached")
	// ErrVolumeRange is returned when native volume is outside [0, 1].
	ErrVolumeRange = errors.New("video volume out of range [0, 1]")
)

// State is a snapshot of an element for status reporting.
type State struct {
	Source   string  `json:"source"`
	Muted    bool    `json:"muted"`
	Volume   float64 `json:"volume"`
	Position float64 `json:"position"`
	Playing  bool    `json:"playing"`
}

// Element is one cell's video element.
type Element struct {
	mu    sync.Mutex
	clock clock.Clock
	slots *Slots

	src      string
	duration float64 // seconds, 0 when unknown
	muted    bool
	volume   float64

	playing  bool
	position float64   // playhead at anchor
	anchor   time.Time // when playback last (re)started
	hasSlot  bool

	endTimer clock.Timer
	gen      uint64
	onEnded  func()
}

// NewElement creates an unbound element. slots may be nil for no limit.
func NewElement(clk clock.Clock, slots *Slots) *Element {
	return &Element{clock: clk, slots: slots, volume: 1}
}

// SetSource binds url, stopping playback and rewinding to zero. An empty
// url unbinds the element.
func (e *Element) SetSource(url string, duration float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseLocked()
	e.src = url
	e.duration = duration
	e.position = 0
}

// Source returns the bound URL.
func (e *Element) Source() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.src
}

// SetMuted mutes or unmutes the element's own audio track.
func (e *Element) SetMuted(m bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = m
}

// SetVolume sets native volume. Values outside [0, 1] are rejected, as a
// browser would.
func (e *Element) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("set volume %.2f: %w", v, ErrVolumeRange)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
	return nil
}

// Seek moves the playhead, clamped to the media.
func (e *Element) Seek(t float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = e.clamp(t)
	if e.playing {
		e.anchor = e.clock.Now()
		e.scheduleEndLocked()
	}
}

// CurrentTime returns the playhead position in seconds.
func (e *Element) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentLocked()
}

// Play starts playback from the playhead. Playing an element that is
// already playing is a no-op.
func (e *Element) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.src == "" {
		return ErrNoSource
	}
	if e.playing {
		return nil
	}
	if e.slots != nil {
		if !e.slots.acquire() {
			return ErrDecoderLimit
		}
		e.hasSlot = true
	}
	if e.duration > 0 && e.position >= e.duration {
		e.position = 0
	}
	e.playing = true
	e.anchor = e.clock.Now()
	e.scheduleEndLocked()
	return nil
}

// Pause stops the playhead where it is.
func (e *Element) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseLocked()
}

// Paused reports whether the element is not playing.
func (e *Element) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.playing
}

// OnEnded registers the callback run when playback reaches the end of the
// media. It runs without the element's lock held.
func (e *Element) OnEnded(f func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnded = f
}

// State returns a snapshot.
func (e *Element) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Source:   e.src,
		Muted:    e.muted,
		Volume:   e.volume,
		Position: e.currentLocked(),
		Playing:  e.playing,
	}
}

func (e *Element) clamp(t float64) float64 {
	if t < 0 {
		return 0
	}
	if e.duration > 0 && t > e.duration {
		return e.duration
	}
	return t
}

func (e *Element) currentLocked() float64 {
	if !e.playing {
		return e.position
	}
	return e.clamp(e.position + e.clock.Now().Sub(e.anchor).Seconds())
}

func (e *Element) pauseLocked() {
	if !e.playing {
		return
	}
	e.position = e.currentLocked()
	e.playing = false
	e.cancelEndLocked()
	if e.hasSlot {
		e.slots.release()
		e.hasSlot = false
	}
}

func (e *Element) cancelEndLocked() {
	e.gen++
	if e.endTimer != nil {
		e.endTimer.Stop()
		e.endTimer = nil
	}
}

func (e *Element) scheduleEndLocked() {
	e.cancelEndLocked()
	if e.duration <= 0 {
		return
	}
	gen := e.gen
	left := time.Duration((e.duration - e.position) * float64(time.Second))
	e.endTimer = e.clock.AfterFunc(left, func() { e.ended(gen) })
}

func (e *Element) ended(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || !e.playing {
		e.mu.Unlock()
		return
	}
	e.pauseLocked()
	e.position = e.duration
	f := e.onEnded
	e.mu.Unlock()

	if f != nil {
		f()
	}
}
