// Package pad defines a grid cell, its visual transform and trim window,
// and the record shape that persistence and project archives carry.
package pad

import (
	"errors"
	"fmt"

	"github.com/satindergrewal/vidpad/internal/audio"
)

// Nominal volume domain. Values outside it are tolerated and clamped by
// each playback path when consumed.
const (
	MinVolume     = 0.0
	MaxVolume     = 10.0
	DefaultVolume = 1.0
)

var (
	// ErrInvalidTrim reports a window violating 0 <= start < end <= duration.
	ErrInvalidTrim = errors.New("invalid trim window")
	// ErrInvalidTransform reports a transform outside its ranges.
	ErrInvalidTransform = errors.New("invalid transform")
)

// Transform is the visual affine applied to a cell's video. It never
// affects audio.
type Transform struct {
	Scale    float64 `json:"scale" yaml:"scale"`       // [1, 5]
	X        float64 `json:"x" yaml:"x"`               // [-1, 1]
	Y        float64 `json:"y" yaml:"y"`               // [-1, 1]
	Rotation int     `json:"rotation" yaml:"rotation"` // 0, 90, 180, 270
}

// DefaultTransform is the identity.
func DefaultTransform() Transform {
	return Transform{Scale: 1}
}

// Validate checks every field's range.
func (t Transform) Validate() error {
	switch {
	case t.Scale < 1 || t.Scale > 5:
		return fmt.Errorf("%w: scale %.2f not in [1, 5]", ErrInvalidTransform, t.Scale)
	case t.X < -1 || t.X > 1 || t.Y < -1 || t.Y > 1:
		return fmt.Errorf("%w: offset (%.2f, %.2f) not in [-1, 1]", ErrInvalidTransform, t.X, t.Y)
	}
	switch t.Rotation {
	case 0, 90, 180, 270:
		return nil
	}
	return fmt.Errorf("%w: rotation %d", ErrInvalidTransform, t.Rotation)
}

// ValidateTrim checks 0 <= start < end <= duration. A non-positive
// duration means unknown and skips the upper bound.
func ValidateTrim(start, end, duration float64) error {
	if start < 0 || start >= end || (duration > 0 && end > duration) {
		return fmt.Errorf("%w: [%.3f, %.3f) of %.3fs", ErrInvalidTrim, start, end, duration)
	}
	return nil
}

// Media is a cell's raw clip.
type Media struct {
	Data     []byte
	MIME     string
	Duration float64 // seconds, 0 when unknown
}

// Cell is one grid slot. Audio, VideoURL and Playing are derived at
// runtime and never persisted.
type Cell struct {
	ID           int
	Media        *Media
	Audio        *audio.Buffer
	VideoURL     string
	StartTime    float64
	EndTime      float64
	Volume       float64
	Transform    Transform
	AllowOverlap bool
	Playing      bool
}

// NewCell returns an empty cell with placeholder defaults.
func NewCell(id int) Cell {
	return Cell{ID: id, Volume: DefaultVolume, Transform: DefaultTransform()}
}

// IsEmpty reports whether no media is bound.
func (c Cell) IsEmpty() bool { return c.Media == nil }

// Window is the trigger window length, never negative.
func (c Cell) Window() float64 {
	if c.EndTime <= c.StartTime {
		return 0
	}
	return c.EndTime - c.StartTime
}

// Duration is the media length, falling back to the decoded audio.
func (c Cell) Duration() float64 {
	if c.Media != nil && c.Media.Duration > 0 {
		return c.Media.Duration
	}
	if c.Audio != nil {
		return c.Audio.Duration()
	}
	return 0
}

// GainLevel is the volume applied through a gain node. Gain above unity
// is allowed; only negatives are floored.
func (c Cell) GainLevel() float64 {
	if c.Volume < 0 {
		return 0
	}
	return c.Volume
}

// NativeVolume is the volume for the video element's own audio track,
// which cannot express gain above unity.
func (c Cell) NativeVolume() float64 {
	switch {
	case c.Volume < 0:
		return 0
	case c.Volume > 1:
		return 1
	}
	return c.Volume
}

// Record returns the persisted shape. Empty cells have no record.
func (c Cell) Record() Record {
	r := Record{
		ID:           c.ID,
		StartTime:    c.StartTime,
		EndTime:      c.EndTime,
		Volume:       c.Volume,
		Transform:    c.Transform,
		AllowOverlap: c.AllowOverlap,
	}
	if c.Media != nil {
		r.Media = c.Media.Data
		r.MIME = c.Media.MIME
		r.Duration = c.Media.Duration
	}
	return r
}

// Record is the persisted form of an occupied cell.
type Record struct {
	ID           int       `json:"id" yaml:"id"`
	Media        []byte    `json:"mediaBytes,omitempty" yaml:"-"`
	MIME         string    `json:"mimeType" yaml:"mime"`
	StartTime    float64   `json:"startTime" yaml:"start"`
	EndTime      float64   `json:"endTime" yaml:"end"`
	Volume       float64   `json:"volume" yaml:"volume"`
	Transform    Transform `json:"transform" yaml:"transform"`
	AllowOverlap bool      `json:"allowOverlap" yaml:"overlap"`
	Duration     float64   `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// Validate checks the record can populate a cell of a grid with size
// slots.
func (r Record) Validate(size int) error {
	if r.ID < 1 || r.ID > size {
		return fmt.Errorf("record id %d outside 1..%d", r.ID, size)
	}
	if len(r.Media) == 0 {
		return fmt.Errorf("record %d has no media", r.ID)
	}
	if err := ValidateTrim(r.StartTime, r.EndTime, r.Duration); err != nil {
		return fmt.Errorf("record %d: %w", r.ID, err)
	}
	if err := r.Transform.Validate(); err != nil {
		return fmt.Errorf("record %d: %w", r.ID, err)
	}
	return nil
}

// Cell builds an occupied cell from the record. Derived fields start
// unset.
func (r Record) Cell() Cell {
	return Cell{
		ID:           r.ID,
		Media:        &Media{Data: r.Media, MIME: r.MIME, Duration: r.Duration},
		StartTime:    r.StartTime,
		EndTime:      r.EndTime,
		Volume:       r.Volume,
		Transform:    r.Transform,
		AllowOverlap: r.AllowOverlap,
	}
}
