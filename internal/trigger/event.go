package trigger

import "fmt"

// Button identifies the mouse button of a pointer event, numbered as
// browsers number them.
type Button int

const (
	ButtonPrimary   Button = 0
	ButtonAuxiliary Button = 1
	ButtonSecondary Button = 2
)

// PointerEvent is a pointer-down on a cell.
type PointerEvent struct {
	Button      Button `json:"button"`
	PointerType string `json:"pointerType"` // mouse, touch, pen, midi
	// OnControl is set when the event landed on an overlay control
	// (slider, button) rather than the cell surface.
	OnControl bool `json:"onControl"`
}

// Primary is a plain tap on the cell surface.
func Primary() PointerEvent {
	return PointerEvent{Button: ButtonPrimary, PointerType: "touch"}
}

// Guards is the grid-wide state a trigger is checked against.
type Guards struct {
	EditMode  bool
	Suspended bool
}

// Status is what a trigger did.
type Status int

const (
	// Ignored: a guard failed; nothing changed.
	Ignored Status = iota
	// Aborted: the audio context could not be resumed.
	Aborted
	// Started: at least the transition ran; see Outcome.Audio/Video.
	Started
)

func (s Status) String() string {
	switch s {
	case Ignored:
		return "ignored"
	case Aborted:
		return "aborted"
	case Started:
		return "started"
	}
	return "unknown"
}

// MarshalText renders the status by name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Outcome reports a trigger. Failures are absorbed: Err carries them for
// logging and status, and is never returned as an error by Trigger.
type Outcome struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
	Audio  bool   `json:"audio"`
	Video  bool   `json:"video"`
	Err    error  `json:"-"`
}

// PlaybackStartError reports that the platform refused to start audio or
// video for one trigger.
type PlaybackStartError struct {
	CellID int
	Media  string // "audio" or "video"
	Err    error
}

func (e *PlaybackStartError) Error() string {
	return fmt.Sprintf("pad %d: %s playback did not start: %v", e.CellID, e.Media, e.Err)
}

func (e *PlaybackStartError) Unwrap() error { return e.Err }
