// Package midi turns Launchpad-style note-on messages into pad triggers.
package midi

import (
	"context"
	"fmt"
	"log"
	"strings"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // register driver

	"github.com/satindergrewal/vidpad/internal/trigger"
)

// PointerType tags events that came from a MIDI controller.
const PointerType = "midi"

// Dispatcher receives pad triggers. *grid.Grid implements it.
type Dispatcher interface {
	Dispatch(id int, ev trigger.PointerEvent) (trigger.Outcome, error)
}

// Layout places pads on a programmer-mode Launchpad, where note
// (row+1)*10 + (col+1) is the button at row from the bottom and col from
// the left. Pad 1 sits top-left, matching the on-screen grid.
type Layout struct {
	Cols int
	Size int
}

// DefaultLayout is four columns of the default grid.
func DefaultLayout(size int) Layout {
	return Layout{Cols: 4, Size: size}
}

func (l Layout) rows() int {
	return (l.Size + l.Cols - 1) / l.Cols
}

// PadForNote returns the pad under note, if any.
func (l Layout) PadForNote(note uint8) (int, bool) {
	if l.Cols <= 0 || l.Size <= 0 {
		return 0, false
	}
	row := int(note/10) - 1
	col := int(note%10) - 1
	rows := l.rows()
	if row < 0 || row >= rows || col < 0 || col >= l.Cols {
		return 0, false
	}
	id := (rows-1-row)*l.Cols + col + 1
	if id > l.Size {
		return 0, false
	}
	return id, true
}

// NoteForPad is the inverse of PadForNote.
func (l Layout) NoteForPad(id int) (uint8, bool) {
	if l.Cols <= 0 || id < 1 || id > l.Size {
		return 0, false
	}
	top := (id - 1) / l.Cols
	col := (id - 1) % l.Cols
	row := l.rows() - 1 - top
	return uint8((row+1)*10 + col + 1), true
}

// Controller listens on one MIDI input and dispatches pad triggers.
type Controller struct {
	name   string
	layout Layout
	stop   func()
	pads   chan int
}

// Open listens on the first input port whose name contains port,
// case-insensitively.
func Open(port string, layout Layout) (*Controller, error) {
	in, err := findIn(port)
	if err != nil {
		return nil, err
	}
	c := newController(in.String(), layout)
	stop, err := gomidi.ListenTo(in, func(msg gomidi.Message, _ int32) {
		c.handle(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", in.String(), err)
	}
	c.stop = stop
	log.Printf("MIDI input %q mapped to %d pads", c.name, layout.Size)
	return c, nil
}

func newController(name string, layout Layout) *Controller {
	return &Controller{name: name, layout: layout, pads: make(chan int, 32)}
}

func findIn(port string) (drivers.In, error) {
	want := strings.ToLower(port)
	for _, in := range gomidi.GetInPorts() {
		if strings.Contains(strings.ToLower(in.String()), want) {
			return in, nil
		}
	}
	return nil, fmt.Errorf("no MIDI input matching %q", port)
}

// handle runs on the driver's thread. Note-on with velocity 0 is a
// note-off and is ignored; a full queue drops the hit.
func (c *Controller) handle(msg gomidi.Message) {
	var ch, note, vel uint8
	if !msg.GetNoteOn(&ch, &note, &vel) || vel == 0 {
		return
	}
	id, ok := c.layout.PadForNote(note)
	if !ok {
		return
	}
	select {
	case c.pads <- id:
	default:
	}
}

// Run dispatches received hits to d until ctx is done.
func (c *Controller) Run(ctx context.Context, d Dispatcher) {
	ev := trigger.PointerEvent{Button: trigger.ButtonPrimary, PointerType: PointerType}
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-c.pads:
			out, err := d.Dispatch(id, ev)
			if err != nil {
				log.Printf("MIDI pad %d: %v", id, err)
				continue
			}
			if out.Status == trigger.Aborted {
				log.Printf("MIDI pad %d: trigger aborted: %s", id, out.Reason)
			}
		}
	}
}

// Close stops listening.
func (c *Controller) Close() {
	if c.stop != nil {
		c.stop()
	}
}
