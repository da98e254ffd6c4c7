package midi

import (
	"context"
	"sync"
	"testing"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"

	"github.com/satindergrewal/vidpad/internal/trigger"
)

func TestPadForNote(t *testing.T) {
	l := DefaultLayout(12)
	tests := []struct {
		note uint8
		id   int
		ok   bool
	}{
		{31, 1, true},
		{34, 4, true},
		{21, 5, true},
		{11, 9, true},
		{14, 12, true},
		{15, 0, false}, // fifth column
		{41, 0, false}, // fourth row
		{10, 0, false},
		{91, 0, false},
	}
	for _, tt := range tests {
		id, ok := l.PadForNote(tt.note)
		if id != tt.id || ok != tt.ok {
			t.Errorf("PadForNote(%d) = %d, %v, want %d, %v", tt.note, id, ok, tt.id, tt.ok)
		}
	}
}

func TestNoteRoundTrip(t *testing.T) {
	for _, l := range []Layout{DefaultLayout(12), {Cols: 8, Size: 64}, {Cols: 3, Size: 7}} {
		for id := 1; id <= l.Size; id++ {
			note, ok := l.NoteForPad(id)
			if !ok {
				t.Fatalf("%+v: NoteForPad(%d) not found", l, id)
			}
			if got, _ := l.PadForNote(note); got != id {
				t.Errorf("%+v: pad %d -> note %d -> pad %d", l, id, note, got)
			}
		}
	}
}

func TestPartialLastRow(t *testing.T) {
	l := Layout{Cols: 3, Size: 7}
	// Three rows; the bottom row holds only pad 7.
	if id, ok := l.PadForNote(11); !ok || id != 7 {
		t.Errorf("PadForNote(11) = %d, %v, want 7", id, ok)
	}
	if _, ok := l.PadForNote(12); ok {
		t.Error("note past the last pad mapped")
	}
}

type recorder struct {
	mu  sync.Mutex
	ids []int
	evs []trigger.PointerEvent
}

func (r *recorder) Dispatch(id int, ev trigger.PointerEvent) (trigger.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	r.evs = append(r.evs, ev)
	return trigger.Outcome{Status: trigger.Started}, nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func TestHandleDispatchesNoteOn(t *testing.T) {
	c := newController("test", DefaultLayout(12))
	c.handle(gomidi.NoteOn(0, 31, 100))
	c.handle(gomidi.NoteOn(0, 11, 0)) // note-off
	c.handle(gomidi.NoteOff(0, 14))
	c.handle(gomidi.NoteOn(0, 99, 100)) // unmapped
	c.handle(gomidi.NoteOn(0, 14, 1))

	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, rec)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for rec.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if len(rec.ids) != 2 || rec.ids[0] != 1 || rec.ids[1] != 12 {
		t.Fatalf("dispatched = %v, want [1 12]", rec.ids)
	}
	for _, ev := range rec.evs {
		if ev.Button != trigger.ButtonPrimary || ev.PointerType != PointerType || ev.OnControl {
			t.Errorf("event = %+v, want primary midi press", ev)
		}
	}
}

func TestHandleDropsWhenQueueFull(t *testing.T) {
	c := newController("test", DefaultLayout(12))
	for i := 0; i < cap(c.pads)+10; i++ {
		c.handle(gomidi.NoteOn(0, 31, 100))
	}
	if len(c.pads) != cap(c.pads) {
		t.Errorf("queued = %d, want %d", len(c.pads), cap(c.pads))
	}
}
