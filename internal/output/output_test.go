package output

import (
	"bytes"
	"io"
	"testing"

	"github.com/satindergrewal/vidpad/internal/stream"
)

func TestFrameReaderSilenceWhenIdle(t *testing.T) {
	b := stream.NewBroadcaster()
	r := newFrameReader(b.Subscribe(4))

	p := []byte{9, 9, 9, 9}
	n, err := r.Read(p)
	if n != 4 || err != nil {
		t.Fatalf("Read = %d, %v, want 4, nil", n, err)
	}
	if !bytes.Equal(p, make([]byte, 4)) {
		t.Errorf("idle read = %x, want silence", p)
	}
}

func TestFrameReaderSplitsFrames(t *testing.T) {
	b := stream.NewBroadcaster()
	l := b.Subscribe(4)
	r := newFrameReader(l)
	l.C <- []int16{1, 2}
	l.C <- []int16{3}

	p := make([]byte, 3)
	if n, _ := r.Read(p); n != 3 || !bytes.Equal(p, []byte{1, 0, 2}) {
		t.Errorf("first read = %d %x, want 3 010002", n, p)
	}
	p = make([]byte, 8)
	n, _ := r.Read(p)
	if want := []byte{0, 3, 0}; n != 3 || !bytes.Equal(p[:n], want) {
		t.Errorf("second read = %d %x, want 3 %x", n, p[:n], want)
	}
}

func TestFrameReaderEOFAfterUnsubscribe(t *testing.T) {
	b := stream.NewBroadcaster()
	l := b.Subscribe(1)
	r := newFrameReader(l)
	b.Unsubscribe(l)
	if _, err := r.Read(make([]byte, 4)); err != io.EOF {
		t.Errorf("Read error = %v, want EOF", err)
	}
}

func TestCloseUnstartedSink(t *testing.T) {
	s := NewSink(stream.NewBroadcaster())
	if s.Started() {
		t.Error("new sink reports started")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close error = %v", err)
	}
}
