// Package output plays the master bus on the local sound card.
package output

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/satindergrewal/vidpad/internal/audio"
	"github.com/satindergrewal/vidpad/internal/stream"
)

// Sink feeds broadcaster frames to an oto player. It starts on the first
// call to Start, normally from the audio context's resume hook, and keeps
// playing until Close.
type Sink struct {
	broadcaster *stream.Broadcaster

	mu      sync.Mutex
	ctx     *oto.Context
	player  *oto.Player
	l       *stream.Listener
	started bool
}

// NewSink creates a stopped sink over b.
func NewSink(b *stream.Broadcaster) *Sink {
	return &Sink{broadcaster: b}
}

// Start opens the sound card and begins playback. Repeated calls are
// no-ops; the oto context can only be created once per process.
func (s *Sink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	if s.ctx == nil {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   audio.SampleRate,
			ChannelCount: audio.Channels,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			return fmt.Errorf("open audio device: %w", err)
		}
		<-ready
		s.ctx = ctx
	}

	s.l = s.broadcaster.Subscribe(8)
	s.player = s.ctx.NewPlayer(newFrameReader(s.l))
	s.player.Play()
	s.started = true
	log.Printf("Hardware output started (%d Hz)", audio.SampleRate)
	return nil
}

// Started reports whether the sink is playing.
func (s *Sink) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Close stops playback. The sink can be started again.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	s.broadcaster.Unsubscribe(s.l)
	err := s.player.Close()
	s.player = nil
	return err
}

// frameReader adapts a listener to the io.Reader oto pulls from. It
// never blocks on an empty listener; gaps are filled with silence so the
// device does not underrun while the context is suspended.
type frameReader struct {
	l       *stream.Listener
	pending []byte
}

func newFrameReader(l *stream.Listener) *frameReader {
	return &frameReader{l: l}
}

func (r *frameReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.pending) == 0 {
			select {
			case <-r.l.Done():
				if n == 0 {
					return 0, io.EOF
				}
				return n, nil
			case frame := <-r.l.C:
				r.pending = audio.SamplesToBytes(frame)
			default:
				if n == 0 {
					clear(p)
					return len(p), nil
				}
				return n, nil
			}
		}
		c := copy(p[n:], r.pending)
		r.pending = r.pending[c:]
		n += c
	}
	return n, nil
}
