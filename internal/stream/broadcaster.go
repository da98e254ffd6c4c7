// Package stream fans the rendered master bus out to monitors: the
// hardware sink, chunked MP3 over HTTP and Opus over WebRTC.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultBuffer holds about three seconds of 20ms frames.
const DefaultBuffer = 150

// Broadcaster copies each master bus frame to every subscribed listener.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	frames    atomic.Int64
}

// Listener receives master bus frames. A listener that falls behind
// loses frames instead of stalling the render loop.
type Listener struct {
	C       chan []int16 // interleaved stereo int16 frames
	done    chan struct{}
	dropped atomic.Int64
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Dropped returns how many frames this listener missed.
func (l *Listener) Dropped() int64 { return l.dropped.Load() }

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[*Listener]struct{})}
}

// Subscribe registers a listener with a buffer of n frames, or
// DefaultBuffer when n <= 0.
func (b *Broadcaster) Subscribe(n int) *Listener {
	if n <= 0 {
		n = DefaultBuffer
	}
	l := &Listener{
		C:    make(chan []int16, n),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes l and closes its Done channel. Repeated calls are
// ignored.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	_, ok := b.listeners[l]
	delete(b.listeners, l)
	b.mu.Unlock()
	if ok {
		close(l.done)
	}
}

// ListenerCount returns the number of subscribed listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Frames returns how many frames Run has distributed.
func (b *Broadcaster) Frames() int64 { return b.frames.Load() }

// Run distributes frames from source until ctx is done or source closes.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.frames.Add(1)
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					l.dropped.Add(1)
				}
			}
			b.mu.RUnlock()
		}
	}
}
