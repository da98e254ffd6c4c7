package stream

import (
	"context"
	"io"
	"log"
	"net/http"
	"os/exec"
	"strconv"
	"sync/atomic"

	"github.com/satindergrewal/vidpad/internal/audio"
)

// MP3Handler serves the master bus as a chunked MP3 stream. Each request
// runs its own ffmpeg encoder fed from a broadcaster listener.
type MP3Handler struct {
	broadcaster *Broadcaster
	ffmpeg      string
	bitrate     int // kbit/s
	listeners   atomic.Int64
}

// NewMP3Handler creates an MP3 monitor handler. An empty ffmpeg path
// means "ffmpeg" on PATH.
func NewMP3Handler(b *Broadcaster, ffmpeg string) *MP3Handler {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &MP3Handler{broadcaster: b, ffmpeg: ffmpeg, bitrate: 192}
}

// Listeners returns the number of connected MP3 clients.
func (h *MP3Handler) Listeners() int {
	return int(h.listeners.Load())
}

// encoderArgs reads s16le stereo at the bus rate on stdin and writes
// low-latency MP3 on stdout.
func (h *MP3Handler) encoderArgs() []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", strconv.Itoa(h.bitrate) + "k",
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

func (h *MP3Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET required", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := exec.CommandContext(ctx, h.ffmpeg, h.encoderArgs()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Printf("MP3 monitor: stdin pipe error: %v", err)
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Printf("MP3 monitor: stdout pipe error: %v", err)
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		log.Printf("MP3 monitor: ffmpeg start error: %v", err)
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}
	defer cmd.Wait()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")

	l := h.broadcaster.Subscribe(0)
	defer h.broadcaster.Unsubscribe(l)
	log.Printf("MP3 monitor connected (total: %d)", h.listeners.Add(1))
	defer func() {
		log.Printf("MP3 monitor disconnected (total: %d)", h.listeners.Add(-1))
	}()

	go feed(ctx, l, stdin)

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("MP3 monitor: ffmpeg read error: %v", err)
			}
			return
		}
	}
}

// feed writes listener frames to an encoder's stdin as little-endian PCM
// and closes it when the listener or ctx ends.
func feed(ctx context.Context, l *Listener, w io.WriteCloser) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.Done():
			return
		case frame := <-l.C:
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
		}
	}
}
