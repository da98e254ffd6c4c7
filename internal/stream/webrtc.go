package stream

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/satindergrewal/vidpad/internal/audio"
	"gopkg.in/hraban/opus.v2"
)

// WebRTCHandler negotiates low-latency Opus monitors of the master bus.
// Clients POST an SDP offer and receive the answer once ICE gathering is
// complete.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	config      webrtc.Configuration

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]*Listener
}

// NewWebRTCHandler creates a WebRTC monitor handler.
func NewWebRTCHandler(b *Broadcaster) *WebRTCHandler {
	return &WebRTCHandler{
		broadcaster: b,
		peers:       make(map[*webrtc.PeerConnection]*Listener),
	}
}

// PeerCount returns the number of connected monitors.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil || offer.SDP == "" {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, track, err := h.answer(offer)
	if err != nil {
		log.Printf("WebRTC monitor: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	l := h.broadcaster.Subscribe(0)
	h.mu.Lock()
	h.peers[pc] = l
	h.mu.Unlock()
	log.Printf("WebRTC monitor connected (total: %d)", h.PeerCount())

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			if h.remove(pc) {
				log.Printf("WebRTC monitor disconnected (remaining: %d)", h.PeerCount())
			}
		}
	})
	go h.stream(l, track)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

// answer builds a peer connection with one Opus track and answers offer.
func (h *WebRTCHandler) answer(offer webrtc.SessionDescription) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	pc, err := webrtc.NewPeerConnection(h.config)
	if err != nil {
		return nil, nil, fmt.Errorf("create peer connection: %w", err)
	}
	fail := func(step string, err error) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
		pc.Close()
		return nil, nil, fmt.Errorf("%s: %w", step, err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audio.SampleRate, Channels: audio.Channels},
		"audio",
		"vidpad-master",
	)
	if err != nil {
		return fail("create track", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return fail("add track", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fail("set remote description", err)
	}
	ans, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail("create answer", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(ans); err != nil {
		return fail("set local description", err)
	}
	<-gathered
	return pc, track, nil
}

// stream encodes listener frames to Opus until the peer goes away.
func (h *WebRTCHandler) stream(l *Listener, track *webrtc.TrackLocalStaticSample) {
	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		log.Printf("WebRTC monitor: opus encoder error: %v", err)
		return
	}
	enc.SetBitrate(128000)

	packet := make([]byte, 4000)
	for {
		select {
		case <-l.Done():
			return
		case frame := <-l.C:
			n, err := enc.Encode(frame, packet)
			if err != nil {
				log.Printf("WebRTC monitor: opus encode error: %v", err)
				continue
			}
			if err := track.WriteSample(media.Sample{Data: packet[:n], Duration: audio.FrameDuration}); err != nil {
				return
			}
		}
	}
}

// remove closes pc and unsubscribes its listener. It reports whether pc
// was still registered.
func (h *WebRTCHandler) remove(pc *webrtc.PeerConnection) bool {
	h.mu.Lock()
	l, ok := h.peers[pc]
	delete(h.peers, pc)
	h.mu.Unlock()
	if !ok {
		return false
	}
	h.broadcaster.Unsubscribe(l)
	pc.Close()
	return true
}

// Close disconnects every monitor.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	pcs := make([]*webrtc.PeerConnection, 0, len(h.peers))
	for pc := range h.peers {
		pcs = append(pcs, pc)
	}
	h.mu.Unlock()
	for _, pc := range pcs {
		h.remove(pc)
	}
}
