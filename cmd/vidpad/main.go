package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/vidpad/internal/audio"
	"github.com/satindergrewal/vidpad/internal/config"
	"github.com/satindergrewal/vidpad/internal/grid"
	"github.com/satindergrewal/vidpad/internal/midi"
	"github.com/satindergrewal/vidpad/internal/mixer"
	"github.com/satindergrewal/vidpad/internal/output"
	"github.com/satindergrewal/vidpad/internal/store"
	"github.com/satindergrewal/vidpad/internal/stream"
	"github.com/satindergrewal/vidpad/internal/video"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Config file ignored: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Println("vidpad starting up...")

	// Master bus frames fan out to the sound card and monitor streams.
	broadcaster := stream.NewBroadcaster()
	var onResume func() error
	if cfg.Output == "oto" {
		sink := output.NewSink(broadcaster)
		defer sink.Close()
		onResume = sink.Start
	}
	actx := mixer.Default(mixer.Options{
		Limiter: mixer.LimiterConfig{
			Threshold: cfg.LimiterThreshold,
			Knee:      cfg.LimiterKnee,
			Ratio:     cfg.LimiterRatio,
			Attack:    cfg.LimiterAttack,
			Release:   cfg.LimiterRelease,
		},
		OnResume: onResume,
	})

	dir, err := store.NewDir(cfg.DataDir)
	if err != nil {
		log.Fatalf("Pad store unavailable: %v", err)
	}
	dec := audio.NewDecoder(cfg.FFmpegPath)
	g := grid.New(grid.Options{
		Size:    cfg.GridSize,
		Context: actx,
		Store:   dir,
		Decoder: dec,
		Onset: &audio.OnsetDetector{
			Decoder:   dec,
			Threshold: cfg.OnsetThreshold,
			Backoff:   cfg.OnsetBackoff,
		},
		Slots: video.NewSlots(cfg.VideoDecoders),
		Fade:  cfg.Fade,
	})
	defer g.Close()
	if err := g.Load(ctx); err != nil {
		log.Printf("Starting with an empty grid: %v", err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		actx.Run(ctx)
		return nil
	})
	eg.Go(func() error {
		broadcaster.Run(ctx, actx.Frames())
		return nil
	})

	if w, err := dir.Watch(); err != nil {
		log.Printf("Store watch disabled: %v", err)
	} else {
		eg.Go(func() error {
			watchStore(ctx, w, g)
			return nil
		})
	}

	if cfg.MIDIPort != "" {
		defer gomidi.CloseDriver()
		if c, err := midi.Open(cfg.MIDIPort, midi.DefaultLayout(g.Size())); err != nil {
			log.Printf("MIDI disabled: %v", err)
		} else {
			defer c.Close()
			eg.Go(func() error {
				c.Run(ctx, g)
				return nil
			})
		}
	}

	webrtcHandler := stream.NewWebRTCHandler(broadcaster)
	defer webrtcHandler.Close()

	mp3Handler := stream.NewMP3Handler(broadcaster, cfg.FFmpegPath)

	mux := http.NewServeMux()
	mux.Handle("GET /stream", mp3Handler)
	mux.Handle("POST /offer", webrtcHandler)
	a := &api{
		grid:  g,
		audio: actx,
		monitors: Monitors{
			HTTP:   mp3Handler.Listeners,
			WebRTC: webrtcHandler.PeerCount,
		},
	}
	a.routes(mux)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	eg.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return server.Shutdown(shutdownCtx)
	})
	eg.Go(func() error {
		log.Printf("vidpad live on %s (%d pads, store %s)", addr, g.Size(), dir.Root())
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		log.Printf("Exited: %v", err)
	}
}

// watchStore reloads pads written into the store by another process.
// Writes made by the grid itself reload as no-ops.
func watchStore(ctx context.Context, w *store.Watcher, g *grid.Grid) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-w.Events:
			if !ok {
				return
			}
			if id < 1 || id > g.Size() {
				continue
			}
			if err := g.Reload(ctx, id); err != nil {
				log.Printf("Pad %d: reload failed: %v", id, err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Printf("Store watch error: %v", err)
		}
	}
}
