package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/satindergrewal/vidpad/internal/grid"
	"github.com/satindergrewal/vidpad/internal/media"
	"github.com/satindergrewal/vidpad/internal/mixer"
	"github.com/satindergrewal/vidpad/internal/pad"
	"github.com/satindergrewal/vidpad/internal/project"
	"github.com/satindergrewal/vidpad/internal/trigger"
)

// maxUpload bounds clip and project uploads.
const maxUpload = 512 << 20

// Monitors reports connected monitor streams. Zero values are fine when
// streaming is not wired.
type Monitors struct {
	HTTP   func() int
	WebRTC func() int
}

type api struct {
	grid     *grid.Grid
	audio    *mixer.Context
	monitors Monitors
}

func (a *api) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", a.status)
	mux.HandleFunc("POST /api/pads/{id}/trigger", a.trigger)
	mux.HandleFunc("POST /api/pads/{id}/clip", a.clip)
	mux.HandleFunc("POST /api/pads/{id}/trim", a.trim)
	mux.HandleFunc("DELETE /api/pads/{id}", a.deletePad)
	mux.HandleFunc("POST /api/pads/{id}/volume", a.volume)
	mux.HandleFunc("POST /api/pads/{id}/overlap", a.overlap)
	mux.HandleFunc("POST /api/suspend", a.suspend)
	mux.HandleFunc("POST /api/resume", a.resume)
	mux.HandleFunc("POST /api/edit", a.edit)
	mux.HandleFunc("GET /api/export", a.export)
	mux.HandleFunc("POST /api/import", a.importProject)
	mux.HandleFunc("GET /media/{handle}", a.media)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	var perr *grid.PersistenceError
	switch {
	case errors.Is(err, grid.ErrNoSuchCell), errors.Is(err, media.ErrUnknown):
		code = http.StatusNotFound
	case errors.Is(err, media.ErrRevoked):
		code = http.StatusGone
	case errors.Is(err, grid.ErrEmptyCell):
		code = http.StatusConflict
	case errors.Is(err, pad.ErrInvalidTrim), errors.Is(err, pad.ErrInvalidTransform),
		errors.Is(err, grid.ErrNoMedia), errors.Is(err, project.ErrNoManifest),
		errors.Is(err, project.ErrVersion):
		code = http.StatusBadRequest
	case errors.As(err, &perr):
		code = http.StatusInsufficientStorage
	}
	http.Error(w, err.Error(), code)
}

func padID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		return 0, fmt.Errorf("pad %q: %w", r.PathValue("id"), grid.ErrNoSuchCell)
	}
	return id, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	monitors := map[string]int{}
	if a.monitors.HTTP != nil {
		monitors["http"] = a.monitors.HTTP()
	}
	if a.monitors.WebRTC != nil {
		monitors["webrtc"] = a.monitors.WebRTC()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pads":       a.grid.Status(),
		"edit_mode":  a.grid.EditMode(),
		"suspended":  a.grid.Suspended(),
		"audio":      a.audio.State().String(),
		"audio_time": a.audio.CurrentTime(),
		"bus":        a.audio.BusStatus(),
		"dropped":    a.audio.Dropped(),
		"media":      a.grid.Media().Live(),
		"monitors":   monitors,
	})
}

// trigger takes an optional pointer event body; an empty body is a
// primary touch.
func (a *api) trigger(w http.ResponseWriter, r *http.Request) {
	id, err := padID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ev := trigger.Primary()
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil && err != io.EOF {
			http.Error(w, "invalid pointer event", http.StatusBadRequest)
			return
		}
	}
	out, err := a.grid.Dispatch(id, ev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// clip accepts raw media. X-Pad-Duration is required. With X-Pad-Start
// and X-Pad-End the clip is committed as trimmed; otherwise it is a
// fresh recording and X-Pad-Onset (or detection) picks the start.
func (a *api) clip(w http.ResponseWriter, r *http.Request) {
	id, err := padID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	mime := r.Header.Get("Content-Type")
	duration, err := headerFloat(r, "X-Pad-Duration", -1)
	if err != nil || duration <= 0 {
		http.Error(w, "X-Pad-Duration must be a positive number of seconds", http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpload))
	if err != nil {
		http.Error(w, "upload failed: "+err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	if r.Header.Get("X-Pad-Start") == "" && r.Header.Get("X-Pad-End") == "" {
		onset, err := headerFloat(r, "X-Pad-Onset", -1)
		if err != nil {
			http.Error(w, "invalid X-Pad-Onset", http.StatusBadRequest)
			return
		}
		err = a.grid.RecordingComplete(r.Context(), id, data, mime, duration, onset)
		if err != nil {
			writeError(w, err)
			return
		}
	} else {
		start, err1 := headerFloat(r, "X-Pad-Start", 0)
		end, err2 := headerFloat(r, "X-Pad-End", duration)
		if err1 != nil || err2 != nil {
			http.Error(w, "invalid trim headers", http.StatusBadRequest)
			return
		}
		err := a.grid.Commit(r.Context(), id, grid.Clip{
			Data:      data,
			MIME:      mime,
			Duration:  duration,
			StartTime: start,
			EndTime:   end,
			Transform: pad.DefaultTransform(),
		})
		if err != nil {
			writeError(w, err)
			return
		}
	}
	c, _ := a.grid.Cell(id)
	log.Printf("Pad %d: clip committed (%d bytes, %s)", id, len(data), mime)
	writeJSON(w, http.StatusCreated, map[string]any{
		"ok":        true,
		"id":        id,
		"video":     c.VideoURL,
		"startTime": c.StartTime,
		"endTime":   c.EndTime,
	})
}

func headerFloat(r *http.Request, key string, fallback float64) (float64, error) {
	v := r.Header.Get(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func (a *api) trim(w http.ResponseWriter, r *http.Request) {
	id, err := padID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req := struct {
		Start     float64        `json:"startTime"`
		End       float64        `json:"endTime"`
		Transform *pad.Transform `json:"transform"`
	}{}
	if !decodeBody(w, r, &req) {
		return
	}
	tr := pad.DefaultTransform()
	if req.Transform != nil {
		tr = *req.Transform
	}
	if err := a.grid.ApplyTrim(r.Context(), id, req.Start, req.End, tr); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *api) deletePad(w http.ResponseWriter, r *http.Request) {
	id, err := padID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.grid.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// volume and overlap apply immediately and save in the background; a
// failed save shows up as the pad's saveError in /api/status.
func (a *api) volume(w http.ResponseWriter, r *http.Request) {
	id, err := padID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Volume *float64 `json:"volume"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Volume == nil || *req.Volume < pad.MinVolume || *req.Volume > pad.MaxVolume {
		http.Error(w, fmt.Sprintf("volume must be %v-%v", pad.MinVolume, pad.MaxVolume), http.StatusBadRequest)
		return
	}
	a.accepted(w, a.grid.SetVolume(id, *req.Volume))
}

func (a *api) overlap(w http.ResponseWriter, r *http.Request) {
	id, err := padID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	a.accepted(w, a.grid.SetOverlap(id, req.Enabled))
}

// accepted reports validation failures that are already on the channel
// and otherwise answers 202 without waiting for the save.
func (a *api) accepted(w http.ResponseWriter, saved <-chan error) {
	select {
	case err, ok := <-saved:
		if ok && err != nil {
			var perr *grid.PersistenceError
			if !errors.As(err, &perr) {
				writeError(w, err)
				return
			}
		}
	default:
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (a *api) suspend(w http.ResponseWriter, r *http.Request) {
	a.grid.SuspendAll()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "suspended": true})
}

func (a *api) resume(w http.ResponseWriter, r *http.Request) {
	a.grid.ResumeAll()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "suspended": false})
}

func (a *api) edit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	a.grid.SetEditMode(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "edit_mode": req.Enabled})
}

func (a *api) export(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := project.Export(&buf, a.grid.Records()); err != nil {
		writeError(w, err)
		return
	}
	name := "vidpad-" + time.Now().Format("20060102-150405") + ".zip"
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.Write(buf.Bytes())
}

func (a *api) importProject(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpload))
	if err != nil {
		http.Error(w, "upload failed: "+err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	recs, err := project.Import(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.grid.ImportProject(r.Context(), recs); err != nil {
		var perr *grid.PersistenceError
		if errors.As(err, &perr) {
			writeError(w, err)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "pads": len(recs)})
}

func (a *api) media(w http.ResponseWriter, r *http.Request) {
	blob, err := a.grid.Media().Open(media.URL(r.PathValue("handle")))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", blob.MIME)
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(blob.Data))
}
