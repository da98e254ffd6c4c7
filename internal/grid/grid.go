// Package grid owns the fixed set of pad cells and their playback
// controllers. It routes pointer events to the trigger engine and applies
// clip, trim, volume and overlap edits to memory and to the store.
package grid

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/satindergrewal/vidpad/internal/audio"
	"github.com/satindergrewal/vidpad/internal/clock"
	"github.com/satindergrewal/vidpad/internal/media"
	"github.com/satindergrewal/vidpad/internal/mixer"
	"github.com/satindergrewal/vidpad/internal/pad"
	"github.com/satindergrewal/vidpad/internal/store"
	"github.com/satindergrewal/vidpad/internal/trigger"
	"github.com/satindergrewal/vidpad/internal/video"
	"golang.org/x/sync/errgroup"
)

// DefaultSize is the number of cells in a grid.
const DefaultSize = 12

// Store is the persistence collaborator. Get returns nil, nil for an id
// with no record. A Put whose Media is nil keeps the stored media bytes.
type Store interface {
	Get(ctx context.Context, id int) (*pad.Record, error)
	Put(ctx context.Context, rec pad.Record) error
	Delete(ctx context.Context, id int) error
	GetAll(ctx context.Context) ([]pad.Record, error)
}

// Decoder turns clip bytes into PCM. *audio.Decoder implements it.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (*audio.Buffer, error)
}

// OnsetFinder suggests a trim start. *audio.OnsetDetector implements it.
type OnsetFinder interface {
	Find(ctx context.Context, data []byte) float64
}

// Options configure a Grid. Zero values get working defaults.
type Options struct {
	Size          int
	Context       *mixer.Context
	Clock         clock.Clock
	Store         Store
	Decoder       Decoder
	Onset         OnsetFinder
	Media         *media.Registry
	Slots         *video.Slots
	Fade          time.Duration
	DecodeWorkers int
}

type slot struct {
	cell     pad.Cell
	ctrl     *trigger.Controller
	gen      uint64 // bumped whenever media changes; stale decodes are dropped
	decoding bool

	// Store writes for one cell run one at a time under writeMu, outside
	// Grid.mu. writes and pending are guarded by Grid.mu: writes counts
	// every write ever queued, pending those not yet finished.
	writeMu sync.Mutex
	writes  uint64
	pending int
	saveErr atomic.Pointer[PersistenceError]
}

// queueWrite records that a store write for s is about to run. Must be
// called with mu held.
func (s *slot) queueWrite() {
	s.writes++
	s.pending++
}

// Grid is the pad grid.
type Grid struct {
	opts Options

	mu        sync.RWMutex
	slots     []*slot
	editMode  bool
	suspended bool

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a grid of empty cells.
func New(opts Options) *Grid {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Context == nil {
		opts.Context = mixer.Default(mixer.Options{Limiter: mixer.DefaultLimiter()})
	}
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.Media == nil {
		opts.Media = media.NewRegistry()
	}
	if opts.DecodeWorkers <= 0 {
		opts.DecodeWorkers = 4
	}

	g := &Grid{opts: opts, slots: make([]*slot, opts.Size)}
	g.base, g.cancel = context.WithCancel(context.Background())
	for i := range g.slots {
		id := i + 1
		g.slots[i] = &slot{
			cell: pad.NewCell(id),
			ctrl: trigger.NewController(id, trigger.Options{
				Context: opts.Context,
				Clock:   opts.Clock,
				Video:   video.NewElement(opts.Clock, opts.Slots),
				Fade:    opts.Fade,
			}),
		}
	}
	return g
}

// Size returns the number of cells.
func (g *Grid) Size() int { return len(g.slots) }

// Media returns the handle registry backing the cells' video URLs.
func (g *Grid) Media() *media.Registry { return g.opts.Media }

func (g *Grid) slot(id int) (*slot, error) {
	if id < 1 || id > len(g.slots) {
		return nil, fmt.Errorf("pad %d: %w", id, ErrNoSuchCell)
	}
	return g.slots[id-1], nil
}

// Cell returns a snapshot of cell id.
func (g *Grid) Cell(id int) (pad.Cell, error) {
	s, err := g.slot(id)
	if err != nil {
		return pad.Cell{}, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	c := s.cell
	c.Playing = s.ctrl.Playing()
	return c, nil
}

// Dispatch forwards a pointer event to the cell's controller. Playback
// failures are absorbed into the outcome; only an unknown id errors.
func (g *Grid) Dispatch(id int, ev trigger.PointerEvent) (trigger.Outcome, error) {
	s, err := g.slot(id)
	if err != nil {
		return trigger.Outcome{Status: trigger.Ignored, Reason: "no such cell"}, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	guards := trigger.Guards{EditMode: g.editMode, Suspended: g.suspended}
	return s.ctrl.Trigger(ev, s.cell, guards), nil
}

// --- Clip edits ---

// Clip is a trigger-ready clip from the recorder or an import.
type Clip struct {
	Data      []byte
	MIME      string
	Duration  float64
	StartTime float64
	EndTime   float64
	Transform pad.Transform
}

// ErrNoMedia is returned when a clip has no bytes.
var ErrNoMedia = errors.New("clip has no media")

// Commit replaces cell id's media, trim and transform and persists it.
// Volume and overlap are kept. Audio decodes in the background; until it
// resolves the cell plays through its video element.
func (g *Grid) Commit(ctx context.Context, id int, clip Clip) error {
	s, err := g.slot(id)
	if err != nil {
		return err
	}
	if len(clip.Data) == 0 {
		return fmt.Errorf("pad %d: %w", id, ErrNoMedia)
	}
	if clip.Transform == (pad.Transform{}) {
		clip.Transform = pad.DefaultTransform()
	}
	if err := pad.ValidateTrim(clip.StartTime, clip.EndTime, clip.Duration); err != nil {
		return fmt.Errorf("pad %d: %w", id, err)
	}
	if err := clip.Transform.Validate(); err != nil {
		return fmt.Errorf("pad %d: %w", id, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	g.mu.Lock()
	cell := s.cell
	s.queueWrite()
	g.mu.Unlock()
	cell.Media = &pad.Media{Data: clip.Data, MIME: clip.MIME, Duration: clip.Duration}
	cell.Audio = nil
	cell.StartTime = clip.StartTime
	cell.EndTime = clip.EndTime
	cell.Transform = clip.Transform

	err = g.opts.Store.Put(ctx, cell.Record())

	g.mu.Lock()
	defer g.mu.Unlock()
	s.pending--
	if err != nil {
		log.Printf("Pad %d: commit not saved: %v", id, err)
		return &PersistenceError{CellID: id, Op: "commit", Err: err}
	}

	// Volume and overlap edits made during the write are queued behind
	// writeMu and will save themselves.
	old := s.cell
	cell.Volume = old.Volume
	cell.AllowOverlap = old.AllowOverlap
	cell.VideoURL = g.opts.Media.Create(clip.Data, clip.MIME)
	s.ctrl.StopAll()
	s.cell = cell
	s.saveErr.Store(nil)
	s.ctrl.Bind(cell)
	g.revoke(old.VideoURL)
	g.decodeLocked([]*slot{s})
	return nil
}

// RecordingComplete commits a fresh recording. A negative suggested onset
// asks for detection; the clip end is its duration.
func (g *Grid) RecordingComplete(ctx context.Context, id int, data []byte, mime string, duration, suggestedOnset float64) error {
	start := suggestedOnset
	if start < 0 {
		start = 0
		if g.opts.Onset != nil {
			start = g.opts.Onset.Find(ctx, data)
		}
	}
	if start >= duration {
		start = 0
	}
	return g.Commit(ctx, id, Clip{
		Data:      data,
		MIME:      mime,
		Duration:  duration,
		StartTime: start,
		EndTime:   duration,
		Transform: pad.DefaultTransform(),
	})
}

// ApplyTrim updates the trim window and transform in place. Audio is not
// decoded again.
func (g *Grid) ApplyTrim(ctx context.Context, id int, start, end float64, tr pad.Transform) error {
	s, err := g.slot(id)
	if err != nil {
		return err
	}
	if err := tr.Validate(); err != nil {
		return fmt.Errorf("pad %d: %w", id, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	g.mu.Lock()
	if s.cell.IsEmpty() {
		g.mu.Unlock()
		return fmt.Errorf("pad %d: %w", id, ErrEmptyCell)
	}
	if err := pad.ValidateTrim(start, end, s.cell.Duration()); err != nil {
		g.mu.Unlock()
		return fmt.Errorf("pad %d: %w", id, err)
	}
	rec := s.cell.Record()
	s.queueWrite()
	g.mu.Unlock()

	rec.Media = nil
	rec.StartTime = start
	rec.EndTime = end
	rec.Transform = tr
	err = g.opts.Store.Put(ctx, rec)

	g.mu.Lock()
	defer g.mu.Unlock()
	s.pending--
	if err != nil {
		log.Printf("Pad %d: trim not saved: %v", id, err)
		return &PersistenceError{CellID: id, Op: "trim", Err: err}
	}
	s.cell.StartTime = start
	s.cell.EndTime = end
	s.cell.Transform = tr
	s.ctrl.Bind(s.cell)
	return nil
}

// Delete clears cell id. Deleting an empty cell does nothing.
func (g *Grid) Delete(ctx context.Context, id int) error {
	s, err := g.slot(id)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	g.mu.Lock()
	if s.cell.IsEmpty() {
		g.mu.Unlock()
		return nil
	}
	s.queueWrite()
	g.mu.Unlock()

	err = g.opts.Store.Delete(ctx, id)

	g.mu.Lock()
	defer g.mu.Unlock()
	s.pending--
	if err != nil {
		log.Printf("Pad %d: delete not saved: %v", id, err)
		return &PersistenceError{CellID: id, Op: "delete", Err: err}
	}
	g.clearLocked(s)
	return nil
}

// --- Metadata edits ---

// SetVolume updates the cell's volume immediately and saves it in the
// background. The channel yields the save result once.
func (g *Grid) SetVolume(id int, v float64) <-chan error {
	return g.edit(id, "volume", func(c *pad.Cell) { c.Volume = v })
}

// SetOverlap updates the overlap policy immediately and saves it in the
// background.
func (g *Grid) SetOverlap(id int, on bool) <-chan error {
	return g.edit(id, "overlap", func(c *pad.Cell) { c.AllowOverlap = on })
}

func (g *Grid) edit(id int, op string, apply func(*pad.Cell)) <-chan error {
	ch := make(chan error, 1)
	s, err := g.slot(id)
	if err != nil {
		ch <- err
		close(ch)
		return ch
	}

	g.mu.Lock()
	if s.cell.IsEmpty() {
		g.mu.Unlock()
		ch <- fmt.Errorf("pad %d: %w", id, ErrEmptyCell)
		close(ch)
		return ch
	}
	apply(&s.cell)
	s.ctrl.Bind(s.cell)
	s.queueWrite()
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer close(ch)
		ch <- g.saveMetadata(s, op)
	}()
	return ch
}

// saveMetadata writes the cell's latest metadata. Saves for one cell run
// one at a time and always write the current state, so a slow earlier
// save never overwrites a later edit.
func (g *Grid) saveMetadata(s *slot, op string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	g.mu.RLock()
	empty := s.cell.IsEmpty()
	rec := s.cell.Record()
	g.mu.RUnlock()
	defer func() {
		g.mu.Lock()
		s.pending--
		g.mu.Unlock()
	}()
	if empty {
		return nil
	}

	rec.Media = nil
	if err := g.opts.Store.Put(g.base, rec); err != nil {
		perr := &PersistenceError{CellID: rec.ID, Op: op, Err: err}
		s.saveErr.Store(perr)
		log.Printf("Pad %d: %s not saved: %v", rec.ID, op, err)
		return perr
	}
	s.saveErr.Store(nil)
	return nil
}

// --- Modes ---

// SetEditMode turns grid-wide edit/delete mode on or off. Triggers are
// ignored while it is on.
func (g *Grid) SetEditMode(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.editMode = on
}

// EditMode reports whether edit mode is on.
func (g *Grid) EditMode() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.editMode
}

// SuspendAll pauses every cell's video at its rest frame, keeping each
// source bound, and ignores triggers until ResumeAll.
func (g *Grid) SuspendAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suspended = true
	for _, s := range g.slots {
		s.ctrl.Suspend()
	}
}

// ResumeAll re-enables triggers.
func (g *Grid) ResumeAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suspended = false
}

// Suspended reports whether the grid is suspended.
func (g *Grid) Suspended() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.suspended
}

// --- Bulk ---

// Reset stops every cell, releases every media handle and empties the
// grid. The store is not touched.
func (g *Grid) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetLocked()
}

func (g *Grid) resetLocked() {
	for _, s := range g.slots {
		if s.cell.IsEmpty() {
			continue
		}
		g.clearLocked(s)
	}
}

// clearLocked stops a cell and returns it to empty. The handle is
// released after the element is unbound from it.
func (g *Grid) clearLocked(s *slot) {
	s.ctrl.Unbind()
	g.revoke(s.cell.VideoURL)
	s.cell = pad.NewCell(s.cell.ID)
	s.gen++
	s.decoding = false
	s.saveErr.Store(nil)
}

// Load replaces the grid with the store's records. Invalid records are
// logged and skipped.
func (g *Grid) Load(ctx context.Context) error {
	recs, err := g.opts.Store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load pads: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetLocked()
	var loaded []*slot
	for _, rec := range recs {
		if err := rec.Validate(len(g.slots)); err != nil {
			log.Printf("Skipping stored pad: %v", err)
			continue
		}
		loaded = append(loaded, g.populateLocked(rec))
	}
	g.decodeLocked(loaded)
	log.Printf("Loaded %d pads from store", len(loaded))
	return nil
}

// ImportProject replaces the whole grid with recs. Every slot is saved
// first: imported records are put and the rest deleted. The grid is
// then fully reset, so no playback from the previous media survives,
// and repopulated. Slots whose save failed keep the imported record in
// memory and report the failure in their status.
func (g *Grid) ImportProject(ctx context.Context, recs []pad.Record) error {
	seen := make(map[int]bool, len(recs))
	for _, rec := range recs {
		if err := rec.Validate(len(g.slots)); err != nil {
			return fmt.Errorf("import: %w", err)
		}
		if seen[rec.ID] {
			return fmt.Errorf("import: duplicate pad %d", rec.ID)
		}
		seen[rec.ID] = true
	}

	for _, s := range g.slots {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	g.mu.Lock()
	for _, s := range g.slots {
		s.queueWrite()
	}
	g.mu.Unlock()

	byID := make(map[int]pad.Record, len(recs))
	for _, rec := range recs {
		byID[rec.ID] = rec
	}
	failed := make(map[int]*PersistenceError)
	var errs []error
	for i := range g.slots {
		id := i + 1
		var err error
		if rec, ok := byID[id]; ok {
			err = g.opts.Store.Put(ctx, rec)
		} else {
			err = g.opts.Store.Delete(ctx, id)
		}
		if err != nil {
			perr := &PersistenceError{CellID: id, Op: "import", Err: err}
			failed[id] = perr
			errs = append(errs, perr)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.slots {
		s.pending--
	}
	g.resetLocked()
	var imported []*slot
	for _, rec := range recs {
		s := g.populateLocked(rec)
		if perr := failed[rec.ID]; perr != nil {
			s.saveErr.Store(perr)
		}
		imported = append(imported, s)
	}
	g.decodeLocked(imported)
	log.Printf("Imported %d pads", len(imported))
	return errors.Join(errs...)
}

func (g *Grid) populateLocked(rec pad.Record) *slot {
	s := g.slots[rec.ID-1]
	cell := rec.Cell()
	cell.VideoURL = g.opts.Media.Create(rec.Media, rec.MIME)
	s.cell = cell
	s.ctrl.Bind(cell)
	return s
}

// Reload re-reads one record after the store changed underneath the
// grid. Metadata-only changes keep the decoded audio.
func (g *Grid) Reload(ctx context.Context, id int) error {
	s, err := g.slot(id)
	if err != nil {
		return err
	}
	g.mu.RLock()
	writes := s.writes
	g.mu.RUnlock()

	rec, err := g.opts.Store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("reload pad %d: %w", id, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	// A write queued since the read supersedes rec. Its own change event
	// reloads once it lands.
	if s.pending > 0 || s.writes != writes {
		return nil
	}
	if rec == nil {
		if !s.cell.IsEmpty() {
			g.clearLocked(s)
		}
		return nil
	}
	if err := rec.Validate(len(g.slots)); err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	if !s.cell.IsEmpty() && sameMedia(s.cell.Media, rec) {
		cell := s.cell
		cell.StartTime = rec.StartTime
		cell.EndTime = rec.EndTime
		cell.Volume = rec.Volume
		cell.Transform = rec.Transform
		cell.AllowOverlap = rec.AllowOverlap
		if rec.Duration > 0 {
			m := *cell.Media
			m.Duration = rec.Duration
			cell.Media = &m
		}
		s.cell = cell
		s.ctrl.Bind(cell)
		return nil
	}

	old := s.cell.VideoURL
	s.ctrl.StopAll()
	g.populateLocked(*rec)
	g.revoke(old)
	g.decodeLocked([]*slot{s})
	return nil
}

func sameMedia(m *pad.Media, rec *pad.Record) bool {
	return m.MIME == rec.MIME && string(m.Data) == string(rec.Media)
}

// Records returns the persisted shape of every occupied cell.
func (g *Grid) Records() []pad.Record {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var recs []pad.Record
	for _, s := range g.slots {
		if !s.cell.IsEmpty() {
			recs = append(recs, s.cell.Record())
		}
	}
	return recs
}

// --- Decoding ---

type decodeJob struct {
	s    *slot
	gen  uint64
	data []byte
}

// decodeLocked starts background decodes for the slots' current media.
// Must be called with mu held.
func (g *Grid) decodeLocked(slots []*slot) {
	if g.opts.Decoder == nil || len(slots) == 0 {
		return
	}
	jobs := make([]decodeJob, 0, len(slots))
	for _, s := range slots {
		s.gen++
		s.decoding = true
		jobs = append(jobs, decodeJob{s: s, gen: s.gen, data: s.cell.Media.Data})
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		eg, ctx := errgroup.WithContext(g.base)
		eg.SetLimit(g.opts.DecodeWorkers)
		for _, j := range jobs {
			eg.Go(func() error {
				g.decode(ctx, j)
				return nil
			})
		}
		_ = eg.Wait()
	}()
}

func (g *Grid) decode(ctx context.Context, j decodeJob) {
	buf, err := g.opts.Decoder.Decode(ctx, j.data)

	g.mu.Lock()
	defer g.mu.Unlock()
	if j.s.gen != j.gen {
		return // media replaced while decoding
	}
	j.s.decoding = false
	if err != nil {
		log.Printf("Pad %d: decode failed, using video audio: %v", j.s.cell.ID, err)
		return
	}
	j.s.cell.Audio = buf
	j.s.ctrl.Bind(j.s.cell)
}

// --- Lifecycle ---

func (g *Grid) revoke(url string) {
	if url == "" {
		return
	}
	if err := g.opts.Media.Revoke(url); err != nil {
		log.Printf("Media handle release failed: %v", err)
	}
}

// Wait blocks until background decodes and saves finish.
func (g *Grid) Wait() {
	g.wg.Wait()
}

// Close cancels background work, waits for it and stops every cell.
func (g *Grid) Close() {
	g.cancel()
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.slots {
		s.ctrl.StopAll()
	}
}
