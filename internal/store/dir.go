package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/satindergrewal/vidpad/internal/pad"
)

const (
	filePrefix = "pad-"
	metaExt    = ".json"
	mediaExt   = ".media"
)

// Dir stores each record as pad-<id>.json next to pad-<id>.media.
// Writes go to a temp file first and are renamed into place.
type Dir struct {
	root string
	mu   sync.Mutex
}

// NewDir opens (creating if needed) a store rooted at root.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Dir{root: root}, nil
}

// Root returns the store directory.
func (d *Dir) Root() string { return d.root }

func (d *Dir) metaPath(id int) string {
	return filepath.Join(d.root, filePrefix+strconv.Itoa(id)+metaExt)
}

func (d *Dir) mediaPath(id int) string {
	return filepath.Join(d.root, filePrefix+strconv.Itoa(id)+mediaExt)
}

// Get returns the record for id, or nil when there is none.
func (d *Dir) Get(ctx context.Context, id int) (*pad.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.read(id)
}

func (d *Dir) read(id int) (*pad.Record, error) {
	meta, err := os.ReadFile(d.metaPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pad %d: %w", id, err)
	}
	var rec pad.Record
	if err := json.Unmarshal(meta, &rec); err != nil {
		return nil, fmt.Errorf("parse pad %d: %w", id, err)
	}
	rec.ID = id
	data, err := os.ReadFile(d.mediaPath(id))
	if err != nil {
		return nil, fmt.Errorf("read pad %d media: %w", id, err)
	}
	rec.Media = data
	return &rec, nil
}

// Put writes rec. When rec.Media is nil the stored media file is kept,
// so metadata-only edits never rewrite clip bytes.
func (d *Dir) Put(ctx context.Context, rec pad.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if rec.Media != nil {
		if err := writeAtomic(d.mediaPath(rec.ID), rec.Media); err != nil {
			return fmt.Errorf("write pad %d media: %w", rec.ID, err)
		}
	} else if _, err := os.Stat(d.mediaPath(rec.ID)); err != nil {
		return fmt.Errorf("write pad %d: no media stored: %w", rec.ID, err)
	}

	meta := rec
	meta.Media = nil
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pad %d: %w", rec.ID, err)
	}
	if err := writeAtomic(d.metaPath(rec.ID), b); err != nil {
		return fmt.Errorf("write pad %d: %w", rec.ID, err)
	}
	return nil
}

// Delete removes both files for id. Missing files are not an error.
func (d *Dir) Delete(ctx context.Context, id int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	// Metadata first: a record without metadata does not exist.
	for _, p := range []string{d.metaPath(id), d.mediaPath(id)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete pad %d: %w", id, err)
		}
	}
	return nil
}

// GetAll returns every record ordered by id.
func (d *Dir) GetAll(ctx context.Context) ([]pad.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(d.root, filePrefix+"*"+metaExt))
	if err != nil {
		return nil, err
	}
	var ids []int
	for _, m := range matches {
		if id, ok := parseID(m); ok {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	recs := make([]pad.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := d.read(id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			recs = append(recs, *rec)
		}
	}
	return recs, nil
}

// parseID extracts the id from a pad-<id>.json or pad-<id>.media path.
func parseID(path string) (int, bool) {
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	if ext != metaExt && ext != mediaExt {
		return 0, false
	}
	if !strings.HasPrefix(name, filePrefix) {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), ext))
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
