// Package project reads and writes pad projects: a zip archive holding a
// YAML manifest and one media file per occupied pad.
//
//	manifest.yaml
//	media/1.webm
//	media/4.mp4
package project

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/satindergrewal/vidpad/internal/pad"
)

const (
	// Version is the manifest version written by Export.
	Version = 1

	manifestName = "manifest.yaml"
	mediaDir     = "media"

	// maxMedia bounds a single decompressed clip.
	maxMedia = 512 << 20
)

var (
	ErrNoManifest = errors.New("project has no manifest")
	ErrVersion    = errors.New("unsupported project version")
)

type manifest struct {
	Version int     `yaml:"version"`
	Pads    []entry `yaml:"pads"`
}

type entry struct {
	File       string `yaml:"file"`
	pad.Record `yaml:",inline"`
}

var extensions = map[string]string{
	"video/webm":      ".webm",
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
	"video/ogg":       ".ogv",
	"audio/webm":      ".weba",
	"audio/mp4":       ".m4a",
	"audio/mpeg":      ".mp3",
	"audio/wav":       ".wav",
	"audio/ogg":       ".ogg",
}

// Ext returns the archive file extension for a MIME type, ignoring codec
// parameters. Unknown types get ".bin".
func Ext(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	if ext, ok := extensions[strings.TrimSpace(strings.ToLower(base))]; ok {
		return ext
	}
	return ".bin"
}

// Export writes recs as a project archive to w, in id order.
func Export(w io.Writer, recs []pad.Record) error {
	sorted := append([]pad.Record(nil), recs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	m := manifest{Version: Version}
	for _, rec := range sorted {
		if len(rec.Media) == 0 {
			return fmt.Errorf("export pad %d: no media", rec.ID)
		}
		file := path.Join(mediaDir, strconv.Itoa(rec.ID)+Ext(rec.MIME))
		m.Pads = append(m.Pads, entry{File: file, Record: rec})
	}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	zw := zip.NewWriter(w)
	mw, err := zw.Create(manifestName)
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if _, err := mw.Write(data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	for _, e := range m.Pads {
		// Recorded media is already compressed.
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: e.File, Method: zip.Store})
		if err != nil {
			return fmt.Errorf("write %s: %w", e.File, err)
		}
		if _, err := fw.Write(e.Media); err != nil {
			return fmt.Errorf("write %s: %w", e.File, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

// Import reads a project archive. Records are returned in manifest
// order with their media loaded; they are not validated against a grid.
func Import(r io.ReaderAt, size int64) ([]pad.Record, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open project: %w", err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	mf, ok := files[manifestName]
	if !ok {
		return nil, ErrNoManifest
	}
	data, err := readFile(mf)
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, m.Version)
	}

	recs := make([]pad.Record, 0, len(m.Pads))
	for _, e := range m.Pads {
		name := path.Clean(e.File)
		if !strings.HasPrefix(name, mediaDir+"/") {
			return nil, fmt.Errorf("pad %d: media path %q outside %s/", e.ID, e.File, mediaDir)
		}
		f, ok := files[name]
		if !ok {
			return nil, fmt.Errorf("pad %d: missing %s", e.ID, name)
		}
		media, err := readFile(f)
		if err != nil {
			return nil, fmt.Errorf("pad %d: %w", e.ID, err)
		}
		rec := e.Record
		rec.Media = media
		recs = append(recs, rec)
	}
	return recs, nil
}

func readFile(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxMedia {
		return nil, fmt.Errorf("%s: too large (%d bytes)", f.Name, f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxMedia+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if len(data) > maxMedia {
		return nil, fmt.Errorf("%s: too large", f.Name)
	}
	return data, nil
}
