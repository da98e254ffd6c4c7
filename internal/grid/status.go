package grid

import (
	"github.com/satindergrewal/vidpad/internal/pad"
	"github.com/satindergrewal/vidpad/internal/video"
)

// CellStatus is what a client needs to render one cell.
type CellStatus struct {
	ID           int           `json:"id"`
	Empty        bool          `json:"empty"`
	MIME         string        `json:"mime,omitempty"`
	Duration     float64       `json:"duration,omitempty"`
	StartTime    float64       `json:"startTime"`
	EndTime      float64       `json:"endTime"`
	Volume       float64       `json:"volume"`
	Transform    pad.Transform `json:"transform"`
	AllowOverlap bool          `json:"allowOverlap"`
	HasAudio     bool          `json:"hasAudio"`
	Decoding     bool          `json:"decoding"`
	Playing      bool          `json:"playing"`
	Active       int           `json:"active"`
	Video        video.State   `json:"video"`
	SaveError    string        `json:"saveError,omitempty"`
}

// Status returns every cell in id order.
func (g *Grid) Status() []CellStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]CellStatus, len(g.slots))
	for i, s := range g.slots {
		c := s.cell
		st := CellStatus{
			ID:           c.ID,
			Empty:        c.IsEmpty(),
			StartTime:    c.StartTime,
			EndTime:      c.EndTime,
			Volume:       c.Volume,
			Transform:    c.Transform,
			AllowOverlap: c.AllowOverlap,
			HasAudio:     c.Audio != nil,
			Decoding:     s.decoding,
			Playing:      s.ctrl.Playing(),
			Active:       s.ctrl.Active(),
			Video:        s.ctrl.Video(),
			Duration:     c.Duration(),
		}
		if c.Media != nil {
			st.MIME = c.Media.MIME
		}
		if perr := s.saveErr.Load(); perr != nil {
			st.SaveError = perr.Error()
		}
		out[i] = st
	}
	return out
}
