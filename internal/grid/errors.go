package grid

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSuchCell is returned for ids outside 1..Size.
	ErrNoSuchCell = errors.New("no such cell")
	// ErrEmptyCell is returned by edits that need an occupied cell.
	ErrEmptyCell = errors.New("cell is empty")
)

// PersistenceError reports a failed store operation for one cell. The
// in-memory grid is left as it was before the operation, except for
// volume and overlap edits, which stay applied.
type PersistenceError struct {
	CellID int
	Op     string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("pad %d: %s not saved: %v", e.CellID, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
