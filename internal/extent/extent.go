// Package extent maps supply-curve gids onto windows of the exclusion raster.
//
// Cells are numbered row-major over a grid of ceil(rows/res) by
// ceil(cols/res) cells. Cells on the south and east edges are truncated to
// the raster.
package extent

import (
	"errors"
	"fmt"

	"github.com/agentic-research/scagg/internal/exclusion"
)

// DefaultResolution is the cell side length in pixels.
const DefaultResolution = 64

// ErrGIDOutOfRange is returned for a gid outside the extent.
var ErrGIDOutOfRange = errors.New("gid outside supply curve extent")

// Extent is the supply-curve grid at one resolution.
type Extent struct {
	shape      exclusion.Shape
	resolution int
	rows       int
	cols       int
}

// Window is the half-open pixel range covered by one cell.
type Window struct {
	RowStart, RowEnd int
	ColStart, ColEnd int
}

// New builds the extent of a raster of the given shape.
func New(shape exclusion.Shape, resolution int) (*Extent, error) {
	if resolution <= 0 {
		return nil, fmt.Errorf("resolution must be positive, got %d", resolution)
	}
	if shape.Rows <= 0 || shape.Cols <= 0 {
		return nil, fmt.Errorf("invalid raster shape %dx%d", shape.Rows, shape.Cols)
	}
	return &Extent{
		shape:      shape,
		resolution: resolution,
		rows:       ceilDiv(shape.Rows, resolution),
		cols:       ceilDiv(shape.Cols, resolution),
	}, nil
}

// Open builds the extent of the exclusion store at path.
func Open(exclusionPath string, resolution int) (*Extent, error) {
	meta, err := exclusion.ReadMeta(exclusionPath)
	if err != nil {
		return nil, err
	}
	return New(meta.Shape, resolution)
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// Len is the number of cells.
func (e *Extent) Len() int { return e.rows * e.cols }

// Rows is the number of cell rows.
func (e *Extent) Rows() int { return e.rows }

// Cols is the number of cell columns.
func (e *Extent) Cols() int { return e.cols }

// Resolution is the cell side length in pixels.
func (e *Extent) Resolution() int { return e.resolution }

// Shape is the underlying raster shape.
func (e *Extent) Shape() exclusion.Shape { return e.shape }

// RowCol returns the cell row and column of gid.
func (e *Extent) RowCol(gid int) (row, col int, err error) {
	if gid < 0 || gid >= e.Len() {
		return 0, 0, fmt.Errorf("%w: %d not in [0, %d)", ErrGIDOutOfRange, gid, e.Len())
	}
	return gid / e.cols, gid % e.cols, nil
}

// Window returns the raster pixels covered by gid.
func (e *Extent) Window(gid int) (Window, error) {
	row, col, err := e.RowCol(gid)
	if err != nil {
		return Window{}, err
	}
	return Window{
		RowStart: row * e.resolution,
		RowEnd:   min((row+1)*e.resolution, e.shape.Rows),
		ColStart: col * e.resolution,
		ColEnd:   min((col+1)*e.resolution, e.shape.Cols),
	}, nil
}

// GIDs enumerates every gid of the extent in ascending order.
func (e *Extent) GIDs() []int {
	out := make([]int, e.Len())
	for i := range out {
		out[i] = i
	}
	return out
}
