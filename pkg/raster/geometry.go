// Package raster defines the grid model shared by every pipeline stage: a
// north-up geometry, immutable float rasters with a no-data sentinel, and
// boolean masks aligned to the same geometry.
package raster

import (
	"errors"
	"fmt"
	"math"
)

// Transform is a north-up affine transform. OriginX/OriginY locate the
// top-left corner of cell (0,0); rows grow southwards.
type Transform struct {
	OriginX    float64 `json:"origin_x" yaml:"origin_x"`
	OriginY    float64 `json:"origin_y" yaml:"origin_y"`
	CellWidth  float64 `json:"cell_width" yaml:"cell_width"`
	CellHeight float64 `json:"cell_height" yaml:"cell_height"`
}

// Geometry describes the shape and placement of a grid.
type Geometry struct {
	Rows      int       `json:"rows" yaml:"rows"`
	Cols      int       `json:"cols" yaml:"cols"`
	Transform Transform `json:"transform" yaml:"transform"`
}

// Bounds is an axis-aligned extent in map units.
type Bounds struct {
	MinX float64 `json:"min_x" yaml:"min_x"`
	MinY float64 `json:"min_y" yaml:"min_y"`
	MaxX float64 `json:"max_x" yaml:"max_x"`
	MaxY float64 `json:"max_y" yaml:"max_y"`
}

// Intersects reports whether b and o overlap with a positive area.
func (b Bounds) Intersects(o Bounds) bool {
	return b.MinX < o.MaxX && o.MinX < b.MaxX && b.MinY < o.MaxY && o.MinY < b.MaxY
}

// Empty reports whether the bounds enclose no area.
func (b Bounds) Empty() bool { return b.MaxX <= b.MinX || b.MaxY <= b.MinY }

// MaxCells bounds Rows*Cols so that a corrupt or hostile header cannot
// request an allocation the process cannot make.
const MaxCells = 1 << 28

// ErrTooLarge is returned for grids with more than MaxCells cells.
var ErrTooLarge = errors.New("raster: grid too large")

// NewGeometry returns a validated geometry with square cells of size cell.
func NewGeometry(rows, cols int, originX, originY, cell float64) (Geometry, error) {
	g := Geometry{Rows: rows, Cols: cols, Transform: Transform{OriginX: originX, OriginY: originY, CellWidth: cell, CellHeight: cell}}
	return g, g.Validate()
}

// Validate checks the geometry for a usable shape and transform.
func (g Geometry) Validate() error {
	var errs []error
	switch {
	case g.Rows <= 0 || g.Cols <= 0:
		errs = append(errs, fmt.Errorf("grid shape %dx%d must be positive", g.Rows, g.Cols))
	case g.Cols > MaxCells/g.Rows:
		errs = append(errs, fmt.Errorf("%w: %dx%d exceeds %d cells", ErrTooLarge, g.Rows, g.Cols, MaxCells))
	}
	t := g.Transform
	if !(t.CellWidth > 0) || !(t.CellHeight > 0) || math.IsInf(t.CellWidth, 0) || math.IsInf(t.CellHeight, 0) {
		errs = append(errs, fmt.Errorf("cell size %gx%g must be positive and finite", t.CellWidth, t.CellHeight))
	}
	if math.IsNaN(t.OriginX) || math.IsNaN(t.OriginY) || math.IsInf(t.OriginX, 0) || math.IsInf(t.OriginY, 0) {
		errs = append(errs, fmt.Errorf("grid origin (%g,%g) must be finite", t.OriginX, t.OriginY))
	}
	return errors.Join(errs...)
}

// Len is the number of cells.
func (g Geometry) Len() int { return g.Rows * g.Cols }

// Index converts (row, col) to a row-major cell index.
func (g Geometry) Index(r, c int) int { return r*g.Cols + c }

// RowCol converts a row-major cell index to (row, col).
func (g Geometry) RowCol(i int) (int, int) { return i / g.Cols, i % g.Cols }

// InBounds reports whether (r, c) lies within the grid.
func (g Geometry) InBounds(r, c int) bool { return r >= 0 && r < g.Rows && c >= 0 && c < g.Cols }

// IsBorder reports whether (r, c) lies on the outer ring of the grid.
func (g Geometry) IsBorder(r, c int) bool {
	return r == 0 || c == 0 || r == g.Rows-1 || c == g.Cols-1
}

// CellCenter returns the map coordinate of the centre of cell (r, c).
func (g Geometry) CellCenter(r, c int) (float64, float64) {
	t := g.Transform
	return t.OriginX + (float64(c)+.5)*t.CellWidth, t.OriginY - (float64(r)+.5)*t.CellHeight
}

// CellOf returns the cell containing (x, y). Points on the shared edge of
// two cells belong to the cell to the east/south.
func (g Geometry) CellOf(x, y float64) (int, int, bool) {
	t := g.Transform
	fc := (x - t.OriginX) / t.CellWidth
	fr := (t.OriginY - y) / t.CellHeight
	if math.IsNaN(fc) || math.IsNaN(fr) || fc < 0 || fr < 0 {
		return 0, 0, false
	}
	r, c := int(math.Floor(fr)), int(math.Floor(fc))
	if !g.InBounds(r, c) {
		return 0, 0, false
	}
	return r, c, true
}

// CellArea is the planimetric area of a single cell.
func (g Geometry) CellArea() float64 { return g.Transform.CellWidth * g.Transform.CellHeight }

// Bounds returns the full extent of the grid.
func (g Geometry) Bounds() Bounds {
	t := g.Transform
	return Bounds{
		MinX: t.OriginX,
		MaxX: t.OriginX + float64(g.Cols)*t.CellWidth,
		MaxY: t.OriginY,
		MinY: t.OriginY - float64(g.Rows)*t.CellHeight,
	}
}

// Equal reports whether two geometries describe the same grid.
func (g Geometry) Equal(o Geometry) bool { return g == o }

func (g Geometry) String() string {
	t := g.Transform
	return fmt.Sprintf("%dx%d@(%g,%g) cell %gx%g", g.Rows, g.Cols, t.OriginX, t.OriginY, t.CellWidth, t.CellHeight)
}

// ErrGeometryMismatch is returned when a stage receives grids that do not share geometry.
var ErrGeometryMismatch = errors.New("raster: grid geometry mismatch")

// GeometryMismatchError carries the two geometries that disagreed.
type GeometryMismatchError struct {
	Want Geometry
	Got  Geometry
}

func (e *GeometryMismatchError) Error() string {
	return fmt.Sprintf("%v: want %v, got %v", ErrGeometryMismatch, e.Want, e.Got)
}

func (e *GeometryMismatchError) Unwrap() error { return ErrGeometryMismatch }

// CheckGeometry returns a *GeometryMismatchError when want and got differ.
func CheckGeometry(want, got Geometry) error {
	if want.Equal(got) {
		return nil
	}
	return &GeometryMismatchError{Want: want, Got: got}
}
