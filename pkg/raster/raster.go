package raster

import (
	"fmt"
	"math"
)

// Raster is an immutable grid of float64 samples. A cell is no-data when it
// equals the no-data value or is NaN.
type Raster struct {
	geom   Geometry
	data   []float64
	nodata float64
}

// New builds a raster from a copy of values (row-major, len Rows*Cols).
func New(g Geometry, values []float64, nodata float64) (*Raster, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if len(values) != g.Len() {
		return nil, fmt.Errorf("raster: %d values for %dx%d grid", len(values), g.Rows, g.Cols)
	}
	cp := make([]float64, len(values))
	copy(cp, values)
	return &Raster{geom: g, data: cp, nodata: nodata}, nil
}

// Filled returns a raster with every cell set to v.
func Filled(g Geometry, v, nodata float64) (*Raster, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	data := make([]float64, g.Len())
	for i := range data {
		data[i] = v
	}
	return &Raster{geom: g, data: data, nodata: nodata}, nil
}

// Adopt wraps values without copying. The caller must not retain or mutate
// values afterwards; stages use it to hand over freshly built output slices.
func Adopt(g Geometry, values []float64, nodata float64) *Raster {
	if len(values) != g.Len() {
		panic(fmt.Sprintf("raster: adopt %d values for %dx%d grid", len(values), g.Rows, g.Cols))
	}
	return &Raster{geom: g, data: values, nodata: nodata}
}

// Geometry returns the grid geometry.
func (r *Raster) Geometry() Geometry { return r.geom }

// NoData returns the no-data sentinel.
func (r *Raster) NoData() float64 { return r.nodata }

// At returns the raw value of cell (row, col).
func (r *Raster) At(row, col int) float64 { return r.data[r.geom.Index(row, col)] }

// AtIndex returns the raw value at a row-major index.
func (r *Raster) AtIndex(i int) float64 { return r.data[i] }

// Valid reports whether (row, col) is in bounds and holds a sample.
func (r *Raster) Valid(row, col int) bool {
	return r.geom.InBounds(row, col) && r.ValidIndex(r.geom.Index(row, col))
}

// ValidIndex reports whether the cell at i holds a sample.
func (r *Raster) ValidIndex(i int) bool { return !r.IsNoData(r.data[i]) }

// IsNoData reports whether v is the raster's no-data marker.
func (r *Raster) IsNoData(v float64) bool {
	return math.IsNaN(v) || v == r.nodata
}

// Values returns a copy of the cell values.
func (r *Raster) Values() []float64 {
	cp := make([]float64, len(r.data))
	copy(cp, r.data)
	return cp
}

// ValidCount is the number of cells that hold a sample.
func (r *Raster) ValidCount() int {
	n := 0
	for i := range r.data {
		if r.ValidIndex(i) {
			n++
		}
	}
	return n
}

// Range returns the minimum and maximum valid values. ok is false when the
// raster holds no valid cell.
func (r *Raster) Range() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for i, v := range r.data {
		if !r.ValidIndex(i) {
			continue
		}
		ok = true
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi, ok
}

// WithValues returns a new raster on the same geometry and no-data value.
func (r *Raster) WithValues(values []float64) (*Raster, error) {
	return New(r.geom, values, r.nodata)
}
