package hydro

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"watershed/pkg/raster"
)

// FlowDirections holds one D8 code per cell.
type FlowDirections struct {
	geom  raster.Geometry
	codes []Direction
	valid []bool
}

// Geometry returns the grid geometry.
func (f *FlowDirections) Geometry() raster.Geometry { return f.geom }

// Code returns the direction of cell (r, c).
func (f *FlowDirections) Code(r, c int) Direction { return f.codes[f.geom.Index(r, c)] }

// Valid reports whether (r, c) is in bounds and carried an elevation.
func (f *FlowDirections) Valid(r, c int) bool {
	return f.geom.InBounds(r, c) && f.valid[f.geom.Index(r, c)]
}

// Downstream returns the cell that (r, c) drains to. ok is false for
// outlets and no-data cells.
func (f *FlowDirections) Downstream(r, c int) (int, int, bool) {
	dr, dc, ok := f.Code(r, c).Offset()
	if !ok {
		return 0, 0, false
	}
	return r + dr, c + dc, true
}

// downstreamIndex is Downstream on row-major indices; -1 when undefined.
func (f *FlowDirections) downstreamIndex(i int) int {
	dr, dc, ok := f.codes[i].Offset()
	if !ok {
		return -1
	}
	r, c := f.geom.RowCol(i)
	return f.geom.Index(r+dr, c+dc)
}

// Outlets returns the valid cells with no flow direction, ascending.
func (f *FlowDirections) Outlets() []int {
	var out []int
	for i, d := range f.codes {
		if f.valid[i] && d == NoFlow {
			out = append(out, i)
		}
	}
	return out
}

// Accumulation counts, per cell, the valid cells draining through it
// including itself. No-data cells count zero.
type Accumulation struct {
	geom   raster.Geometry
	counts []int
}

// Geometry returns the grid geometry.
func (a *Accumulation) Geometry() raster.Geometry { return a.geom }

// At returns the count for (r, c).
func (a *Accumulation) At(r, c int) int { return a.counts[a.geom.Index(r, c)] }

// AtIndex returns the count at a row-major index.
func (a *Accumulation) AtIndex(i int) int { return a.counts[i] }

// Max returns the largest count and its cell index.
func (a *Accumulation) Max() (int, int) {
	best, at := 0, -1
	for i, v := range a.counts {
		if v > best {
			best, at = v, i
		}
	}
	return best, at
}

// Raster converts the counts to a float raster with no-data where the count is zero.
func (a *Accumulation) Raster(nodata float64) *raster.Raster {
	vals := make([]float64, len(a.counts))
	for i, v := range a.counts {
		if v == 0 {
			vals[i] = nodata
			continue
		}
		vals[i] = float64(v)
	}
	return raster.Adopt(a.geom, vals, nodata)
}

// RouteOptions controls D8 routing.
type RouteOptions struct {
	// Workers bounds the goroutines computing directions; zero uses GOMAXPROCS.
	Workers int
	// AllowSinks leaves interior sinks undefined instead of failing.
	AllowSinks bool
}

// Route assigns every valid cell the D8 direction of steepest descent and
// accumulates upstream cell counts. dem is expected to be conditioned.
func Route(ctx context.Context, dem *raster.Raster, opts RouteOptions) (*FlowDirections, *Accumulation, error) {
	dir, err := Directions(ctx, dem, opts)
	if err != nil {
		return nil, nil, err
	}
	acc, err := Accumulate(dir, dem)
	if err != nil {
		return nil, nil, err
	}
	return dir, acc, nil
}

// Directions computes D8 codes. Cells without a strictly lower neighbour get
// NoFlow; unless opts.AllowSinks, such a cell away from the data edge is an
// error since it should have been removed by Resolve.
func Directions(ctx context.Context, dem *raster.Raster, opts RouteOptions) (*FlowDirections, error) {
	g := dem.Geometry()
	cw, ch := g.Transform.CellWidth, g.Transform.CellHeight
	f := &FlowDirections{geom: g, codes: make([]Direction, g.Len()), valid: make([]bool, g.Len())}
	for i := range f.valid {
		f.valid[i] = dem.ValidIndex(i)
	}
	err := forEachBand(ctx, g.Rows, opts.Workers, func(r0, r1 int) error {
		for r := r0; r < r1; r++ {
			for c := 0; c < g.Cols; c++ {
				i := g.Index(r, c)
				if !f.valid[i] {
					continue
				}
				z := dem.AtIndex(i)
				best, bestSlope := NoFlow, 0.0
				for _, n := range neighbours {
					rr, cc := r+n.dr, c+n.dc
					if !g.InBounds(rr, cc) {
						continue
					}
					j := g.Index(rr, cc)
					if !f.valid[j] {
						continue
					}
					s := (z - dem.AtIndex(j)) / stepLength(n.dr, n.dc, cw, ch)
					if s > bestSlope {
						best, bestSlope = n.dir, s
					}
				}
				f.codes[i] = best
				if best == NoFlow && !opts.AllowSinks && !isDataEdge(g, f.valid, i) {
					return &CellError{Err: ErrUndefinedFlowDirection, Row: r, Col: c, Detail: "interior sink; condition the DEM first"}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Accumulate walks cells from highest to lowest elevation, each passing its
// count to its downstream neighbour. Because every direction descends, this
// order is topological and one pass suffices.
func Accumulate(dir *FlowDirections, dem *raster.Raster) (*Accumulation, error) {
	g := dir.Geometry()
	if err := raster.CheckGeometry(g, dem.Geometry()); err != nil {
		return nil, err
	}
	order := make([]int, 0, g.Len())
	counts := make([]int, g.Len())
	for i := range counts {
		if dir.valid[i] {
			counts[i] = 1
			order = append(order, i)
		}
	}
	slices.SortFunc(order, func(a, b int) int {
		if v := cmp.Compare(dem.AtIndex(b), dem.AtIndex(a)); v != 0 {
			return v
		}
		return cmp.Compare(a, b)
	})
	for _, i := range order {
		j := dir.downstreamIndex(i)
		if j < 0 {
			continue
		}
		if !(dem.AtIndex(j) < dem.AtIndex(i)) {
			r, c := g.RowCol(i)
			return nil, &CellError{Err: ErrUndefinedFlowDirection, Row: r, Col: c, Detail: fmt.Sprintf("direction %v does not descend", dir.codes[i])}
		}
		counts[j] += counts[i]
	}
	return &Accumulation{geom: g, counts: counts}, nil
}
