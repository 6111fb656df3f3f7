package hydro

import (
	"fmt"
	"math"

	"watershed/pkg/raster"
)

// MaxSnapRings is the hard cap on the ring search, whatever the radius.
const MaxSnapRings = 4096

// PourPoint is a caller-supplied outlet location.
type PourPoint struct {
	Label string  `json:"label" yaml:"label"`
	X     float64 `json:"x" yaml:"x"`
	Y     float64 `json:"y" yaml:"y"`
	CRS   string  `json:"crs,omitempty" yaml:"crs,omitempty"`
}

// SnappedPoint is a pour point moved onto the stream network.
type SnappedPoint struct {
	Original     PourPoint `json:"original"`
	Point        PourPoint `json:"point"`
	Row          int       `json:"row"`
	Col          int       `json:"col"`
	Distance     float64   `json:"distance"`
	Accumulation int       `json:"accumulation"`
}

// Snap moves point to the nearest stream cell within maxDist map units. A
// point already inside a stream cell is returned unchanged. Otherwise rings of
// cells around the containing cell are searched outwards; the nearest cell
// centre wins, ties going to the higher accumulation and then the lower cell
// index.
func Snap(point PourPoint, streams *raster.Mask, acc *Accumulation, maxDist float64) (SnappedPoint, error) {
	g := streams.Geometry()
	if err := raster.CheckGeometry(g, acc.Geometry()); err != nil {
		return SnappedPoint{}, err
	}
	if maxDist < 0 || math.IsNaN(maxDist) {
		return SnappedPoint{}, fmt.Errorf("hydro: invalid snap distance %g", maxDist)
	}
	r0, c0, ok := g.CellOf(point.X, point.Y)
	if !ok {
		return SnappedPoint{}, fmt.Errorf("%w: %q at (%g,%g)", ErrPointOutsideGrid, point.Label, point.X, point.Y)
	}
	if streams.At(r0, c0) {
		return SnappedPoint{Original: point, Point: point, Row: r0, Col: c0, Accumulation: acc.At(r0, c0)}, nil
	}

	step := math.Min(g.Transform.CellWidth, g.Transform.CellHeight)
	rings := int(math.Ceil(maxDist / step))
	rings = min(rings, MaxSnapRings, max(g.Rows, g.Cols))

	best, bestD, bestAcc := -1, math.Inf(1), 0
	consider := func(r, c int) {
		if !streams.At(r, c) {
			return
		}
		x, y := g.CellCenter(r, c)
		d := math.Hypot(x-point.X, y-point.Y)
		if d > maxDist {
			return
		}
		i, a := g.Index(r, c), acc.At(r, c)
		if d < bestD || (d == bestD && (a > bestAcc || (a == bestAcc && i < best))) {
			best, bestD, bestAcc = i, d, a
		}
	}
	for k := 1; k <= rings; k++ {
		// no centre on ring k is closer than (k-0.5) cells
		if best >= 0 && (float64(k)-.5)*step > bestD {
			break
		}
		for c := c0 - k; c <= c0+k; c++ {
			consider(r0-k, c)
			consider(r0+k, c)
		}
		for r := r0 - k + 1; r <= r0+k-1; r++ {
			consider(r, c0-k)
			consider(r, c0+k)
		}
	}
	if best < 0 {
		return SnappedPoint{}, &SnapError{Label: point.Label, X: point.X, Y: point.Y, Row: r0, Col: c0, Radius: maxDist}
	}
	r, c := g.RowCol(best)
	x, y := g.CellCenter(r, c)
	moved := point
	moved.X, moved.Y = x, y
	return SnappedPoint{Original: point, Point: moved, Row: r, Col: c, Distance: bestD, Accumulation: bestAcc}, nil
}
