package hydro

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"watershed/pkg/raster"
)

// Delineate returns the cells draining to the cell containing point.
func Delineate(dir *FlowDirections, point PourPoint) (*raster.Mask, error) {
	r, c, ok := dir.Geometry().CellOf(point.X, point.Y)
	if !ok {
		return nil, fmt.Errorf("%w: %q at (%g,%g)", ErrPointOutsideGrid, point.Label, point.X, point.Y)
	}
	return DelineateCell(dir, r, c)
}

// DelineateCell walks the upstream graph breadth first from (row, col). A
// neighbour is upstream when its direction points at the current cell. The
// walk uses an explicit queue so catchment size is bounded by memory only.
func DelineateCell(dir *FlowDirections, row, col int) (*raster.Mask, error) {
	g := dir.Geometry()
	if !g.InBounds(row, col) {
		return nil, fmt.Errorf("%w: cell (%d,%d)", ErrPointOutsideGrid, row, col)
	}
	start := g.Index(row, col)
	if !dir.valid[start] {
		return nil, &CellError{Err: ErrNoDataCell, Row: row, Col: col}
	}
	in := make([]bool, g.Len())
	in[start] = true
	queue := []int{start}
	for head := 0; head < len(queue); head++ {
		i := queue[head]
		r, c := g.RowCol(i)
		for _, n := range neighbours {
			rr, cc := r+n.dr, c+n.dc
			if !g.InBounds(rr, cc) {
				continue
			}
			j := g.Index(rr, cc)
			// the neighbour drains back towards us along the reverse offset
			if in[j] || dir.codes[j] != n.dir.Reverse() {
				continue
			}
			in[j] = true
			queue = append(queue, j)
		}
	}
	return raster.AdoptMask(g, in), nil
}

// Delineation is the outcome for one pour point of DelineateAll.
type Delineation struct {
	Point PourPoint
	Mask  *raster.Mask
	Err   error
}

// DelineateAll delineates every point concurrently, at most workers at a
// time. Results keep the order of points; per-point failures are reported in
// Delineation.Err and do not stop the others. The returned error is only the
// context's.
func DelineateAll(ctx context.Context, dir *FlowDirections, points []PourPoint, workers int) ([]Delineation, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([]Delineation, len(points))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range points {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, err := Delineate(dir, p)
			out[i] = Delineation{Point: p, Mask: m, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
