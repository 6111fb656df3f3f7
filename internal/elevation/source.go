// Package elevation supplies DEMs to the pipeline, either from a single local
// file or mosaicked from tiles kept in a blob store.
package elevation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"watershed/internal/rasterio"
	"watershed/pkg/raster"
)

var (
	// ErrNoTiles is returned when no stored tile intersects the request.
	ErrNoTiles = errors.New("elevation: no tiles cover the requested bounds")
	// ErrMisaligned is returned when tiles do not share one grid lattice.
	ErrMisaligned = errors.New("elevation: tiles are not aligned")
	// ErrOutsideCoverage is returned when the request misses the DEM.
	ErrOutsideCoverage = errors.New("elevation: bounds outside DEM coverage")
)

// Request selects an area and a tile level. Zero Bounds means everything.
type Request struct {
	Bounds raster.Bounds
	Level  int
}

// Source fetches a DEM for a request.
type Source interface {
	Fetch(ctx context.Context, req Request) (*raster.Raster, error)
}

// FileSource reads one ESRI ASCII or WSR1 file and crops it to the request.
// Level is ignored.
type FileSource struct {
	Path string
}

// Fetch implements Source.
func (s FileSource) Fetch(ctx context.Context, req Request) (*raster.Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dem, _, err := rasterio.ReadRasterFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("elevation: read %s: %w", s.Path, err)
	}
	if req.Bounds == (raster.Bounds{}) {
		return dem, nil
	}
	return Crop(dem, req.Bounds)
}

// Crop returns the cells of r that intersect b. Cells are never split, so the
// result covers b up to whole cells.
func Crop(r *raster.Raster, b raster.Bounds) (*raster.Raster, error) {
	if b.Empty() {
		return nil, fmt.Errorf("elevation: empty bounds %+v", b)
	}
	g := r.Geometry()
	if !g.Bounds().Intersects(b) {
		return nil, fmt.Errorf("%w: %+v", ErrOutsideCoverage, b)
	}
	t := g.Transform
	c0 := clamp(int(math.Floor((b.MinX-t.OriginX)/t.CellWidth)), 0, g.Cols)
	c1 := clamp(int(math.Ceil((b.MaxX-t.OriginX)/t.CellWidth)), 0, g.Cols)
	r0 := clamp(int(math.Floor((t.OriginY-b.MaxY)/t.CellHeight)), 0, g.Rows)
	r1 := clamp(int(math.Ceil((t.OriginY-b.MinY)/t.CellHeight)), 0, g.Rows)
	out := raster.Geometry{Rows: r1 - r0, Cols: c1 - c0, Transform: raster.Transform{
		OriginX:    t.OriginX + float64(c0)*t.CellWidth,
		OriginY:    t.OriginY - float64(r0)*t.CellHeight,
		CellWidth:  t.CellWidth,
		CellHeight: t.CellHeight,
	}}
	if out.Rows == 0 || out.Cols == 0 {
		return nil, fmt.Errorf("%w: %+v", ErrOutsideCoverage, b)
	}
	vals := make([]float64, 0, out.Len())
	for row := r0; row < r1; row++ {
		for col := c0; col < c1; col++ {
			vals = append(vals, r.At(row, col))
		}
	}
	return raster.Adopt(out, vals, r.NoData()), nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
