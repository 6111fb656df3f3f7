package elevation

import (
	"fmt"
	"math"

	"watershed/pkg/raster"
)

// alignTolerance is the fraction of a cell by which tile edges may deviate
// from the shared lattice.
const alignTolerance = 1e-6

// Mosaic merges tiles onto the smallest grid covering all of them. Tiles
// must share cell size and lattice. Where tiles overlap the first valid
// sample wins; cells no tile covers are no-data. The output keeps the
// tiles' no-data value when they all agree and uses NaN otherwise, so a
// valid sample of one tile never reads as another tile's marker.
func Mosaic(tiles []*raster.Raster) (*raster.Raster, error) {
	if len(tiles) == 0 {
		return nil, ErrNoTiles
	}
	ref := tiles[0].Geometry().Transform
	ext := tiles[0].Geometry().Bounds()
	for i, tile := range tiles[1:] {
		t := tile.Geometry().Transform
		if !near(t.CellWidth, ref.CellWidth) || !near(t.CellHeight, ref.CellHeight) {
			return nil, fmt.Errorf("%w: tile %d cell %gx%g, want %gx%g", ErrMisaligned, i+1, t.CellWidth, t.CellHeight, ref.CellWidth, ref.CellHeight)
		}
		if !onLattice(t.OriginX-ref.OriginX, ref.CellWidth) || !onLattice(ref.OriginY-t.OriginY, ref.CellHeight) {
			return nil, fmt.Errorf("%w: tile %d origin (%g,%g)", ErrMisaligned, i+1, t.OriginX, t.OriginY)
		}
		b := tile.Geometry().Bounds()
		ext.MinX, ext.MinY = math.Min(ext.MinX, b.MinX), math.Min(ext.MinY, b.MinY)
		ext.MaxX, ext.MaxY = math.Max(ext.MaxX, b.MaxX), math.Max(ext.MaxY, b.MaxY)
	}

	g := raster.Geometry{
		Rows: int(math.Round((ext.MaxY - ext.MinY) / ref.CellHeight)),
		Cols: int(math.Round((ext.MaxX - ext.MinX) / ref.CellWidth)),
		Transform: raster.Transform{
			OriginX:    ext.MinX,
			OriginY:    ext.MaxY,
			CellWidth:  ref.CellWidth,
			CellHeight: ref.CellHeight,
		},
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	nodata := sharedNoData(tiles)
	vals := make([]float64, g.Len())
	filled := make([]bool, g.Len())
	for i := range vals {
		vals[i] = nodata
	}
	for _, tile := range tiles {
		tg := tile.Geometry()
		offC := int(math.Round((tg.Transform.OriginX - g.Transform.OriginX) / g.Transform.CellWidth))
		offR := int(math.Round((g.Transform.OriginY - tg.Transform.OriginY) / g.Transform.CellHeight))
		for row := 0; row < tg.Rows; row++ {
			for col := 0; col < tg.Cols; col++ {
				i := g.Index(row+offR, col+offC)
				if filled[i] || !tile.Valid(row, col) {
					continue
				}
				vals[i] = tile.At(row, col)
				filled[i] = true
			}
		}
	}
	return raster.Adopt(g, vals, nodata), nil
}

func sharedNoData(tiles []*raster.Raster) float64 {
	nd := tiles[0].NoData()
	for _, tile := range tiles[1:] {
		v := tile.NoData()
		if v != nd && !(math.IsNaN(v) && math.IsNaN(nd)) {
			return math.NaN()
		}
	}
	return nd
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= alignTolerance*math.Max(math.Abs(a), math.Abs(b))
}

func onLattice(offset, cell float64) bool {
	k := offset / cell
	return math.Abs(k-math.Round(k)) <= alignTolerance
}
