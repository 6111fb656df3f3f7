package hydro

import (
	"context"
	"fmt"
	"math"

	"watershed/pkg/raster"
)

// DefaultMinTanSlope is the floor applied to tan(slope) in the wetness index
// so flat cells stay finite.
const DefaultMinTanSlope = 0.0001

// DerivedNoData marks cells without a value in rasters computed from the
// DEM. It never collides with a slope or wetness value, whatever the DEM
// itself used as its no-data marker.
var DerivedNoData = math.NaN()

// Slope returns the Horn finite-difference gradient of dem in degrees.
// Neighbours off the grid or without data take the centre value. Cells
// without data are DerivedNoData in the result.
func Slope(ctx context.Context, dem *raster.Raster, workers int) (*raster.Raster, error) {
	g := dem.Geometry()
	cw, ch := g.Transform.CellWidth, g.Transform.CellHeight
	nodata := DerivedNoData
	out := make([]float64, g.Len())
	err := forEachBand(ctx, g.Rows, workers, func(r0, r1 int) error {
		for r := r0; r < r1; r++ {
			for c := 0; c < g.Cols; c++ {
				i := g.Index(r, c)
				if !dem.ValidIndex(i) {
					out[i] = nodata
					continue
				}
				z0 := dem.AtIndex(i)
				z := func(dr, dc int) float64 {
					rr, cc := r+dr, c+dc
					if !g.InBounds(rr, cc) || !dem.Valid(rr, cc) {
						return z0
					}
					return dem.At(rr, cc)
				}
				a, b, cc := z(-1, -1), z(-1, 0), z(-1, 1)
				d, f := z(0, -1), z(0, 1)
				gg, h, k := z(1, -1), z(1, 0), z(1, 1)
				dzdx := ((cc + 2*f + k) - (a + 2*d + gg)) / (8 * cw)
				dzdy := ((gg + 2*h + k) - (a + 2*b + cc)) / (8 * ch)
				out[i] = math.Atan(math.Hypot(dzdx, dzdy)) * 180 / math.Pi
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raster.Adopt(g, out, nodata), nil
}

// WetnessOptions tunes WetnessIndex.
type WetnessOptions struct {
	// MinTanSlope clamps tan(slope) from below; zero selects DefaultMinTanSlope.
	MinTanSlope float64
	Workers     int
}

// WetnessIndex computes ln(sca / tan(slope)) per cell where the specific
// catchment area sca is the upstream area divided by the cell width taken as
// contour length. slope is in degrees, as returned by Slope. Cells without
// accumulation or slope are DerivedNoData.
func WetnessIndex(ctx context.Context, acc *Accumulation, slope *raster.Raster, opts WetnessOptions) (*raster.Raster, error) {
	g := acc.Geometry()
	if err := raster.CheckGeometry(g, slope.Geometry()); err != nil {
		return nil, err
	}
	eps := opts.MinTanSlope
	if eps == 0 {
		eps = DefaultMinTanSlope
	}
	if !(eps > 0) {
		return nil, fmt.Errorf("hydro: tan slope floor must be positive, got %g", eps)
	}
	contour := g.Transform.CellWidth
	cellArea := g.CellArea()
	nodata := DerivedNoData
	out := make([]float64, g.Len())
	err := forEachBand(ctx, g.Rows, opts.Workers, func(r0, r1 int) error {
		for i := g.Index(r0, 0); i < g.Index(r1, 0); i++ {
			n := acc.counts[i]
			if n == 0 || !slope.ValidIndex(i) {
				out[i] = nodata
				continue
			}
			sca := float64(n) * cellArea / contour
			tan := math.Max(math.Tan(slope.AtIndex(i)*math.Pi/180), eps)
			out[i] = math.Log(sca / tan)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raster.Adopt(g, out, nodata), nil
}
