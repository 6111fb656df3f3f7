package hydro

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"watershed/pkg/raster"
)

// ZonalStats summarises an index over the valid cells of a zone.
type ZonalStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// ZonalMean averages index over the cells selected by mask that carry data.
func ZonalMean(index *raster.Raster, mask *raster.Mask) (float64, error) {
	vals, err := zoneValues(index, mask)
	if err != nil {
		return 0, err
	}
	return stat.Mean(vals, nil), nil
}

// ZonalSummary is ZonalMean with spread and extremes. StdDev is zero for a
// single-cell zone.
func ZonalSummary(index *raster.Raster, mask *raster.Mask) (ZonalStats, error) {
	vals, err := zoneValues(index, mask)
	if err != nil {
		return ZonalStats{}, err
	}
	s := ZonalStats{Count: len(vals), Min: floats.Min(vals), Max: floats.Max(vals)}
	if len(vals) == 1 {
		s.Mean = vals[0]
		return s, nil
	}
	s.Mean, s.StdDev = stat.MeanStdDev(vals, nil)
	return s, nil
}

// Area returns the planimetric area covered by mask in map units squared.
func Area(mask *raster.Mask) float64 {
	return float64(mask.Count()) * mask.Geometry().CellArea()
}

func zoneValues(index *raster.Raster, mask *raster.Mask) ([]float64, error) {
	if err := raster.CheckGeometry(index.Geometry(), mask.Geometry()); err != nil {
		return nil, err
	}
	var vals []float64
	for _, i := range mask.Cells() {
		if index.ValidIndex(i) {
			vals = append(vals, index.AtIndex(i))
		}
	}
	if len(vals) == 0 {
		return nil, ErrEmptyZone
	}
	return vals, nil
}
