package hydro

import (
	"fmt"
	"math"

	"watershed/pkg/raster"
)

// ExtractStreams marks every cell whose accumulation reaches threshold. The
// threshold is a modelling choice of the caller; there is no default.
func ExtractStreams(acc *Accumulation, threshold int) (*raster.Mask, error) {
	if threshold < 1 {
		return nil, fmt.Errorf("%w: %d (must be at least 1 cell)", ErrInvalidThreshold, threshold)
	}
	cells := make([]bool, len(acc.counts))
	for i, v := range acc.counts {
		cells[i] = v >= threshold
	}
	return raster.AdoptMask(acc.geom, cells), nil
}

// ThresholdFromArea converts a stream-initiation contributing area in km²
// into a cell-count threshold for a grid with the given cell area in m².
func ThresholdFromArea(areaKm2, cellArea float64) (int, error) {
	if !(areaKm2 > 0) || !(cellArea > 0) {
		return 0, fmt.Errorf("%w: area %g km² over cells of %g m²", ErrInvalidThreshold, areaKm2, cellArea)
	}
	n := int(math.Ceil(areaKm2 * 1e6 / cellArea))
	return max(n, 1), nil
}
