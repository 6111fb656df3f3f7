package core

import (
	"errors"
	"fmt"
	"math"

	"watershed/internal/hydro"
	"watershed/pkg/domain"
)

// Params are the modelling choices of one pipeline run.
type Params struct {
	// StreamThreshold is the upstream cell count at which a channel starts.
	// There is no default; it depends on the study area.
	StreamThreshold int
	// SnapDistance is the pour point search radius in map units.
	SnapDistance float64
	// BreachDistance is the breach search radius in cells; zero fills only.
	BreachDistance int
	// MaxFillIterations caps verified fill passes; zero uses the hydro default.
	MaxFillIterations int
	// MinTanSlope floors tan(slope) in the wetness index; zero uses the hydro default.
	MinTanSlope float64
	// Workers bounds per-stage parallelism; zero uses GOMAXPROCS.
	Workers int
	// FailFast stops the run at the first pour point failure.
	FailFast bool
}

// Validate reports every invalid parameter at once.
func (p Params) Validate() error {
	var errs []error
	if p.StreamThreshold < 1 {
		errs = append(errs, fmt.Errorf("%w: stream threshold %d", hydro.ErrInvalidThreshold, p.StreamThreshold))
	}
	if p.SnapDistance < 0 || math.IsNaN(p.SnapDistance) || math.IsInf(p.SnapDistance, 0) {
		errs = append(errs, fmt.Errorf("snap distance %g must be finite and non-negative", p.SnapDistance))
	}
	if p.BreachDistance < 0 {
		errs = append(errs, fmt.Errorf("breach distance %d must be non-negative", p.BreachDistance))
	}
	if p.MaxFillIterations < 0 {
		errs = append(errs, fmt.Errorf("max fill iterations %d must be non-negative", p.MaxFillIterations))
	}
	if p.MinTanSlope < 0 || math.IsNaN(p.MinTanSlope) {
		errs = append(errs, fmt.Errorf("min tan slope %g must be non-negative", p.MinTanSlope))
	}
	if p.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers %d must be non-negative", p.Workers))
	}
	return errors.Join(errs...)
}

func (p Params) record() domain.RunParams {
	rp := domain.RunParams{
		StreamThreshold:   p.StreamThreshold,
		SnapDistance:      p.SnapDistance,
		BreachDistance:    p.BreachDistance,
		MaxFillIterations: p.MaxFillIterations,
		MinTanSlope:       p.MinTanSlope,
	}
	if rp.MaxFillIterations == 0 {
		rp.MaxFillIterations = hydro.DefaultMaxFillIterations
	}
	if rp.MinTanSlope == 0 {
		rp.MinTanSlope = hydro.DefaultMinTanSlope
	}
	return rp
}
