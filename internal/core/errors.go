package core

import (
	"errors"
	"fmt"
)

// Pipeline stages named in PointError and in metrics.
const (
	StageCondition = "condition"
	StageRoute     = "route"
	StageStreams   = "extract_streams"
	StageSlope     = "slope"
	StageWetness   = "wetness_index"
	StageSnap      = "snap"
	StageDelineate = "delineate"
	StageZonal     = "zonal"
	StageSave      = "save_run"
)

// ErrNoPourPoints is returned when a run is started without pour points.
var ErrNoPourPoints = errors.New("core: no pour points")

// ErrAllPointsFailed is returned when no pour point could be delineated.
var ErrAllPointsFailed = errors.New("core: every pour point failed")

// ErrCRSMismatch is returned for a pour point whose CRS differs from the DEM's.
var ErrCRSMismatch = errors.New("core: pour point CRS does not match DEM")

// PointError attributes a failure to one pour point and the stage it hit.
type PointError struct {
	Label string
	Stage string
	Err   error
}

func (e *PointError) Error() string {
	return fmt.Sprintf("pour point %q: %s: %v", e.Label, e.Stage, e.Err)
}

func (e *PointError) Unwrap() error { return e.Err }
