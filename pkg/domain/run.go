// Package domain holds the records a watershed run leaves behind and the
// persistence contract for them. It is independent of the grid algorithms so
// that stores and exporters can depend on it without pulling in hydrology.
package domain

import (
	"errors"
	"time"
)

// RunStatus summarises how a run ended.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded" // every pour point delineated
	RunPartial   RunStatus = "partial"   // at least one pour point failed
	RunFailed    RunStatus = "failed"    // conditioning or routing failed, or every point failed
)

// ErrRunNotFound is returned by stores for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// RunParams records the modelling choices a run was made with.
type RunParams struct {
	StreamThreshold   int     `json:"stream_threshold"`
	SnapDistance      float64 `json:"snap_distance"`
	BreachDistance    int     `json:"breach_distance"`
	MaxFillIterations int     `json:"max_fill_iterations"`
	MinTanSlope       float64 `json:"min_tan_slope"`
}

// GridInfo describes the DEM a run worked on.
type GridInfo struct {
	Rows       int     `json:"rows"`
	Cols       int     `json:"cols"`
	OriginX    float64 `json:"origin_x"`
	OriginY    float64 `json:"origin_y"`
	CellWidth  float64 `json:"cell_width"`
	CellHeight float64 `json:"cell_height"`
	ValidCells int     `json:"valid_cells"`
}

// Conditioning records what depression resolution changed.
type Conditioning struct {
	Pits     int `json:"pits"`
	Breached int `json:"breached"`
	Carved   int `json:"carved"`
	Raised   int `json:"raised"`
	Passes   int `json:"passes"`
}

// WatershedRecord is the outcome for one pour point. Error is set when the
// point could not be delineated; the numeric fields are then zero.
type WatershedRecord struct {
	Label        string  `json:"label"`
	CRS          string  `json:"crs,omitempty"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	SnappedX     float64 `json:"snapped_x"`
	SnappedY     float64 `json:"snapped_y"`
	Row          int     `json:"row"`
	Col          int     `json:"col"`
	SnapDistance float64 `json:"snap_distance"`
	Accumulation int     `json:"accumulation"`
	Cells        int     `json:"cells"`
	AreaM2       float64 `json:"area_m2"`
	MeanTWI      float64 `json:"mean_twi"`
	StdDevTWI    float64 `json:"stddev_twi"`
	MinTWI       float64 `json:"min_twi"`
	MaxTWI       float64 `json:"max_twi"`
	MeanSlope    float64 `json:"mean_slope_deg"`
	Error        string  `json:"error,omitempty"`
}

// Failed reports whether the pour point could not be processed.
func (w WatershedRecord) Failed() bool { return w.Error != "" }

// Run is the persisted record of one pipeline execution.
type Run struct {
	ID           string            `json:"id"`
	DEMSource    string            `json:"dem_source"`
	Grid         GridInfo          `json:"grid"`
	Params       RunParams         `json:"params"`
	Conditioning Conditioning      `json:"conditioning"`
	StreamCells  int               `json:"stream_cells"`
	Watersheds   []WatershedRecord `json:"watersheds"`
	Status       RunStatus         `json:"status"`
	Error        string            `json:"error,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
}

// Duration is the wall time of the run.
func (r Run) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Watershed returns the record for label.
func (r Run) Watershed(label string) (WatershedRecord, bool) {
	for _, w := range r.Watersheds {
		if w.Label == label {
			return w, true
		}
	}
	return WatershedRecord{}, false
}

// Clone returns a deep copy so stores never share slices with callers.
func (r Run) Clone() Run {
	cp := r
	if r.Watersheds != nil {
		cp.Watersheds = make([]WatershedRecord, len(r.Watersheds))
		copy(cp.Watersheds, r.Watersheds)
	}
	return cp
}
