package hydro

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolvableDepression is returned when conditioning exceeds its pass cap.
	ErrUnresolvableDepression = errors.New("hydro: unresolvable depression")
	// ErrUndefinedFlowDirection is returned when an interior sink reaches routing.
	ErrUndefinedFlowDirection = errors.New("hydro: undefined flow direction")
	// ErrNoStreamWithinRadius is returned when snapping finds no stream cell.
	ErrNoStreamWithinRadius = errors.New("hydro: no stream within radius")
	// ErrEmptyZone is returned when a zonal aggregate selects no valid cell.
	ErrEmptyZone = errors.New("hydro: empty zone")
	// ErrPointOutsideGrid is returned when a coordinate falls outside the grid.
	ErrPointOutsideGrid = errors.New("hydro: point outside grid")
	// ErrNoDataCell is returned when a pour point sits on a no-data cell.
	ErrNoDataCell = errors.New("hydro: pour point on no-data cell")
	// ErrInvalidThreshold is returned for stream thresholds below one cell.
	ErrInvalidThreshold = errors.New("hydro: invalid stream threshold")
)

// CellError ties a failure to the grid cell that caused it.
type CellError struct {
	Err    error
	Row    int
	Col    int
	Detail string
}

func (e *CellError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v at cell (%d,%d)", e.Err, e.Row, e.Col)
	}
	return fmt.Sprintf("%v at cell (%d,%d): %s", e.Err, e.Row, e.Col, e.Detail)
}

func (e *CellError) Unwrap() error { return e.Err }

// SnapError reports a failed pour-point snap with enough context to retry
// with a larger radius.
type SnapError struct {
	Label  string
	X, Y   float64
	Row    int
	Col    int
	Radius float64
}

func (e *SnapError) Error() string {
	return fmt.Sprintf("%v: point %q (%g,%g) cell (%d,%d) radius %g", ErrNoStreamWithinRadius, e.Label, e.X, e.Y, e.Row, e.Col, e.Radius)
}

func (e *SnapError) Unwrap() error { return ErrNoStreamWithinRadius }
