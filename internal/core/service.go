// Package core runs the watershed pipeline: it sequences the hydrology
// stages, applies the run parameters, attributes failures to pour points and
// records each run, with every stage traced, timed and logged.
package core

import (
	"context"
	"errors"
	"fmt"

	"watershed/internal/hydro"
	"watershed/pkg/domain"
	"watershed/pkg/raster"
)

// Service exposes the pipeline. It holds no grid state between calls.
type Service struct {
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	runs    domain.RunStore
	newID   func() string
}

// NewService constructs a service with the supplied options applied.
func NewService(opts ...Option) *Service {
	s := defaultService()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunStore returns the configured run store, nil when runs are not persisted.
func (s *Service) RunStore() domain.RunStore { return s.runs }

// Surface is a DEM carried through conditioning, routing, stream extraction
// and the terrain indices. Every raster shares the DEM geometry.
type Surface struct {
	DEM          *raster.Raster
	Conditioned  *raster.Raster
	Conditioning hydro.ResolveStats
	Directions   *hydro.FlowDirections
	Accumulation *hydro.Accumulation
	Streams      *raster.Mask
	Slope        *raster.Raster
	Wetness      *raster.Raster
}

// Watershed is the outcome for one pour point. Err is a *PointError when the
// point failed; the other fields past Point are then unset.
type Watershed struct {
	Point     hydro.PourPoint
	Snapped   hydro.SnappedPoint
	Mask      *raster.Mask
	Wetness   hydro.ZonalStats
	MeanSlope float64
	Area      float64
	Err       error
}

// Record converts the outcome to its persisted form.
func (w Watershed) Record() domain.WatershedRecord {
	rec := domain.WatershedRecord{Label: w.Point.Label, CRS: w.Point.CRS, X: w.Point.X, Y: w.Point.Y}
	if w.Err != nil {
		rec.Error = w.Err.Error()
		return rec
	}
	if w.Mask == nil {
		rec.Error = "not delineated"
		return rec
	}
	rec.SnappedX, rec.SnappedY = w.Snapped.Point.X, w.Snapped.Point.Y
	rec.Row, rec.Col = w.Snapped.Row, w.Snapped.Col
	rec.SnapDistance = w.Snapped.Distance
	rec.Accumulation = w.Snapped.Accumulation
	rec.Cells = w.Mask.Count()
	rec.AreaM2 = w.Area
	rec.MeanTWI, rec.StdDevTWI = w.Wetness.Mean, w.Wetness.StdDev
	rec.MinTWI, rec.MaxTWI = w.Wetness.Min, w.Wetness.Max
	rec.MeanSlope = w.MeanSlope
	return rec
}

// Input is what a run works on. CRS, when set, must match the CRS of every
// pour point that declares one.
type Input struct {
	Source string
	CRS    string
	DEM    *raster.Raster
	Points []hydro.PourPoint
}

// Result bundles the persisted run record with the grids behind it.
type Result struct {
	Run        domain.Run
	Surface    *Surface
	Watersheds []Watershed
}

// Prepare conditions dem and derives every grid delineation needs.
func (s *Service) Prepare(ctx context.Context, dem *raster.Raster, p Params) (*Surface, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	surf := &Surface{DEM: dem}
	stages := []struct {
		op string
		fn func(context.Context) error
	}{
		{StageCondition, func(ctx context.Context) error {
			var err error
			surf.Conditioned, surf.Conditioning, err = hydro.ResolveWithStats(ctx, dem, hydro.ResolveOptions{
				MaxBreachDistance: p.BreachDistance,
				MaxIterations:     p.MaxFillIterations,
			})
			return err
		}},
		{StageRoute, func(ctx context.Context) error {
			var err error
			surf.Directions, surf.Accumulation, err = hydro.Route(ctx, surf.Conditioned, hydro.RouteOptions{Workers: p.Workers})
			return err
		}},
		{StageStreams, func(context.Context) error {
			var err error
			surf.Streams, err = hydro.ExtractStreams(surf.Accumulation, p.StreamThreshold)
			return err
		}},
		{StageSlope, func(ctx context.Context) error {
			var err error
			surf.Slope, err = hydro.Slope(ctx, surf.Conditioned, p.Workers)
			return err
		}},
		{StageWetness, func(ctx context.Context) error {
			var err error
			surf.Wetness, err = hydro.WetnessIndex(ctx, surf.Accumulation, surf.Slope, hydro.WetnessOptions{MinTanSlope: p.MinTanSlope, Workers: p.Workers})
			return err
		}},
	}
	for _, st := range stages {
		if err := s.run(ctx, st.op, st.fn); err != nil {
			return nil, fmt.Errorf("%s: %w", st.op, err)
		}
	}
	s.logger.Info("surface prepared",
		"cells", dem.Geometry().Len(),
		"pits", surf.Conditioning.Pits,
		"breached", surf.Conditioning.Breached,
		"raised", surf.Conditioning.Raised,
		"stream_cells", surf.Streams.Count())
	return surf, nil
}

// Delineate snaps each point onto the stream network, delineates the
// watersheds concurrently and summarises the terrain indices over each.
// Results keep the order of points. A failing point is reported in its
// Watershed.Err unless p.FailFast, in which case its *PointError is returned.
func (s *Service) Delineate(ctx context.Context, surf *Surface, points []hydro.PourPoint, crs string, p Params) ([]Watershed, error) {
	out := make([]Watershed, len(points))
	fail := func(i int, stage string, err error) error {
		pe := &PointError{Label: points[i].Label, Stage: stage, Err: err}
		out[i].Err = pe
		if p.FailFast {
			return pe
		}
		return nil
	}

	var snapped []hydro.PourPoint
	var index []int
	for i, pt := range points {
		out[i].Point = pt
		err := s.run(ctx, StageSnap, func(context.Context) error {
			if crs != "" && pt.CRS != "" && pt.CRS != crs {
				return fmt.Errorf("%w: %s vs %s", ErrCRSMismatch, pt.CRS, crs)
			}
			var err error
			out[i].Snapped, err = hydro.Snap(pt, surf.Streams, surf.Accumulation, p.SnapDistance)
			return err
		})
		if err != nil {
			if ferr := fail(i, StageSnap, err); ferr != nil {
				return out, ferr
			}
			continue
		}
		snapped = append(snapped, out[i].Snapped.Point)
		index = append(index, i)
	}

	var delineations []hydro.Delineation
	err := s.run(ctx, StageDelineate, func(ctx context.Context) error {
		var err error
		delineations, err = hydro.DelineateAll(ctx, surf.Directions, snapped, p.Workers)
		return err
	})
	if err != nil {
		return out, err
	}

	err = s.run(ctx, StageZonal, func(context.Context) error {
		for k, d := range delineations {
			i := index[k]
			if d.Err != nil {
				if ferr := fail(i, StageDelineate, d.Err); ferr != nil {
					return ferr
				}
				continue
			}
			twi, err := hydro.ZonalSummary(surf.Wetness, d.Mask)
			if err == nil {
				out[i].MeanSlope, err = hydro.ZonalMean(surf.Slope, d.Mask)
			}
			if err != nil {
				if ferr := fail(i, StageZonal, err); ferr != nil {
					return ferr
				}
				continue
			}
			out[i].Mask = d.Mask
			out[i].Wetness = twi
			out[i].Area = hydro.Area(d.Mask)
		}
		return nil
	})
	return out, err
}

// Run executes the whole pipeline on in and returns the run record with the
// grids and watersheds behind it. The record is saved to the configured run
// store whatever the outcome. The returned error is non-nil when preparation
// failed, a point failed under FailFast, every point failed, or saving failed;
// the Result is still returned whenever a run record was produced.
func (s *Service) Run(ctx context.Context, in Input, p Params) (*Result, error) {
	if len(in.Points) == 0 {
		return nil, ErrNoPourPoints
	}
	if in.DEM == nil {
		return nil, errors.New("core: no DEM")
	}
	g := in.DEM.Geometry()
	res := &Result{Run: domain.Run{
		ID:        s.newID(),
		DEMSource: in.Source,
		Grid: domain.GridInfo{
			Rows: g.Rows, Cols: g.Cols,
			OriginX: g.Transform.OriginX, OriginY: g.Transform.OriginY,
			CellWidth: g.Transform.CellWidth, CellHeight: g.Transform.CellHeight,
			ValidCells: in.DEM.ValidCount(),
		},
		Params:    p.record(),
		StartedAt: s.clock.Now(),
	}}
	runErr := s.run(ctx, "run", func(ctx context.Context) error {
		surf, err := s.Prepare(ctx, in.DEM, p)
		if err != nil {
			return err
		}
		res.Surface = surf
		st := surf.Conditioning
		res.Run.Conditioning = domain.Conditioning{Pits: st.Pits, Breached: st.Breached, Carved: st.Carved, Raised: st.Raised, Passes: st.Passes}
		res.Run.StreamCells = surf.Streams.Count()

		res.Watersheds, err = s.Delineate(ctx, surf, in.Points, in.CRS, p)
		for _, w := range res.Watersheds {
			res.Run.Watersheds = append(res.Run.Watersheds, w.Record())
		}
		if err != nil {
			return err
		}
		var failed []error
		for _, w := range res.Watersheds {
			if w.Err != nil {
				failed = append(failed, w.Err)
			}
		}
		if len(failed) == len(res.Watersheds) {
			return fmt.Errorf("%w: %w", ErrAllPointsFailed, errors.Join(failed...))
		}
		return nil
	})

	res.Run.FinishedAt = s.clock.Now()
	res.Run.Status = runStatus(res.Run.Watersheds, runErr)
	if runErr != nil {
		res.Run.Error = runErr.Error()
	}
	if s.runs != nil {
		if err := s.run(ctx, StageSave, func(ctx context.Context) error {
			return s.runs.SaveRun(ctx, res.Run)
		}); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("save run %s: %w", res.Run.ID, err))
		}
	}
	s.logger.Info("watershed run finished",
		"run", res.Run.ID,
		"status", res.Run.Status,
		"watersheds", len(res.Run.Watersheds),
		"duration", res.Run.Duration())
	return res, runErr
}

func runStatus(records []domain.WatershedRecord, err error) domain.RunStatus {
	failed := 0
	for _, r := range records {
		if r.Failed() {
			failed++
		}
	}
	switch {
	case err != nil:
		return domain.RunFailed
	case failed > 0:
		return domain.RunPartial
	default:
		return domain.RunSucceeded
	}
}

// run wraps an operation with tracing, timing, metrics and logging.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := s.clock.Now()
	err := fn(ctx)
	elapsed := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	if err != nil {
		s.logger.Error("operation failed", "operation", op, "duration", elapsed, "error", err)
		return err
	}
	s.logger.Debug("operation completed", "operation", op, "duration", elapsed)
	return nil
}
