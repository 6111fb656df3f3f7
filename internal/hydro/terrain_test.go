package hydro

import (
	"context"
	"errors"
	"math"
	"testing"

	"watershed/pkg/raster"
)

func TestSlopeOfInclinedPlane(t *testing.T) {
	rows := make([][]float64, 6)
	for r := range rows {
		rows[r] = make([]float64, 6)
		for c := range rows[r] {
			rows[r][c] = float64(c) // one unit per 10 m cell eastwards
		}
	}
	s, err := Slope(context.Background(), demFrom(t, 10, rows), 2)
	if err != nil {
		t.Fatalf("slope: %v", err)
	}
	want := math.Atan(0.1) * 180 / math.Pi
	for r := 1; r < 5; r++ {
		for c := 1; c < 5; c++ {
			if got := s.At(r, c); math.Abs(got-want) > 1e-9 {
				t.Fatalf("slope(%d,%d) = %v, want %v", r, c, got, want)
			}
		}
	}
}

func TestSlopeKeepsNoData(t *testing.T) {
	dem := demFrom(t, 1, [][]float64{
		{1, 1, 1},
		{1, testNoData, 1},
		{1, 1, 1},
	})
	s, err := Slope(context.Background(), dem, 1)
	if err != nil {
		t.Fatalf("slope: %v", err)
	}
	if s.Valid(1, 1) {
		t.Fatalf("no-data centre produced slope %v", s.At(1, 1))
	}
	if s.At(0, 0) != 0 {
		t.Fatalf("flat cell next to no-data should have zero slope, got %v", s.At(0, 0))
	}
}

func TestWetnessIndexClampsFlatCells(t *testing.T) {
	g := grid(t, 2, 2, 10)
	acc := &Accumulation{geom: g, counts: []int{1, 4, 0, 2}}
	slope, err := raster.New(g, []float64{0, 45, 10, testNoData}, testNoData)
	if err != nil {
		t.Fatalf("raster: %v", err)
	}
	twi, err := WetnessIndex(context.Background(), acc, slope, WetnessOptions{})
	if err != nil {
		t.Fatalf("wetness: %v", err)
	}
	if got, want := twi.At(0, 0), math.Log(10/DefaultMinTanSlope); math.Abs(got-want) > 1e-9 {
		t.Fatalf("flat cell twi = %v, want %v", got, want)
	}
	if got, want := twi.At(0, 1), math.Log(40/math.Tan(math.Pi/4)); math.Abs(got-want) > 1e-9 {
		t.Fatalf("45 degree cell twi = %v, want %v", got, want)
	}
	if twi.Valid(1, 0) || twi.Valid(1, 1) {
		t.Fatalf("cells without accumulation or slope must be no-data: %v", twi.Values())
	}
	for _, v := range twi.Values() {
		if math.IsInf(v, 0) {
			t.Fatalf("wetness index produced infinity: %v", twi.Values())
		}
	}

	custom, err := WetnessIndex(context.Background(), acc, slope, WetnessOptions{MinTanSlope: 0.01})
	if err != nil {
		t.Fatalf("wetness: %v", err)
	}
	if got, want := custom.At(0, 0), math.Log(10/0.01); math.Abs(got-want) > 1e-9 {
		t.Fatalf("custom floor twi = %v, want %v", got, want)
	}
	if _, err := WetnessIndex(context.Background(), acc, slope, WetnessOptions{MinTanSlope: -1}); err == nil {
		t.Fatalf("expected error for negative floor")
	}
}

func TestDerivedRastersIgnoreDEMNoDataMarker(t *testing.T) {
	g := grid(t, 5, 5, 10)
	vals := make([]float64, g.Len())
	for i := range vals {
		r, c := g.RowCol(i)
		vals[i] = 100 - 0.5*float64(max(abs(r-2), abs(c-2)))
	}
	dem, err := raster.New(g, vals, 0)
	if err != nil {
		t.Fatalf("raster: %v", err)
	}
	s, err := Slope(context.Background(), dem, 2)
	if err != nil {
		t.Fatalf("slope: %v", err)
	}
	if !s.Valid(2, 2) || s.At(2, 2) != 0 {
		t.Fatalf("summit slope should be a valid 0, got %v valid=%v", s.At(2, 2), s.Valid(2, 2))
	}
	if !math.IsNaN(s.NoData()) {
		t.Fatalf("slope reused the DEM no-data marker %v", s.NoData())
	}

	counts := make([]int, g.Len())
	for i := range counts {
		counts[i] = 1
	}
	twi, err := WetnessIndex(context.Background(), &Accumulation{geom: g, counts: counts}, s, WetnessOptions{})
	if err != nil {
		t.Fatalf("wetness: %v", err)
	}
	if got, want := twi.At(2, 2), math.Log(10/DefaultMinTanSlope); math.Abs(got-want) > 1e-9 {
		t.Fatalf("flat summit twi = %v, want %v", got, want)
	}

	only := make([]bool, g.Len())
	only[g.Index(2, 2)] = true
	m, _ := raster.NewMask(g, only)
	mean, err := ZonalMean(s, m)
	if err != nil || mean != 0 {
		t.Fatalf("zonal mean over a flat cell = %v, %v want 0", mean, err)
	}
}

func TestWetnessIndexGeometryMismatch(t *testing.T) {
	_, acc := mustRoute(t, mustResolve(t, bowl(t), ResolveOptions{}))
	slope, err := raster.Filled(grid(t, 3, 3, 10), 1, testNoData)
	if err != nil {
		t.Fatalf("raster: %v", err)
	}
	if _, err := WetnessIndex(context.Background(), acc, slope, WetnessOptions{}); !errors.Is(err, raster.ErrGeometryMismatch) {
		t.Fatalf("expected ErrGeometryMismatch, got %v", err)
	}
}

func TestZonalMeanEmptyZone(t *testing.T) {
	g := grid(t, 3, 3, 10)
	index, err := raster.New(g, []float64{1, 2, 3, 4, testNoData, 6, 7, 8, 9}, testNoData)
	if err != nil {
		t.Fatalf("raster: %v", err)
	}
	empty, _ := raster.NewMask(g, make([]bool, 9))
	mean, err := ZonalMean(index, empty)
	if !errors.Is(err, ErrEmptyZone) || math.IsNaN(mean) {
		t.Fatalf("expected ErrEmptyZone without NaN, got %v, %v", mean, err)
	}
	onlyNoData := make([]bool, 9)
	onlyNoData[4] = true
	m, _ := raster.NewMask(g, onlyNoData)
	if _, err := ZonalMean(index, m); !errors.Is(err, ErrEmptyZone) {
		t.Fatalf("mask over no-data only should be empty, got %v", err)
	}
}

func TestZonalSummary(t *testing.T) {
	g := grid(t, 2, 3, 10)
	index, _ := raster.New(g, []float64{2, 4, testNoData, 4, 5, 100}, testNoData)
	m, _ := raster.NewMask(g, []bool{true, true, true, true, true, false})
	mean, err := ZonalMean(index, m)
	if err != nil || mean != 3.75 {
		t.Fatalf("ZonalMean = %v, %v want 3.75", mean, err)
	}
	s, err := ZonalSummary(index, m)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.Count != 4 || s.Mean != 3.75 || s.Min != 2 || s.Max != 5 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if math.Abs(s.StdDev-math.Sqrt(1.583333333333333)) > 1e-9 {
		t.Fatalf("unexpected std dev %v", s.StdDev)
	}
	if a := Area(m); a != 500 {
		t.Fatalf("area = %v, want 500", a)
	}
	other, _ := raster.NewMask(grid(t, 3, 3, 10), make([]bool, 9))
	if _, err := ZonalMean(index, other); !errors.Is(err, raster.ErrGeometryMismatch) {
		t.Fatalf("expected ErrGeometryMismatch, got %v", err)
	}
}
