package hydro

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"watershed/pkg/raster"
)

const testNoData = -9999

func grid(t *testing.T, rows, cols int, cell float64) raster.Geometry {
	t.Helper()
	g, err := raster.NewGeometry(rows, cols, 0, float64(rows)*cell, cell)
	if err != nil {
		t.Fatalf("geometry: %v", err)
	}
	return g
}

func demFrom(t *testing.T, cell float64, rows [][]float64) *raster.Raster {
	t.Helper()
	g := grid(t, len(rows), len(rows[0]), cell)
	vals := make([]float64, 0, g.Len())
	for _, row := range rows {
		vals = append(vals, row...)
	}
	r, err := raster.New(g, vals, testNoData)
	if err != nil {
		t.Fatalf("raster: %v", err)
	}
	return r
}

// bowl is a 5x5 surface rising one unit per ring away from a central pit,
// with a notch in the north edge as the only way out.
func bowl(t *testing.T) *raster.Raster {
	t.Helper()
	rows := make([][]float64, 5)
	for r := range rows {
		rows[r] = make([]float64, 5)
		for c := range rows[r] {
			ring := max(abs(r-2), abs(c-2))
			rows[r][c] = 10 + float64(ring)
		}
	}
	rows[0][2] = 10.5
	return demFrom(t, 10, rows)
}

// noisy is a reproducible random surface with a few no-data holes.
func noisy(t *testing.T, rows, cols int, seed int64) *raster.Raster {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	g := grid(t, rows, cols, 30)
	vals := make([]float64, g.Len())
	for i := range vals {
		r, c := g.RowCol(i)
		vals[i] = 100 + 0.5*float64(r) + 20*math.Sin(float64(c)/3) + rng.Float64()*8
		if rng.Intn(40) == 0 {
			vals[i] = testNoData
		}
	}
	dem, err := raster.New(g, vals, testNoData)
	if err != nil {
		t.Fatalf("raster: %v", err)
	}
	return dem
}

func mustResolve(t *testing.T, dem *raster.Raster, opts ResolveOptions) *raster.Raster {
	t.Helper()
	out, err := Resolve(context.Background(), dem, opts)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return out
}

func mustRoute(t *testing.T, dem *raster.Raster) (*FlowDirections, *Accumulation) {
	t.Helper()
	dir, acc, err := Route(context.Background(), dem, RouteOptions{Workers: 3})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	return dir, acc
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// outletOf follows flow directions from (r, c) to the cell where they stop.
func outletOf(t *testing.T, dir *FlowDirections, r, c int) (int, int) {
	t.Helper()
	g := dir.Geometry()
	for steps := 0; steps <= g.Len(); steps++ {
		nr, nc, ok := dir.Downstream(r, c)
		if !ok {
			return r, c
		}
		r, c = nr, nc
	}
	t.Fatalf("flow path from (%d,%d) does not terminate", r, c)
	return 0, 0
}
