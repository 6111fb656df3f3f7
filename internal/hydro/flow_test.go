package hydro

import (
	"context"
	"errors"
	"testing"

	"watershed/pkg/raster"
)

func TestDirectionsTieBreakOrder(t *testing.T) {
	dem := demFrom(t, 1, [][]float64{
		{9, 9, 9},
		{9, 5, 4},
		{9, 4, 9},
	})
	dir, err := Directions(context.Background(), dem, RouteOptions{})
	if err != nil {
		t.Fatalf("directions: %v", err)
	}
	if got := dir.Code(1, 1); got != East {
		t.Fatalf("E and S tie, E has priority; got %v", got)
	}
	r, c, ok := dir.Downstream(1, 1)
	if !ok || r != 1 || c != 2 {
		t.Fatalf("downstream = (%d,%d,%v)", r, c, ok)
	}
}

func TestDirectionsDiagonalUsesLongerStep(t *testing.T) {
	// diagonal drop of 1.3 over sqrt(2) is less steep than 1.0 straight south
	dem := demFrom(t, 1, [][]float64{
		{9, 9, 9},
		{9, 5, 9},
		{9, 4, 3.7},
	})
	dir, err := Directions(context.Background(), dem, RouteOptions{})
	if err != nil {
		t.Fatalf("directions: %v", err)
	}
	if got := dir.Code(1, 1); got != South {
		t.Fatalf("expected S, got %v", got)
	}
}

func TestDirectionsRejectsInteriorSink(t *testing.T) {
	dem := demFrom(t, 1, [][]float64{
		{9, 9, 9},
		{9, 1, 9},
		{9, 9, 9},
	})
	_, err := Directions(context.Background(), dem, RouteOptions{})
	var ce *CellError
	if !errors.Is(err, ErrUndefinedFlowDirection) || !errors.As(err, &ce) || ce.Row != 1 || ce.Col != 1 {
		t.Fatalf("expected undefined direction at (1,1), got %v", err)
	}

	dir, acc, err := Route(context.Background(), dem, RouteOptions{AllowSinks: true})
	if err != nil {
		t.Fatalf("route with sinks allowed: %v", err)
	}
	if dir.Code(1, 1) != NoFlow {
		t.Fatalf("sink should stay undefined, got %v", dir.Code(1, 1))
	}
	if got := acc.At(1, 1); got != 9 {
		t.Fatalf("sink accumulation = %d, want 9", got)
	}
}

func TestAccumulationNonDecreasingDownstream(t *testing.T) {
	dem := mustResolve(t, noisy(t, 50, 41, 7), ResolveOptions{MaxBreachDistance: 4})
	dir, acc := mustRoute(t, dem)
	g := dir.Geometry()
	outletSum := 0
	for i := 0; i < g.Len(); i++ {
		r, c := g.RowCol(i)
		if !dir.Valid(r, c) {
			if acc.AtIndex(i) != 0 {
				t.Fatalf("no-data cell (%d,%d) accumulated %d", r, c, acc.AtIndex(i))
			}
			continue
		}
		rr, cc, ok := dir.Downstream(r, c)
		if !ok {
			outletSum += acc.At(r, c)
			continue
		}
		if acc.At(rr, cc) <= acc.At(r, c) {
			t.Fatalf("accumulation drops from (%d,%d)=%d to (%d,%d)=%d", r, c, acc.At(r, c), rr, cc, acc.At(rr, cc))
		}
	}
	if outletSum != dem.ValidCount() {
		t.Fatalf("outlets collect %d cells, want %d", outletSum, dem.ValidCount())
	}
}

func TestAccumulateGeometryMismatch(t *testing.T) {
	dem := bowl(t)
	dir, err := Directions(context.Background(), mustResolve(t, dem, ResolveOptions{}), RouteOptions{})
	if err != nil {
		t.Fatalf("directions: %v", err)
	}
	other := demFrom(t, 5, [][]float64{{1, 2}, {3, 4}})
	_, err = Accumulate(dir, other)
	var gm *raster.GeometryMismatchError
	if !errors.Is(err, raster.ErrGeometryMismatch) || !errors.As(err, &gm) {
		t.Fatalf("expected geometry mismatch, got %v", err)
	}
}

func TestAccumulateRejectsUphillDirections(t *testing.T) {
	dem := demFrom(t, 1, [][]float64{{1, 2, 3}})
	dir, err := Directions(context.Background(), dem, RouteOptions{})
	if err != nil {
		t.Fatalf("directions: %v", err)
	}
	flipped := demFrom(t, 1, [][]float64{{3, 2, 1}})
	if _, err := Accumulate(dir, flipped); !errors.Is(err, ErrUndefinedFlowDirection) {
		t.Fatalf("expected ErrUndefinedFlowDirection, got %v", err)
	}
}

func TestRouteHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := Route(ctx, bowl(t), RouteOptions{AllowSinks: true}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAccumulationRaster(t *testing.T) {
	dem := demFrom(t, 1, [][]float64{{3, 2, testNoData}})
	_, acc, err := Route(context.Background(), dem, RouteOptions{})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	r := acc.Raster(-1)
	if r.At(0, 0) != 1 || r.At(0, 1) != 2 || r.Valid(0, 2) {
		t.Fatalf("unexpected raster values %v", r.Values())
	}
}

func TestDirectionReverseAndOffset(t *testing.T) {
	for _, n := range neighbours {
		dr, dc, ok := n.dir.Reverse().Offset()
		if !ok || dr != -n.dr || dc != -n.dc {
			t.Fatalf("%v reversed to %v with offset (%d,%d)", n.dir, n.dir.Reverse(), dr, dc)
		}
	}
	if _, _, ok := NoFlow.Offset(); ok {
		t.Fatalf("NoFlow must have no offset")
	}
}
