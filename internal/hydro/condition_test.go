package hydro

import (
	"context"
	"errors"
	"math"
	"testing"

	"watershed/pkg/raster"
)

func TestResolveBowlDrainsThroughSingleOutlet(t *testing.T) {
	for _, breach := range []int{0, 2} {
		dem := mustResolve(t, bowl(t), ResolveOptions{MaxBreachDistance: breach})
		dir, acc := mustRoute(t, dem)
		outlets := dir.Outlets()
		if len(outlets) != 1 || outlets[0] != 2 {
			t.Fatalf("breach=%d: expected single outlet at (0,2), got %v", breach, outlets)
		}
		if got := acc.At(0, 2); got != 25 {
			t.Fatalf("breach=%d: outlet accumulation = %d, want 25", breach, got)
		}
		if top, at := acc.Max(); top != 25 || at != 2 {
			t.Fatalf("breach=%d: max accumulation %d at %d", breach, top, at)
		}
	}
}

func TestResolveLeavesInputUntouched(t *testing.T) {
	in := bowl(t)
	before := in.Values()
	_ = mustResolve(t, in, ResolveOptions{})
	for i, v := range in.Values() {
		if v != before[i] {
			t.Fatalf("input mutated at %d: %v -> %v", i, before[i], v)
		}
	}
}

func TestResolveBreachesPitThroughBarrier(t *testing.T) {
	rows := make([][]float64, 5)
	for r := range rows {
		rows[r] = make([]float64, 5)
		for c := range rows[r] {
			rows[r][c] = 10 + float64(c)
		}
	}
	rows[2][2] = 5
	rows[2][1] = 8
	rows[2][0] = 4
	out, stats, err := ResolveWithStats(context.Background(), demFrom(t, 10, rows), ResolveOptions{MaxBreachDistance: 2})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if stats.Pits != 1 || stats.Breached != 1 || stats.Carved != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if got := out.At(2, 2); got != 5 {
		t.Fatalf("pit floor changed to %v", got)
	}
	if got := out.At(2, 1); !(got < 5 && got > 4) {
		t.Fatalf("barrier not carved between pit and outlet: %v", got)
	}
	dir, _ := mustRoute(t, out)
	if dir.Code(2, 2) != West || dir.Code(2, 1) != West {
		t.Fatalf("carved channel not followed: %v %v", dir.Code(2, 2), dir.Code(2, 1))
	}
}

func TestResolveBreachesFlatFloorAsOneDepression(t *testing.T) {
	rows := make([][]float64, 5)
	for r := range rows {
		rows[r] = make([]float64, 6)
		for c := range rows[r] {
			rows[r][c] = 10 + float64(c)
		}
	}
	rows[2][2], rows[2][3] = 5, 5
	rows[2][1] = 8
	rows[2][0] = 4
	out, stats, err := ResolveWithStats(context.Background(), demFrom(t, 10, rows), ResolveOptions{MaxBreachDistance: 3})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if stats.Pits != 1 || stats.Breached != 1 || stats.Carved != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if got := out.At(2, 2); got != 5 {
		t.Fatalf("floor cell next to the channel changed to %v", got)
	}
	if got := out.At(2, 3); got < 5 || got > 5.001 {
		t.Fatalf("far floor cell should only gain a gradient, got %v", got)
	}
	if got := out.At(2, 1); !(got < 5 && got > 4) {
		t.Fatalf("barrier not carved between floor and outlet: %v", got)
	}
	dir, _ := mustRoute(t, out)
	if r, c := outletOf(t, dir, 2, 3); r != 2 || c != 0 {
		t.Fatalf("floor drains to (%d,%d), want (2,0)", r, c)
	}
}

func TestResolveBreachesToDataEdgeAtPitLevel(t *testing.T) {
	rows := make([][]float64, 5)
	for r := range rows {
		rows[r] = []float64{9, 9, 9, 9, 9}
	}
	rows[2][2] = 5
	rows[2][0] = 5
	out, stats, err := ResolveWithStats(context.Background(), demFrom(t, 10, rows), ResolveOptions{MaxBreachDistance: 2})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if stats.Pits != 1 || stats.Breached != 1 || stats.Carved != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if got := out.At(2, 2); got != 5 {
		t.Fatalf("pit floor changed to %v", got)
	}
	if got := out.At(2, 0); !(got < 5) || got < 4.999 {
		t.Fatalf("edge target should sit just below the pit, got %v", got)
	}
	dir, _ := mustRoute(t, out)
	if r, c := outletOf(t, dir, 2, 2); r != 2 || c != 0 {
		t.Fatalf("pit drains to (%d,%d), want edge cell (2,0)", r, c)
	}
}

func TestResolveFlatTouchingEdgeIsNotADepression(t *testing.T) {
	rows := [][]float64{
		{9, 9, 9, 9, 9},
		{9, 5, 5, 5, 9},
		{9, 5, 5, 5, 9},
		{5, 5, 5, 5, 9},
		{9, 9, 9, 9, 9},
	}
	out, stats, err := ResolveWithStats(context.Background(), demFrom(t, 10, rows), ResolveOptions{MaxBreachDistance: 4})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if stats.Pits != 0 || stats.Breached != 0 {
		t.Fatalf("flat open to the edge needs no breach: %+v", stats)
	}
	dir, _ := mustRoute(t, out)
	if r, c := outletOf(t, dir, 1, 3); r != 3 || c != 0 {
		t.Fatalf("flat drains to (%d,%d), want (3,0)", r, c)
	}
}

func TestResolveFillsWhenBreachOutOfReach(t *testing.T) {
	rows := [][]float64{
		{9, 9, 9, 9, 9, 9, 9},
		{9, 8, 8, 8, 8, 8, 9},
		{9, 8, 3, 3, 3, 8, 9},
		{9, 8, 3, 2, 3, 8, 9},
		{9, 8, 3, 3, 3, 8, 9},
		{9, 8, 8, 8, 8, 8, 9},
		{9, 9, 9, 9, 9, 9, 1},
	}
	out, stats, err := ResolveWithStats(context.Background(), demFrom(t, 1, rows), ResolveOptions{MaxBreachDistance: 1})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if stats.Breached != 0 {
		t.Fatalf("breach should not reach an outlet within one cell: %+v", stats)
	}
	if stats.Raised == 0 {
		t.Fatalf("expected the depression to be filled: %+v", stats)
	}
	if z := out.At(3, 3); z < 8 {
		t.Fatalf("pit not raised to spill level: %v", z)
	}
	_, acc := mustRoute(t, out)
	if got := acc.At(5, 5); got < 25 {
		t.Fatalf("filled basin does not drain past its rim: %d", got)
	}
}

func TestResolveNoDataPropagatesAndActsAsEdge(t *testing.T) {
	rows := [][]float64{
		{5, 5, 5, 5, 5},
		{5, 4, 4, 4, 5},
		{5, 4, testNoData, 4, 5},
		{5, 4, 4, 4, 5},
		{5, 5, 5, 5, 5},
	}
	out := mustResolve(t, demFrom(t, 1, rows), ResolveOptions{MaxBreachDistance: 3})
	if out.Valid(2, 2) {
		t.Fatalf("no-data cell gained a value: %v", out.At(2, 2))
	}
	if out.At(1, 1) != 4 {
		t.Fatalf("cell next to no-data should be left alone, got %v", out.At(1, 1))
	}
}

func TestResolveConditionedSurfacesHaveNoInteriorSinks(t *testing.T) {
	for seed := int64(1); seed <= 4; seed++ {
		dem := mustResolve(t, noisy(t, 40, 33, seed), ResolveOptions{MaxBreachDistance: 5})
		dir, err := Directions(context.Background(), dem, RouteOptions{Workers: 4})
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		g := dem.Geometry()
		valid := make([]bool, g.Len())
		for i := range valid {
			valid[i] = dem.ValidIndex(i)
		}
		for i := range valid {
			r, c := g.RowCol(i)
			if valid[i] && !isDataEdge(g, valid, i) && dir.Code(r, c) == NoFlow {
				t.Fatalf("seed %d: interior cell (%d,%d) has no flow direction", seed, r, c)
			}
		}
	}
}

func TestResolveUnresolvableDepression(t *testing.T) {
	g := grid(t, 4, 4, 1)
	dem, err := raster.Filled(g, math.Inf(1), testNoData)
	if err != nil {
		t.Fatalf("raster: %v", err)
	}
	_, err = Resolve(context.Background(), dem, ResolveOptions{MaxIterations: 3})
	if !errors.Is(err, ErrUnresolvableDepression) {
		t.Fatalf("expected ErrUnresolvableDepression, got %v", err)
	}
	var ce *CellError
	if !errors.As(err, &ce) || ce.Row != 1 || ce.Col != 1 {
		t.Fatalf("expected offending cell (1,1), got %#v", err)
	}
}

func TestResolveRejectsNegativeBreachDistance(t *testing.T) {
	if _, err := Resolve(context.Background(), bowl(t), ResolveOptions{MaxBreachDistance: -1}); err == nil {
		t.Fatalf("expected error for negative breach distance")
	}
}
