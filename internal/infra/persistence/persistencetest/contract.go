// Package persistencetest holds the behaviour every domain.RunStore backend
// must share, so each driver's tests can run the same contract.
package persistencetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"watershed/pkg/domain"
)

// SampleRun returns a populated run with the given id started at t0.
func SampleRun(id string, t0 time.Time) domain.Run {
	return domain.Run{
		ID:        id,
		DEMSource: "file://dem.asc",
		Grid:      domain.GridInfo{Rows: 5, Cols: 5, OriginX: 0, OriginY: 50, CellWidth: 10, CellHeight: 10, ValidCells: 25},
		Params:    domain.RunParams{StreamThreshold: 3, SnapDistance: 30, BreachDistance: 2, MaxFillIterations: 8, MinTanSlope: 0.0001},
		Watersheds: []domain.WatershedRecord{
			{Label: "outlet", X: 25, Y: 45, SnappedX: 25, SnappedY: 45, Cells: 25, AreaM2: 2500, MeanTWI: 6.2},
			{Label: "lost", X: -1, Y: -1, Error: "hydro: point outside grid"},
		},
		Status:     domain.RunPartial,
		StartedAt:  t0,
		FinishedAt: t0.Add(1500 * time.Millisecond),
	}
}

// RunStoreContract exercises save, get, list ordering, replace and delete.
func RunStoreContract(t *testing.T, store domain.RunStore) {
	t.Helper()
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := store.SaveRun(ctx, domain.Run{}); err == nil {
		t.Fatalf("expected error saving run without id")
	}
	older := SampleRun("run-a", t0)
	newer := SampleRun("run-b", t0.Add(time.Hour))
	for _, r := range []domain.Run{older, newer} {
		if err := store.SaveRun(ctx, r); err != nil {
			t.Fatalf("save %s: %v", r.ID, err)
		}
	}

	got, err := store.GetRun(ctx, "run-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DEMSource != older.DEMSource || len(got.Watersheds) != 2 || !got.StartedAt.Equal(t0) {
		t.Fatalf("unexpected run %+v", got)
	}
	if w, ok := got.Watershed("lost"); !ok || !w.Failed() {
		t.Fatalf("failed watershed record not preserved: %+v", got.Watersheds)
	}
	got.Watersheds[0].Label = "mutated"
	again, _ := store.GetRun(ctx, "run-a")
	if again.Watersheds[0].Label != "outlet" {
		t.Fatalf("store returned aliased watershed slice")
	}

	list, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "run-b" || list[1].ID != "run-a" {
		t.Fatalf("expected newest first, got %v", ids(list))
	}

	older.Status = domain.RunSucceeded
	if err := store.SaveRun(ctx, older); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got, _ := store.GetRun(ctx, "run-a"); got.Status != domain.RunSucceeded {
		t.Fatalf("replace not applied: %s", got.Status)
	}

	if err := store.DeleteRun(ctx, "run-a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetRun(ctx, "run-a"); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound after delete, got %v", err)
	}
	if err := store.DeleteRun(ctx, "run-a"); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound deleting twice, got %v", err)
	}
}

func ids(runs []domain.Run) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}
