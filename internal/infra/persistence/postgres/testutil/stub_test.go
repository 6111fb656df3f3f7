package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
)

func TestStubDBStoresAndQueriesRows(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	insert := "INSERT INTO runs(id,payload) VALUES($1,$2) ON CONFLICT(id) DO UPDATE SET payload=EXCLUDED.payload"
	for _, v := range []string{"first", "second"} {
		if _, err := conn.ExecContext(ctx, insert, []driver.NamedValue{{Value: "r1"}, {Value: v}}); err != nil {
			t.Fatalf("ExecContext insert: %v", err)
		}
	}
	if rows := conn.Tables["runs"]; len(rows) != 1 || rows[0]["payload"] != "second" {
		t.Fatalf("expected upsert to replace row, got %v", rows)
	}

	rows, err := conn.QueryContext(ctx, "SELECT id, payload FROM runs", nil)
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	dest := make([]driver.Value, 2)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != "r1" || dest[1] != "second" {
		t.Fatalf("unexpected row values: %v", dest)
	}
	_ = rows.Close()

	if _, err := conn.ExecContext(ctx, "DELETE FROM runs WHERE id = $1", []driver.NamedValue{{Value: "r1"}}); err != nil {
		t.Fatalf("ExecContext delete: %v", err)
	}
	if len(conn.Tables["runs"]) != 0 {
		t.Fatalf("expected row deleted, got %v", conn.Tables["runs"])
	}
}

func TestStubDBFailures(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	conn.FailPing, conn.FailExec, conn.FailQuery = true, true, true
	if err := conn.Ping(ctx); err == nil {
		t.Fatalf("expected ping failure")
	}
	if _, err := conn.ExecContext(ctx, "CREATE TABLE x (id TEXT)", nil); err == nil {
		t.Fatalf("expected exec failure")
	}
	if _, err := conn.QueryContext(ctx, "SELECT id FROM x", nil); err == nil {
		t.Fatalf("expected query failure")
	}
}
