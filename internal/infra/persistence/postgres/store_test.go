package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"watershed/internal/infra/persistence/persistencetest"
	"watershed/internal/infra/persistence/postgres/testutil"
)

func openStub(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(driverName, _ string) (*sql.DB, error) {
		if driverName != defaultDriver {
			t.Fatalf("unexpected driver %s", driverName)
		}
		return db, nil
	})
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, conn
}

func TestPostgresStoreContract(t *testing.T) {
	store, _ := openStub(t)
	persistencetest.RunStoreContract(t, store)
}

func TestNewStoreCreatesTableAndLoadsRuns(t *testing.T) {
	db, conn := testutil.NewStubDB()
	run := persistencetest.SampleRun("seeded", time.Unix(500, 0).UTC())
	payload, err := json.Marshal(run)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	conn.Tables["runs"] = []map[string]any{{"id": "seeded", "payload": payload}}
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore(context.Background(), "postgres://example/db")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS RUNS") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected runs DDL, got execs: %v", conn.Execs)
	}
	got, err := store.GetRun(context.Background(), "seeded")
	if err != nil || got.DEMSource != run.DEMSource {
		t.Fatalf("seeded run not loaded: %+v %v", got, err)
	}
}

func TestSaveRunWritesJSONBPayload(t *testing.T) {
	store, conn := openStub(t)
	run := persistencetest.SampleRun("r1", time.Unix(10, 0).UTC())
	if err := store.SaveRun(context.Background(), run); err != nil {
		t.Fatalf("save: %v", err)
	}
	rows := conn.Tables["runs"]
	if len(rows) != 1 || rows[0]["status"] != string(run.Status) {
		t.Fatalf("unexpected rows %v", rows)
	}
	var decoded map[string]any
	if err := json.Unmarshal(rows[0]["payload"].([]byte), &decoded); err != nil || decoded["id"] != "r1" {
		t.Fatalf("payload is not the run JSON: %v %v", decoded, err)
	}
}

func TestNewStoreErrors(t *testing.T) {
	cases := map[string]func(*testutil.StubConn){
		"ping":  func(c *testutil.StubConn) { c.FailPing = true },
		"ddl":   func(c *testutil.StubConn) { c.FailExec = true },
		"query": func(c *testutil.StubConn) { c.FailQuery = true },
		"decode": func(c *testutil.StubConn) {
			c.Tables["runs"] = []map[string]any{{"id": "bad", "payload": []byte("{")}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			db, conn := testutil.NewStubDB()
			mutate(conn)
			restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
			defer restore()
			if _, err := NewStore(context.Background(), ""); err == nil {
				t.Fatalf("expected %s failure", name)
			}
		})
	}
}

func TestSaveRunExecFailureLeavesMemoryUntouched(t *testing.T) {
	store, conn := openStub(t)
	conn.FailExec = true
	if err := store.SaveRun(context.Background(), persistencetest.SampleRun("x", time.Now())); err == nil {
		t.Fatalf("expected exec failure")
	}
	if runs, _ := store.ListRuns(context.Background()); len(runs) != 0 {
		t.Fatalf("failed save must not be visible, got %d runs", len(runs))
	}
}
