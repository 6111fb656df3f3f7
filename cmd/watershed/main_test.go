package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const bowlASC = `ncols 5
nrows 5
xllcorner 0
yllcorner 0
cellsize 10
NODATA_value -9999
12 12 10.5 12 12
12 11 11 11 12
12 11 10 11 12
12 11 11 11 12
12 12 12 12 12
`

type fixture struct {
	dir, dem, points string
}

func newFixture(t *testing.T, points string) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{dir: dir, dem: filepath.Join(dir, "bowl.asc"), points: filepath.Join(dir, "outlets.csv")}
	if err := os.WriteFile(f.dem, []byte(bowlASC), 0o600); err != nil {
		t.Fatalf("write dem: %v", err)
	}
	if err := os.WriteFile(f.points, []byte(points), 0o600); err != nil {
		t.Fatalf("write points: %v", err)
	}
	return f
}

func noEnv(t *testing.T) {
	t.Helper()
	orig := lookupEnv
	lookupEnv = func(string) (string, bool) { return "", false }
	t.Cleanup(func() { lookupEnv = orig })
}

func TestCLIRunsPipeline(t *testing.T) {
	noEnv(t)
	f := newFixture(t, "label,x,y\noutlet,25,45\n")
	metrics := filepath.Join(f.dir, "watershed.prom")
	var stdout, stderr bytes.Buffer
	code := cli(context.Background(), []string{
		"-d", f.dem, "-p", f.points, "-t", "3",
		"--storage", "memory",
		"--blob", "fs", "--blob-root", filepath.Join(f.dir, "blobs"),
		"--export", "json,png",
		"--metrics-textfile", metrics,
		"--log-level", "warn",
	}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("exit %d\nstdout:\n%s\nstderr:\n%s", code, stdout.String(), stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{"succeeded", "outlet", "export ", "runs/", "run.json", "masks/outlet.png", "http://local.blob/"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
	data, err := os.ReadFile(metrics)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(data), `watershed_stage_results_total{result="success",stage="run"} 1`) {
		t.Fatalf("metrics textfile missing run counter:\n%s", data)
	}
	if _, err := os.Stat(filepath.Join(f.dir, "blobs", "runs")); err != nil {
		t.Fatalf("artifacts not written under blob root: %v", err)
	}
}

func TestCLIExpvarMetricsAndTrace(t *testing.T) {
	noEnv(t)
	f := newFixture(t, "label,x,y\noutlet,25,45\n")
	metrics := filepath.Join(f.dir, "metrics.json")
	spans := filepath.Join(f.dir, "spans.jsonl")
	var stdout, stderr bytes.Buffer
	code := cli(context.Background(), []string{
		"-d", f.dem, "-p", f.points, "-t", "3",
		"--storage", "memory",
		"--metrics-backend", "expvar",
		"--metrics-textfile", metrics,
		"--trace-file", spans,
	}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("exit %d\nstdout:\n%s\nstderr:\n%s", code, stdout.String(), stderr.String())
	}
	data, err := os.ReadFile(metrics)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(data), `"stage": "run"`) || !strings.Contains(string(data), `"calls": 1`) {
		t.Fatalf("expvar snapshot missing run stage:\n%s", data)
	}
	trace, err := os.ReadFile(spans)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	if !strings.Contains(string(trace), `"operation":"run"`) || !strings.Contains(string(trace), `"status":"success"`) {
		t.Fatalf("trace file missing run span:\n%s", trace)
	}
	if strings.Contains(stdout.String(), "export ") {
		t.Fatalf("no export requested but one was reported:\n%s", stdout.String())
	}
}

func TestCLIPartialRunExitCode(t *testing.T) {
	noEnv(t)
	f := newFixture(t, "label,x,y\noutlet,25,45\noffshore,-100,-100\n")
	var stdout, stderr bytes.Buffer
	code := cli(context.Background(), []string{"-d", f.dem, "-p", f.points, "--stream-area-km2", "0.00025", "--storage", "memory"}, &stdout, &stderr)
	if code != exitPartial {
		t.Fatalf("exit %d, want %d\n%s\n%s", code, exitPartial, stdout.String(), stderr.String())
	}
	if !strings.Contains(stdout.String(), "offshore") || !strings.Contains(stdout.String(), "outside grid") {
		t.Fatalf("failed point not reported:\n%s", stdout.String())
	}
	if !strings.Contains(stderr.String(), "stream threshold from area") || !strings.Contains(stderr.String(), "cells=3") {
		t.Fatalf("area conversion not logged:\n%s", stderr.String())
	}
}

func TestCLIUsageErrors(t *testing.T) {
	noEnv(t)
	var stdout, stderr bytes.Buffer
	if code := cli(context.Background(), []string{"--no-such-flag"}, &stdout, &stderr); code != exitUsage {
		t.Fatalf("unknown flag exit %d", code)
	}
	stderr.Reset()
	if code := cli(context.Background(), []string{"-d", "dem.asc"}, &stdout, &stderr); code != exitUsage {
		t.Fatalf("missing points exit %d", code)
	}
	if !strings.Contains(stderr.String(), "points.path is required") {
		t.Fatalf("expected validation message, got:\n%s", stderr.String())
	}
	stderr.Reset()
	if code := cli(context.Background(), []string{"--help"}, &stdout, &stderr); code != exitOK {
		t.Fatalf("help exit %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: watershed") {
		t.Fatalf("usage not printed:\n%s", stderr.String())
	}
}

func TestCLIFailsOnMissingDEM(t *testing.T) {
	noEnv(t)
	f := newFixture(t, "label,x,y\noutlet,25,45\n")
	var stdout, stderr bytes.Buffer
	code := cli(context.Background(), []string{"-d", filepath.Join(f.dir, "missing.asc"), "-p", f.points, "-t", "3", "--storage", "memory"}, &stdout, &stderr)
	if code != exitFailed {
		t.Fatalf("exit %d, want %d", code, exitFailed)
	}
	if !strings.Contains(stderr.String(), "load dem") {
		t.Fatalf("expected load error in log:\n%s", stderr.String())
	}
}
