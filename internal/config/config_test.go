package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"watershed/internal/adapters/artifacts"
	"watershed/internal/core"
	"watershed/internal/hydro"
)

const sampleYAML = `
dem:
  path: dem.asc
  crs: EPSG:32633
  bounds: {min_x: 0, min_y: 0, max_x: 100, max_y: 50}
points:
  path: outlets.csv
params:
  stream_area_km2: 0.5
  snap_distance: 60
  breach_distance: 10
storage:
  driver: sqlite
  sqlite_path: runs.db
export:
  formats: [json, png]
  timeout: 30s
trace:
  file: spans.jsonl
log:
  level: debug
`

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "watershed.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DEM.Source != SourceFile || cfg.DEM.Path != "dem.asc" || cfg.DEM.Bounds.MaxX != 100 {
		t.Fatalf("unexpected dem %+v", cfg.DEM)
	}
	if cfg.Log.Format != "text" || cfg.Log.Level != "debug" {
		t.Fatalf("defaults not kept under file values: %+v", cfg.Log)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	formats, err := cfg.ExportFormats()
	if err != nil || len(formats) != 2 || formats[1] != artifacts.FormatPNG {
		t.Fatalf("unexpected formats %v %v", formats, err)
	}
	if opts := cfg.StorageOptions(); opts.Driver != core.StorageSQLite || opts.SQLitePath != "runs.db" {
		t.Fatalf("unexpected storage options %+v", opts)
	}
	if req := cfg.Request(); req.Bounds.MaxY != 50 {
		t.Fatalf("unexpected request %+v", req)
	}
	if cfg.Export.Timeout != 30*time.Second || cfg.Trace.File != "spans.jsonl" || cfg.Metrics.Backend != MetricsPrometheus {
		t.Fatalf("unexpected export/trace/metrics %+v %+v %+v", cfg.Export, cfg.Trace, cfg.Metrics)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	if _, err := Load(writeConfig(t, "dem:\n  pth: x.asc\n")); err == nil {
		t.Fatalf("expected error for misspelt key")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	cfg, err := Load(writeConfig(t, ""))
	if err != nil || cfg.DEM.Source != SourceFile {
		t.Fatalf("empty file should yield defaults, got %+v %v", cfg, err)
	}
}

func TestCoreParamsConvertsArea(t *testing.T) {
	cfg := Default()
	cfg.Params.StreamAreaKm2 = 0.01
	p, err := cfg.CoreParams(100)
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if p.StreamThreshold != 100 {
		t.Fatalf("0.01 km² over 100 m² cells = %d cells, want 100", p.StreamThreshold)
	}

	cfg.Params = Params{StreamThreshold: 7, Workers: 3, FailFast: true}
	p, err = cfg.CoreParams(100)
	if err != nil || p.StreamThreshold != 7 || p.Workers != 3 || !p.FailFast {
		t.Fatalf("unexpected params %+v %v", p, err)
	}

	cfg.Params = Params{}
	if _, err := cfg.CoreParams(100); !errors.Is(err, hydro.ErrInvalidThreshold) {
		t.Fatalf("expected ErrInvalidThreshold without threshold, got %v", err)
	}
}

func TestValidateJoinsProblems(t *testing.T) {
	cfg := Default()
	cfg.DEM.Source = "ftp"
	cfg.Params.SnapDistance = -1
	cfg.Storage.Driver = "mongo"
	cfg.Blob.Driver = "gcs"
	cfg.Export.Formats = []string{"xlsx"}
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"
	cfg.Export.Timeout = -time.Second
	cfg.Metrics.Backend = "statsd"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"dem.source", "points.path", "stream_threshold", "snap distance", "storage.driver", "blob.driver", "xlsx", "log.level", "log.format", "export.timeout", "metrics.backend"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("validation error missing %q:\n%v", want, err)
		}
	}
	if !errors.Is(err, hydro.ErrInvalidThreshold) {
		t.Fatalf("missing threshold should match ErrInvalidThreshold")
	}

	both := Default()
	both.DEM.Path, both.Points.Path = "d.asc", "p.csv"
	both.Params.StreamThreshold, both.Params.StreamAreaKm2 = 10, 1
	if err := both.Validate(); err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("expected mutual exclusion error, got %v", err)
	}

	blobSrc := Default()
	blobSrc.DEM.Source, blobSrc.Points.Path = SourceBlob, "p.csv"
	blobSrc.Params.StreamThreshold = 5
	if err := blobSrc.Validate(); err != nil {
		t.Fatalf("blob source without path should validate: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	err = ApplyEnv(&cfg, env(map[string]string{
		EnvDEMPath:         "other.wsr",
		EnvStreamThreshold: "250",
		EnvWorkers:         "4",
		EnvExportFormats:   "csv, wsr",
		EnvExportTimeout:   "90s",
		EnvMetricsBackend:  MetricsExpvar,
		EnvTraceFile:       "trace.jsonl",
		EnvLogLevel:        "",
	}))
	if err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.DEM.Path != "other.wsr" || cfg.Params.Workers != 4 {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.Params.StreamThreshold != 250 || cfg.Params.StreamAreaKm2 != 0 {
		t.Fatalf("env threshold should replace file area: %+v", cfg.Params)
	}
	if len(cfg.Export.Formats) != 2 || cfg.Export.Formats[1] != "wsr" {
		t.Fatalf("unexpected formats %v", cfg.Export.Formats)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("empty env var should not override, got %q", cfg.Log.Level)
	}
	if cfg.Export.Timeout != 90*time.Second || cfg.Metrics.Backend != MetricsExpvar || cfg.Trace.File != "trace.jsonl" {
		t.Fatalf("env not applied: %+v %+v %+v", cfg.Export, cfg.Metrics, cfg.Trace)
	}

	err = ApplyEnv(&cfg, env(map[string]string{EnvWorkers: "many", EnvSnapDistance: "far", EnvExportTimeout: "soon"}))
	if err == nil || !strings.Contains(err.Error(), EnvWorkers) || !strings.Contains(err.Error(), EnvSnapDistance) || !strings.Contains(err.Error(), EnvExportTimeout) {
		t.Fatalf("expected both malformed variables reported, got %v", err)
	}
}

func TestFlagsOverrideOnlyWhenSet(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	fs := pflag.NewFlagSet("watershed", pflag.ContinueOnError)
	flags := RegisterFlags(fs)
	if err := fs.Parse([]string{"--config", path, "-t", "40", "--export", "asc", "--log-format=json", "--metrics-backend", "expvar"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if flags.ConfigPath() != path {
		t.Fatalf("config path = %q", flags.ConfigPath())
	}
	cfg, err := flags.Resolve(env(map[string]string{EnvSnapDistance: "75"}))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Params.StreamThreshold != 40 || cfg.Params.StreamAreaKm2 != 0 {
		t.Fatalf("flag threshold should replace file area: %+v", cfg.Params)
	}
	if cfg.Params.SnapDistance != 75 || cfg.Params.BreachDistance != 10 {
		t.Fatalf("env and file values should survive unset flags: %+v", cfg.Params)
	}
	if len(cfg.Export.Formats) != 1 || cfg.Export.Formats[0] != "asc" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected overrides %+v %+v", cfg.Export, cfg.Log)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("unset --log-level default must not mask the file, got %q", cfg.Log.Level)
	}
	if cfg.Metrics.Backend != MetricsExpvar || cfg.Export.Timeout != 30*time.Second {
		t.Fatalf("unexpected metrics/export %+v %+v", cfg.Metrics, cfg.Export)
	}
}

func TestResolveReportsInvalidConfig(t *testing.T) {
	fs := pflag.NewFlagSet("watershed", pflag.ContinueOnError)
	flags := RegisterFlags(fs)
	if err := fs.Parse([]string{"--dem", "d.asc"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := flags.Resolve(env(nil)); err == nil {
		t.Fatalf("expected missing points and threshold to fail")
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := ParseLevel("warn"); err != nil || l != slog.LevelWarn {
		t.Fatalf("ParseLevel(warn) = %v, %v", l, err)
	}
	if _, err := ParseLevel("chatty"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
