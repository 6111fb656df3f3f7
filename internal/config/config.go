// Package config assembles a pipeline configuration from a YAML file, WATERSHED_*
// environment variables and command line flags, in that order of precedence
// (flags win).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"watershed/internal/adapters/artifacts"
	"watershed/internal/blob"
	"watershed/internal/core"
	"watershed/internal/elevation"
	"watershed/internal/hydro"
	"watershed/pkg/raster"
)

// DEM sources.
const (
	SourceFile = "file" // one local ESRI ASCII or WSR1 file
	SourceBlob = "blob" // tiles mosaicked from the blob store
)

// Metrics backends.
const (
	MetricsPrometheus = "prometheus" // textfile in the Prometheus exposition format
	MetricsExpvar     = "expvar"     // textfile holding the expvar JSON snapshot
)

// DefaultExportTimeout bounds the wait for queued artifact exports.
const DefaultExportTimeout = 5 * time.Minute

// Config is everything one CLI run needs.
type Config struct {
	DEM     DEM     `yaml:"dem"`
	Points  Points  `yaml:"points"`
	Params  Params  `yaml:"params"`
	Storage Storage `yaml:"storage"`
	Blob    Blob    `yaml:"blob"`
	Export  Export  `yaml:"export"`
	Metrics Metrics `yaml:"metrics"`
	Trace   Trace   `yaml:"trace"`
	Log     Log     `yaml:"log"`
}

// DEM selects the elevation grid.
type DEM struct {
	Source     string        `yaml:"source"`
	Path       string        `yaml:"path"`
	Level      int           `yaml:"level"`
	TilePrefix string        `yaml:"tile_prefix"`
	Bounds     raster.Bounds `yaml:"bounds"`
	CRS        string        `yaml:"crs"`
}

// Points locates the pour point file (CSV or GeoJSON).
type Points struct {
	Path string `yaml:"path"`
}

// Params mirrors core.Params. The stream threshold is given either as a cell
// count or as a contributing area, never both.
type Params struct {
	StreamThreshold   int     `yaml:"stream_threshold"`
	StreamAreaKm2     float64 `yaml:"stream_area_km2"`
	SnapDistance      float64 `yaml:"snap_distance"`
	BreachDistance    int     `yaml:"breach_distance"`
	MaxFillIterations int     `yaml:"max_fill_iterations"`
	MinTanSlope       float64 `yaml:"min_tan_slope"`
	Workers           int     `yaml:"workers"`
	FailFast          bool    `yaml:"fail_fast"`
}

// Storage configures the run store. Empty fields defer to core.OpenRunStore's
// environment handling.
type Storage struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Blob configures the object store used for DEM tiles and artifacts.
type Blob struct {
	Driver string `yaml:"driver"`
	FSRoot string `yaml:"fs_root"`
}

// Export lists artifact formats; none disables export. Exports run on a
// background worker once the run finishes and the CLI waits up to Timeout
// for them; zero waits until interrupted.
type Export struct {
	Formats []string      `yaml:"formats"`
	Prefix  string        `yaml:"prefix"`
	Timeout time.Duration `yaml:"timeout"`
}

// Metrics selects the stage metrics recorder and the textfile it is written
// to after a run. An empty backend means prometheus.
type Metrics struct {
	Backend  string `yaml:"backend"`
	Textfile string `yaml:"textfile"`
}

// Trace names a file receiving one JSON line per finished stage span.
type Trace struct {
	File string `yaml:"file"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		DEM:     DEM{Source: SourceFile},
		Export:  Export{Timeout: DefaultExportTimeout},
		Metrics: Metrics{Backend: MetricsPrometheus},
		Log:     Log{Level: "info", Format: "text"},
	}
}

// Load reads path over Default. An empty path returns Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	// #nosec G304 -- the operator names the config file.
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := Decode(bytes.NewReader(data), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode overlays YAML from r onto cfg. Unknown keys are rejected.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	switch c.DEM.Source {
	case SourceFile:
		if c.DEM.Path == "" {
			errs = append(errs, errors.New("dem.path is required for a file source"))
		}
	case SourceBlob:
		if c.DEM.Level < 0 {
			errs = append(errs, fmt.Errorf("dem.level %d must be non-negative", c.DEM.Level))
		}
	default:
		errs = append(errs, fmt.Errorf("dem.source %q must be %s or %s", c.DEM.Source, SourceFile, SourceBlob))
	}
	if b := c.DEM.Bounds; b != (raster.Bounds{}) && b.Empty() {
		errs = append(errs, fmt.Errorf("dem.bounds %+v is empty", b))
	}
	if c.Points.Path == "" {
		errs = append(errs, errors.New("points.path is required"))
	}

	p := c.Params
	switch {
	case p.StreamThreshold == 0 && p.StreamAreaKm2 == 0:
		errs = append(errs, fmt.Errorf("%w: set params.stream_threshold or params.stream_area_km2", hydro.ErrInvalidThreshold))
	case p.StreamThreshold != 0 && p.StreamAreaKm2 != 0:
		errs = append(errs, errors.New("params.stream_threshold and params.stream_area_km2 are mutually exclusive"))
	case p.StreamThreshold < 0:
		errs = append(errs, fmt.Errorf("%w: stream threshold %d", hydro.ErrInvalidThreshold, p.StreamThreshold))
	case p.StreamAreaKm2 < 0:
		errs = append(errs, fmt.Errorf("%w: stream area %g km²", hydro.ErrInvalidThreshold, p.StreamAreaKm2))
	}
	probe := p.toCore(1)
	if err := probe.Validate(); err != nil {
		errs = append(errs, err)
	}

	switch core.StorageDriver(c.Storage.Driver) {
	case "", core.StorageMemory, core.StorageSQLite, core.StoragePostgres:
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is unknown", c.Storage.Driver))
	}
	switch blob.Driver(c.Blob.Driver) {
	case "", blob.DriverFilesystem, blob.DriverS3, blob.DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("blob.driver %q is unknown", c.Blob.Driver))
	}
	if _, err := c.ExportFormats(); err != nil {
		errs = append(errs, err)
	}
	if c.Export.Timeout < 0 {
		errs = append(errs, fmt.Errorf("export.timeout %v must not be negative", c.Export.Timeout))
	}
	switch c.Metrics.Backend {
	case "", MetricsPrometheus, MetricsExpvar:
	default:
		errs = append(errs, fmt.Errorf("metrics.backend %q must be prometheus or expvar", c.Metrics.Backend))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := c.Log.Format; f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", f))
	}
	return errors.Join(errs...)
}

// toCore converts to service parameters, with threshold standing in for a
// threshold given as an area.
func (p Params) toCore(threshold int) core.Params {
	if p.StreamThreshold > 0 {
		threshold = p.StreamThreshold
	}
	return core.Params{
		StreamThreshold:   threshold,
		SnapDistance:      p.SnapDistance,
		BreachDistance:    p.BreachDistance,
		MaxFillIterations: p.MaxFillIterations,
		MinTanSlope:       p.MinTanSlope,
		Workers:           p.Workers,
		FailFast:          p.FailFast,
	}
}

// CoreParams resolves the service parameters for a DEM whose cells cover
// cellArea m². An area threshold is converted to a cell count here.
func (c Config) CoreParams(cellArea float64) (core.Params, error) {
	if c.Params.StreamThreshold > 0 {
		return c.Params.toCore(0), nil
	}
	n, err := hydro.ThresholdFromArea(c.Params.StreamAreaKm2, cellArea)
	if err != nil {
		return core.Params{}, err
	}
	return c.Params.toCore(n), nil
}

// StorageOptions returns the run store selection.
func (c Config) StorageOptions() core.StorageOptions {
	return core.StorageOptions{
		Driver:      core.StorageDriver(c.Storage.Driver),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
	}
}

// BlobOptions returns the object store selection.
func (c Config) BlobOptions() blob.Options {
	return blob.Options{Driver: blob.Driver(c.Blob.Driver), FSRoot: c.Blob.FSRoot}
}

// Request returns the elevation request.
func (c Config) Request() elevation.Request {
	return elevation.Request{Bounds: c.DEM.Bounds, Level: c.DEM.Level}
}

// ExportFormats parses Export.Formats.
func (c Config) ExportFormats() ([]artifacts.Format, error) {
	return artifacts.ParseFormats(strings.Join(c.Export.Formats, ","))
}

// ParseLevel maps a level name to slog.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}
