package config

import (
	"github.com/spf13/pflag"
)

// Flags holds command line overrides. Only flags the user set are applied, so
// unset flags never mask file or environment values.
type Flags struct {
	fs  *pflag.FlagSet
	cfg Config

	configPath string
	exports    []string
}

// RegisterFlags defines the override flags on fs.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	c := &f.cfg
	fs.StringVarP(&f.configPath, "config", "c", "", "YAML configuration file")
	fs.StringVar(&c.DEM.Source, "dem-source", SourceFile, "where the DEM comes from: file or blob")
	fs.StringVarP(&c.DEM.Path, "dem", "d", "", "DEM file (ESRI ASCII .asc or WSR1 .wsr)")
	fs.IntVar(&c.DEM.Level, "dem-level", 0, "tile level when --dem-source=blob")
	fs.StringVar(&c.DEM.TilePrefix, "dem-tile-prefix", "", "key prefix of DEM tiles in the blob store")
	fs.Float64Var(&c.DEM.Bounds.MinX, "min-x", 0, "crop bounds: minimum x")
	fs.Float64Var(&c.DEM.Bounds.MinY, "min-y", 0, "crop bounds: minimum y")
	fs.Float64Var(&c.DEM.Bounds.MaxX, "max-x", 0, "crop bounds: maximum x")
	fs.Float64Var(&c.DEM.Bounds.MaxY, "max-y", 0, "crop bounds: maximum y")
	fs.StringVar(&c.DEM.CRS, "crs", "", "CRS of the DEM; pour points declaring another CRS fail")
	fs.StringVarP(&c.Points.Path, "points", "p", "", "pour points file (.csv or .geojson)")
	fs.IntVarP(&c.Params.StreamThreshold, "stream-threshold", "t", 0, "upstream cells needed to start a stream")
	fs.Float64Var(&c.Params.StreamAreaKm2, "stream-area-km2", 0, "upstream area in km² needed to start a stream")
	fs.Float64Var(&c.Params.SnapDistance, "snap-distance", 0, "pour point snap radius in map units")
	fs.IntVar(&c.Params.BreachDistance, "breach-distance", 0, "breach search radius in cells (0 fills only)")
	fs.IntVar(&c.Params.MaxFillIterations, "max-fill-iterations", 0, "cap on verified fill passes (0 = default)")
	fs.Float64Var(&c.Params.MinTanSlope, "min-tan-slope", 0, "floor for tan(slope) in the wetness index (0 = default)")
	fs.IntVarP(&c.Params.Workers, "workers", "w", 0, "parallel workers per stage (0 = GOMAXPROCS)")
	fs.BoolVar(&c.Params.FailFast, "fail-fast", false, "stop at the first pour point failure")
	fs.StringVar(&c.Storage.Driver, "storage", "", "run store: memory, sqlite or postgres")
	fs.StringVar(&c.Storage.SQLitePath, "sqlite-path", "", "sqlite file for --storage=sqlite")
	fs.StringVar(&c.Storage.PostgresDSN, "postgres-dsn", "", "DSN for --storage=postgres")
	fs.StringVar(&c.Blob.Driver, "blob", "", "blob store: fs, s3 or memory")
	fs.StringVar(&c.Blob.FSRoot, "blob-root", "", "root directory for --blob=fs")
	fs.StringSliceVarP(&f.exports, "export", "e", nil, "artifact formats to export: json,csv,png,asc,wsr")
	fs.StringVar(&c.Export.Prefix, "export-prefix", "", "key prefix for exported artifacts (default runs)")
	fs.DurationVar(&c.Export.Timeout, "export-timeout", DefaultExportTimeout, "how long to wait for queued exports (0 = no limit)")
	fs.StringVar(&c.Metrics.Backend, "metrics-backend", MetricsPrometheus, "stage metrics recorder: prometheus or expvar")
	fs.StringVar(&c.Metrics.Textfile, "metrics-textfile", "", "write stage metrics to this file after the run")
	fs.StringVar(&c.Trace.File, "trace-file", "", "write stage spans as JSON lines to this file")
	fs.StringVar(&c.Log.Level, "log-level", "info", "debug, info, warn or error")
	fs.StringVar(&c.Log.Format, "log-format", "text", "text or json")
	return f
}

// ConfigPath is the --config value.
func (f *Flags) ConfigPath() string { return f.configPath }

// Apply copies every flag the user set onto c.
func (f *Flags) Apply(c *Config) {
	set := func(name string, apply func()) {
		if f.fs.Changed(name) {
			apply()
		}
	}
	s := &f.cfg
	set("dem-source", func() { c.DEM.Source = s.DEM.Source })
	set("dem", func() { c.DEM.Path = s.DEM.Path })
	set("dem-level", func() { c.DEM.Level = s.DEM.Level })
	set("dem-tile-prefix", func() { c.DEM.TilePrefix = s.DEM.TilePrefix })
	set("min-x", func() { c.DEM.Bounds.MinX = s.DEM.Bounds.MinX })
	set("min-y", func() { c.DEM.Bounds.MinY = s.DEM.Bounds.MinY })
	set("max-x", func() { c.DEM.Bounds.MaxX = s.DEM.Bounds.MaxX })
	set("max-y", func() { c.DEM.Bounds.MaxY = s.DEM.Bounds.MaxY })
	set("crs", func() { c.DEM.CRS = s.DEM.CRS })
	set("points", func() { c.Points.Path = s.Points.Path })
	set("stream-threshold", func() {
		c.Params.StreamThreshold = s.Params.StreamThreshold
		if !f.fs.Changed("stream-area-km2") {
			c.Params.StreamAreaKm2 = 0
		}
	})
	set("stream-area-km2", func() {
		c.Params.StreamAreaKm2 = s.Params.StreamAreaKm2
		if !f.fs.Changed("stream-threshold") {
			c.Params.StreamThreshold = 0
		}
	})
	set("snap-distance", func() { c.Params.SnapDistance = s.Params.SnapDistance })
	set("breach-distance", func() { c.Params.BreachDistance = s.Params.BreachDistance })
	set("max-fill-iterations", func() { c.Params.MaxFillIterations = s.Params.MaxFillIterations })
	set("min-tan-slope", func() { c.Params.MinTanSlope = s.Params.MinTanSlope })
	set("workers", func() { c.Params.Workers = s.Params.Workers })
	set("fail-fast", func() { c.Params.FailFast = s.Params.FailFast })
	set("storage", func() { c.Storage.Driver = s.Storage.Driver })
	set("sqlite-path", func() { c.Storage.SQLitePath = s.Storage.SQLitePath })
	set("postgres-dsn", func() { c.Storage.PostgresDSN = s.Storage.PostgresDSN })
	set("blob", func() { c.Blob.Driver = s.Blob.Driver })
	set("blob-root", func() { c.Blob.FSRoot = s.Blob.FSRoot })
	set("export", func() { c.Export.Formats = append([]string(nil), f.exports...) })
	set("export-prefix", func() { c.Export.Prefix = s.Export.Prefix })
	set("export-timeout", func() { c.Export.Timeout = s.Export.Timeout })
	set("metrics-backend", func() { c.Metrics.Backend = s.Metrics.Backend })
	set("metrics-textfile", func() { c.Metrics.Textfile = s.Metrics.Textfile })
	set("trace-file", func() { c.Trace.File = s.Trace.File })
	set("log-level", func() { c.Log.Level = s.Log.Level })
	set("log-format", func() { c.Log.Format = s.Log.Format })
}

// Resolve builds the effective configuration once fs has been parsed: the
// --config file over Default, then the environment, then the flags.
func (f *Flags) Resolve(lookup func(string) (string, bool)) (Config, error) {
	cfg, err := Load(f.configPath)
	if err != nil {
		return cfg, err
	}
	if err := ApplyEnv(&cfg, lookup); err != nil {
		return cfg, err
	}
	f.Apply(&cfg)
	return cfg, cfg.Validate()
}
