package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by ApplyEnv. Storage and blob backends read
// their own WATERSHED_STORAGE_* and WATERSHED_BLOB_* variables when opened.
const (
	EnvDEMSource       = "WATERSHED_DEM_SOURCE"
	EnvDEMPath         = "WATERSHED_DEM"
	EnvDEMLevel        = "WATERSHED_DEM_LEVEL"
	EnvDEMCRS          = "WATERSHED_DEM_CRS"
	EnvPoints          = "WATERSHED_POINTS"
	EnvStreamThreshold = "WATERSHED_STREAM_THRESHOLD"
	EnvStreamAreaKm2   = "WATERSHED_STREAM_AREA_KM2"
	EnvSnapDistance    = "WATERSHED_SNAP_DISTANCE"
	EnvBreachDistance  = "WATERSHED_BREACH_DISTANCE"
	EnvWorkers         = "WATERSHED_WORKERS"
	EnvExportFormats   = "WATERSHED_EXPORT_FORMATS"
	EnvExportTimeout   = "WATERSHED_EXPORT_TIMEOUT"
	EnvMetricsBackend  = "WATERSHED_METRICS_BACKEND"
	EnvMetricsTextfile = "WATERSHED_METRICS_TEXTFILE"
	EnvTraceFile       = "WATERSHED_TRACE_FILE"
	EnvLogLevel        = "WATERSHED_LOG_LEVEL"
	EnvLogFormat       = "WATERSHED_LOG_FORMAT"
)

// ApplyEnv overlays set variables onto c. lookup is usually os.LookupEnv.
// Malformed numbers are reported together.
func ApplyEnv(c *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	float := func(key string, dst *float64) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}

	str(EnvDEMSource, &c.DEM.Source)
	str(EnvDEMPath, &c.DEM.Path)
	integer(EnvDEMLevel, &c.DEM.Level)
	str(EnvDEMCRS, &c.DEM.CRS)
	str(EnvPoints, &c.Points.Path)
	integer(EnvStreamThreshold, &c.Params.StreamThreshold)
	float(EnvStreamAreaKm2, &c.Params.StreamAreaKm2)
	// a threshold from one layer replaces the other form from a lower layer
	set := func(key string) bool {
		v, ok := lookup(key)
		return ok && v != ""
	}
	byCount, byArea := set(EnvStreamThreshold), set(EnvStreamAreaKm2)
	switch {
	case byCount && !byArea:
		c.Params.StreamAreaKm2 = 0
	case byArea && !byCount:
		c.Params.StreamThreshold = 0
	}
	duration := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	float(EnvSnapDistance, &c.Params.SnapDistance)
	integer(EnvBreachDistance, &c.Params.BreachDistance)
	integer(EnvWorkers, &c.Params.Workers)
	if v, ok := lookup(EnvExportFormats); ok && v != "" {
		c.Export.Formats = splitList(v)
	}
	duration(EnvExportTimeout, &c.Export.Timeout)
	str(EnvMetricsBackend, &c.Metrics.Backend)
	str(EnvMetricsTextfile, &c.Metrics.Textfile)
	str(EnvTraceFile, &c.Trace.File)
	str(EnvLogLevel, &c.Log.Level)
	str(EnvLogFormat, &c.Log.Format)
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
