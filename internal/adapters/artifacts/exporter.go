// Package artifacts renders a finished watershed run into files (summaries,
// watershed masks and the wetness grid) and stores them in an object store
// under runs/<run id>/.
package artifacts

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"watershed/internal/core"
	"watershed/internal/rasterio"
	"watershed/pkg/domain"
	"watershed/pkg/raster"
)

// Format names one kind of artifact.
type Format string

const (
	FormatJSON Format = "json" // run record
	FormatCSV  Format = "csv"  // one row per pour point
	FormatPNG  Format = "png"  // mask previews and wetness preview
	FormatASC  Format = "asc"  // watershed masks as ESRI ASCII grids
	FormatWSR  Format = "wsr"  // wetness index grid
)

// DefaultFormats is what Export produces when no formats are requested.
var DefaultFormats = []Format{FormatJSON, FormatCSV}

// ParseFormats parses a comma separated format list. Duplicates are dropped.
func ParseFormats(s string) ([]Format, error) {
	var out []Format
	seen := make(map[Format]struct{})
	for _, part := range strings.Split(s, ",") {
		f := Format(strings.ToLower(strings.TrimSpace(part)))
		if f == "" {
			continue
		}
		if !f.valid() {
			return nil, fmt.Errorf("unsupported artifact format %q", part)
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out, nil
}

func (f Format) valid() bool {
	switch f {
	case FormatJSON, FormatCSV, FormatPNG, FormatASC, FormatWSR:
		return true
	}
	return false
}

// Artifact describes a stored file.
type Artifact struct {
	Key         string            `json:"key"`
	Format      Format            `json:"format"`
	Label       string            `json:"label,omitempty"`
	ContentType string            `json:"content_type"`
	SizeBytes   int64             `json:"size_bytes"`
	URL         string            `json:"url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

const (
	metaRun    = "run"
	metaFormat = "format"
	metaLabel  = "label"
)

// MaskColor is the fill used for watershed mask previews.
var MaskColor = color.NRGBA{R: 0, G: 102, B: 204, A: 255}

// ErrNothingToExport is returned when a run has no surface or records to render.
var ErrNothingToExport = errors.New("artifacts: nothing to export")

// Exporter renders runs into artifacts.
type Exporter struct {
	store  ObjectStore
	logger core.Logger
	prefix string
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithLogger sets the logger. Nil keeps the discard logger.
func WithLogger(l core.Logger) ExporterOption {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPrefix replaces the "runs" key prefix.
func WithPrefix(prefix string) ExporterOption {
	return func(e *Exporter) { e.prefix = strings.Trim(prefix, "/") }
}

// NewExporter builds an exporter writing to store.
func NewExporter(store ObjectStore, opts ...ExporterOption) *Exporter {
	e := &Exporter{store: store, logger: slog.New(slog.DiscardHandler), prefix: "runs"}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunPrefix is the key prefix all artifacts of runID live under.
func (e *Exporter) RunPrefix(runID string) string {
	if e.prefix == "" {
		return runID + "/"
	}
	return e.prefix + "/" + runID + "/"
}

type rendered struct {
	key         string
	format      Format
	label       string
	contentType string
	payload     []byte
}

// Export renders res in the requested formats and stores every artifact.
// Grid formats need res.Surface; masks are written for delineated points only.
// On a store failure the artifacts written so far are returned with the error.
func (e *Exporter) Export(ctx context.Context, res *core.Result, formats []Format) ([]Artifact, error) {
	if res == nil {
		return nil, ErrNothingToExport
	}
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	items, err := e.render(res, formats)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNothingToExport
	}
	out := make([]Artifact, 0, len(items))
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		meta := map[string]string{metaRun: res.Run.ID, metaFormat: string(it.format)}
		if it.label != "" {
			meta[metaLabel] = it.label
		}
		art, err := e.store.Put(ctx, it.key, it.payload, it.contentType, meta)
		if err != nil {
			e.logger.Error("artifact store failed", "run", res.Run.ID, "key", it.key, "error", err)
			return out, fmt.Errorf("store artifact %s: %w", it.key, err)
		}
		art.Format, art.Label = it.format, it.label
		if art.SizeBytes == 0 {
			art.SizeBytes = int64(len(it.payload))
		}
		if art.ContentType == "" {
			art.ContentType = it.contentType
		}
		out = append(out, art)
	}
	e.logger.Info("artifacts exported", "run", res.Run.ID, "count", len(out))
	return out, nil
}

func (e *Exporter) render(res *core.Result, formats []Format) ([]rendered, error) {
	base := e.RunPrefix(res.Run.ID)
	names := maskNames(res.Watersheds)
	var out []rendered
	for _, f := range formats {
		switch f {
		case FormatJSON:
			payload, err := json.MarshalIndent(res.Run, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("marshal run: %w", err)
			}
			out = append(out, rendered{key: base + "run.json", format: f, contentType: "application/json", payload: payload})
		case FormatCSV:
			payload, err := recordsCSV(res.Run.Watersheds)
			if err != nil {
				return nil, err
			}
			out = append(out, rendered{key: base + "watersheds.csv", format: f, contentType: "text/csv", payload: payload})
		case FormatPNG:
			if res.Surface != nil && res.Surface.Wetness != nil {
				var buf bytes.Buffer
				if err := rasterio.RenderPNG(&buf, res.Surface.Wetness); err != nil {
					return nil, fmt.Errorf("render wetness: %w", err)
				}
				out = append(out, rendered{key: base + "wetness.png", format: f, contentType: "image/png", payload: buf.Bytes()})
			}
			for i, w := range res.Watersheds {
				if w.Err != nil || w.Mask == nil {
					continue
				}
				var buf bytes.Buffer
				if err := rasterio.RenderMaskPNG(&buf, w.Mask, MaskColor); err != nil {
					return nil, fmt.Errorf("render mask %s: %w", w.Point.Label, err)
				}
				out = append(out, rendered{key: base + "masks/" + names[i] + ".png", format: f, label: w.Point.Label, contentType: "image/png", payload: buf.Bytes()})
			}
		case FormatASC:
			for i, w := range res.Watersheds {
				if w.Err != nil || w.Mask == nil {
					continue
				}
				var buf bytes.Buffer
				if err := rasterio.WriteASCII(&buf, maskRaster(w.Mask)); err != nil {
					return nil, fmt.Errorf("write mask %s: %w", w.Point.Label, err)
				}
				out = append(out, rendered{key: base + "masks/" + names[i] + ".asc", format: f, label: w.Point.Label, contentType: "text/plain", payload: buf.Bytes()})
			}
		case FormatWSR:
			if res.Surface == nil || res.Surface.Wetness == nil {
				continue
			}
			var buf bytes.Buffer
			if err := rasterio.WriteWSR(&buf, res.Surface.Wetness, runCRS(res)); err != nil {
				return nil, fmt.Errorf("write wetness: %w", err)
			}
			out = append(out, rendered{key: base + "wetness.wsr", format: f, contentType: "application/octet-stream", payload: buf.Bytes()})
		default:
			return nil, fmt.Errorf("unsupported artifact format %q", f)
		}
	}
	return out, nil
}

// MaskNoData marks cells outside a watershed in exported mask grids.
const MaskNoData = -9999

func maskRaster(m *raster.Mask) *raster.Raster {
	g := m.Geometry()
	vals := make([]float64, g.Len())
	for i := range vals {
		if m.AtIndex(i) {
			vals[i] = 1
		} else {
			vals[i] = MaskNoData
		}
	}
	return raster.Adopt(g, vals, MaskNoData)
}

func runCRS(res *core.Result) string {
	for _, w := range res.Run.Watersheds {
		if w.CRS != "" {
			return w.CRS
		}
	}
	return ""
}

// maskNames derives unique key-safe names from pour point labels.
func maskNames(ws []core.Watershed) []string {
	names := make([]string, len(ws))
	seen := make(map[string]int)
	for i, w := range ws {
		n := safeName(w.Point.Label)
		if n == "" {
			n = "point-" + strconv.Itoa(i+1)
		}
		if c := seen[n]; c > 0 {
			seen[n] = c + 1
			n = n + "-" + strconv.Itoa(c+1)
		} else {
			seen[n] = 1
		}
		names[i] = n
	}
	return names
}

func safeName(label string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(label) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), ".")
}

var csvHeader = []string{
	"label", "crs", "x", "y", "snapped_x", "snapped_y", "row", "col",
	"snap_distance", "accumulation", "cells", "area_m2",
	"mean_twi", "stddev_twi", "min_twi", "max_twi", "mean_slope_deg", "error",
}

func recordsCSV(records []domain.WatershedRecord) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, r := range records {
		row := []string{
			r.Label, r.CRS, ff(r.X), ff(r.Y), ff(r.SnappedX), ff(r.SnappedY),
			strconv.Itoa(r.Row), strconv.Itoa(r.Col),
			ff(r.SnapDistance), strconv.Itoa(r.Accumulation), strconv.Itoa(r.Cells), ff(r.AreaM2),
			ff(r.MeanTWI), ff(r.StdDevTWI), ff(r.MinTWI), ff(r.MaxTWI), ff(r.MeanSlope), r.Error,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ff(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
