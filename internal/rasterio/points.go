package rasterio

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"watershed/internal/hydro"
)

// ErrNoPoints is returned when a pour point file holds no points.
var ErrNoPoints = errors.New("rasterio: no pour points")

// ReadPointsCSV reads pour points from CSV with a header row naming at least
// label, x and y; an optional crs column is carried through. Column order is
// free and matching is case-insensitive.
func ReadPointsCSV(r io.Reader) ([]hydro.PourPoint, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoPoints
	}
	if err != nil {
		return nil, fmt.Errorf("points csv: header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, want := range []string{"label", "x", "y"} {
		if _, ok := col[want]; !ok {
			return nil, fmt.Errorf("points csv: missing %q column", want)
		}
	}
	crsCol, hasCRS := col["crs"]

	var pts []hydro.PourPoint
	seen := map[string]bool{}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("points csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		p := hydro.PourPoint{Label: strings.TrimSpace(rec[col["label"]])}
		if p.Label == "" {
			return nil, fmt.Errorf("points csv: line %d: empty label", line)
		}
		if seen[p.Label] {
			return nil, fmt.Errorf("points csv: line %d: duplicate label %q", line, p.Label)
		}
		seen[p.Label] = true
		if p.X, err = parseCoord(rec[col["x"]]); err != nil {
			return nil, fmt.Errorf("points csv: line %d: x: %w", line, err)
		}
		if p.Y, err = parseCoord(rec[col["y"]]); err != nil {
			return nil, fmt.Errorf("points csv: line %d: y: %w", line, err)
		}
		if hasCRS {
			p.CRS = strings.TrimSpace(rec[crsCol])
		}
		pts = append(pts, p)
	}
	if len(pts) == 0 {
		return nil, ErrNoPoints
	}
	return pts, nil
}

// WritePointsCSV writes pts with a label,x,y,crs header.
func WritePointsCSV(w io.Writer, pts []hydro.PourPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"label", "x", "y", "crs"}); err != nil {
		return err
	}
	for _, p := range pts {
		if err := cw.Write([]string{p.Label, ff(p.X), ff(p.Y), p.CRS}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseCoord(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("coordinate %q is not finite", s)
	}
	return v, nil
}

type featureCollection struct {
	Type     string    `json:"type"`
	CRS      *namedCRS `json:"crs,omitempty"`
	Features []feature `json:"features"`
}

type namedCRS struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

type feature struct {
	Type       string         `json:"type"`
	Geometry   pointGeometry  `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type pointGeometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// ReadPointsGeoJSON reads a FeatureCollection of Point features. The label
// comes from properties.label (or properties.name); a per-feature
// properties.crs overrides the collection's named crs member.
func ReadPointsGeoJSON(r io.Reader) ([]hydro.PourPoint, error) {
	var fc featureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, fmt.Errorf("points geojson: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("points geojson: type %q, want FeatureCollection", fc.Type)
	}
	defaultCRS := ""
	if fc.CRS != nil {
		defaultCRS = fc.CRS.Properties.Name
	}
	pts := make([]hydro.PourPoint, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f.Geometry.Type != "Point" || len(f.Geometry.Coordinates) < 2 {
			return nil, fmt.Errorf("points geojson: feature %d is not a point", i)
		}
		p := hydro.PourPoint{X: f.Geometry.Coordinates[0], Y: f.Geometry.Coordinates[1], CRS: defaultCRS}
		p.Label = stringProp(f.Properties, "label")
		if p.Label == "" {
			p.Label = stringProp(f.Properties, "name")
		}
		if p.Label == "" {
			p.Label = fmt.Sprintf("point-%d", i+1)
		}
		if crs := stringProp(f.Properties, "crs"); crs != "" {
			p.CRS = crs
		}
		pts = append(pts, p)
	}
	if len(pts) == 0 {
		return nil, ErrNoPoints
	}
	return pts, nil
}

// WritePointsGeoJSON writes pts as a FeatureCollection, labels and CRS in
// the feature properties.
func WritePointsGeoJSON(w io.Writer, pts []hydro.PourPoint) error {
	fc := featureCollection{Type: "FeatureCollection", Features: make([]feature, 0, len(pts))}
	for _, p := range pts {
		props := map[string]any{"label": p.Label}
		if p.CRS != "" {
			props["crs"] = p.CRS
		}
		fc.Features = append(fc.Features, feature{
			Type:       "Feature",
			Geometry:   pointGeometry{Type: "Point", Coordinates: []float64{p.X, p.Y}},
			Properties: props,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(fc)
}

func stringProp(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
