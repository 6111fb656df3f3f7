package rasterio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"watershed/pkg/raster"
)

// DefaultASCIINoData is assumed when an ASCII grid has no NODATA_value line.
const DefaultASCIINoData = -9999

type asciiHeader struct {
	cols, rows int
	x, y       float64
	centre     bool
	dx, dy     float64
	nodata     float64
	seen       map[string]bool
}

// ReadASCII decodes an ESRI ASCII grid. Both corner and centre registered
// headers are accepted, as are cellsize or dx/dy.
func ReadASCII(r io.Reader) (*raster.Raster, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	sc.Split(bufio.ScanWords)

	h := asciiHeader{nodata: DefaultASCIINoData, seen: map[string]bool{}}
	var pending string
	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		if !isHeaderKey(key) {
			pending = sc.Text()
			break
		}
		if !sc.Scan() {
			return nil, fmt.Errorf("ascii grid: header %s has no value", key)
		}
		if err := h.set(key, sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ascii grid: %w", err)
	}
	if err := h.complete(); err != nil {
		return nil, err
	}

	g := raster.Geometry{Rows: h.rows, Cols: h.cols, Transform: raster.Transform{
		OriginX:    h.x,
		OriginY:    h.y + float64(h.rows)*h.dy,
		CellWidth:  h.dx,
		CellHeight: h.dy,
	}}
	if h.centre {
		g.Transform.OriginX -= h.dx / 2
		g.Transform.OriginY -= h.dy / 2
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("ascii grid: %w", err)
	}

	vals := make([]float64, 0, min(g.Len(), readChunk))
	next := func(tok string) error {
		if len(vals) == g.Len() {
			return fmt.Errorf("ascii grid: more than %d values", g.Len())
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return fmt.Errorf("ascii grid: value %d: %w", len(vals), err)
		}
		vals = append(vals, v)
		return nil
	}
	if pending != "" {
		if err := next(pending); err != nil {
			return nil, err
		}
	}
	for sc.Scan() {
		if err := next(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ascii grid: %w", err)
	}
	if len(vals) != g.Len() {
		return nil, fmt.Errorf("ascii grid: got %d values, want %d", len(vals), g.Len())
	}
	return raster.Adopt(g, vals, h.nodata), nil
}

func isHeaderKey(k string) bool {
	switch k {
	case "ncols", "nrows", "xllcorner", "yllcorner", "xllcenter", "yllcenter", "cellsize", "dx", "dy", "nodata_value":
		return true
	}
	return false
}

func (h *asciiHeader) set(key, val string) error {
	if h.seen[key] {
		return fmt.Errorf("ascii grid: duplicate header %s", key)
	}
	h.seen[key] = true
	if key == "ncols" || key == "nrows" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("ascii grid: %s: %w", key, err)
		}
		if key == "ncols" {
			h.cols = n
		} else {
			h.rows = n
		}
		return nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fmt.Errorf("ascii grid: %s: %w", key, err)
	}
	switch key {
	case "xllcorner":
		h.x = f
	case "yllcorner":
		h.y = f
	case "xllcenter":
		h.x, h.centre = f, true
	case "yllcenter":
		h.y, h.centre = f, true
	case "cellsize":
		h.dx, h.dy = f, f
	case "dx":
		h.dx = f
	case "dy":
		h.dy = f
	case "nodata_value":
		h.nodata = f
	}
	return nil
}

func (h *asciiHeader) complete() error {
	var errs []error
	for _, k := range []string{"ncols", "nrows"} {
		if !h.seen[k] {
			errs = append(errs, fmt.Errorf("missing %s", k))
		}
	}
	if !(h.seen["xllcorner"] || h.seen["xllcenter"]) || !(h.seen["yllcorner"] || h.seen["yllcenter"]) {
		errs = append(errs, errors.New("missing lower-left corner"))
	}
	if h.seen["xllcorner"] && h.seen["yllcenter"] || h.seen["xllcenter"] && h.seen["yllcorner"] {
		errs = append(errs, errors.New("mixed corner and centre registration"))
	}
	if !h.seen["cellsize"] && !(h.seen["dx"] && h.seen["dy"]) {
		errs = append(errs, errors.New("missing cellsize"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("ascii grid header: %w", err)
	}
	return nil
}

// WriteASCII encodes r as a corner-registered ESRI ASCII grid. Cells that are
// no-data are written as the raster's no-data value; a NaN no-data value is
// replaced by DefaultASCIINoData since NaN is not portable in this format.
func WriteASCII(w io.Writer, r *raster.Raster) error {
	g := r.Geometry()
	t := g.Transform
	nodata := r.NoData()
	if math.IsNaN(nodata) {
		nodata = DefaultASCIINoData
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ncols %d\nnrows %d\n", g.Cols, g.Rows)
	fmt.Fprintf(bw, "xllcorner %s\nyllcorner %s\n", ff(t.OriginX), ff(t.OriginY-float64(g.Rows)*t.CellHeight))
	if t.CellWidth == t.CellHeight {
		fmt.Fprintf(bw, "cellsize %s\n", ff(t.CellWidth))
	} else {
		fmt.Fprintf(bw, "dx %s\ndy %s\n", ff(t.CellWidth), ff(t.CellHeight))
	}
	fmt.Fprintf(bw, "NODATA_value %s\n", ff(nodata))
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			if col > 0 {
				bw.WriteByte(' ')
			}
			v := r.At(row, col)
			if !r.Valid(row, col) {
				v = nodata
			}
			bw.WriteString(ff(v))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func ff(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
