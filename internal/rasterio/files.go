package rasterio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"watershed/internal/hydro"
	"watershed/pkg/raster"
)

// Format names a raster encoding.
type Format string

const (
	FormatASCII Format = "asc"
	FormatWSR   Format = "wsr"
)

// FormatOf infers a raster format from a file name.
func FormatOf(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".asc", ".txt":
		return FormatASCII, nil
	case ".wsr":
		return FormatWSR, nil
	}
	return "", fmt.Errorf("rasterio: unknown raster format for %q", name)
}

// ReadRasterFile reads a raster in the format implied by its extension. The
// CRS is empty for ASCII grids.
func ReadRasterFile(path string) (*raster.Raster, string, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	if format == FormatWSR {
		return ReadWSR(f)
	}
	r, err := ReadASCII(f)
	return r, "", err
}

// WriteRasterFile writes r in the format implied by the extension of path.
func WriteRasterFile(path string, r *raster.Raster, crs string) (err error) {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if format == FormatWSR {
		return WriteWSR(f, r, crs)
	}
	return WriteASCII(f, r)
}

// ReadPointsFile reads pour points from a .csv or .geojson/.json file.
func ReadPointsFile(path string) ([]hydro.PourPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadPointsCSV(f)
	case ".geojson", ".json":
		return ReadPointsGeoJSON(f)
	}
	return nil, fmt.Errorf("rasterio: unknown pour point format for %q", path)
}
