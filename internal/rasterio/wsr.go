package rasterio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"watershed/pkg/raster"
)

// WSR1 layout, all little-endian:
//
//	"WSR1" | uint32 header length | JSON header | float64 no-data | rows*cols float64
//
// The no-data value sits outside the JSON header so NaN survives.
var wsrMagic = [4]byte{'W', 'S', 'R', '1'}

const maxWSRHeader = 1 << 20

// readChunk is how many cell values decoders allocate ahead of the data.
const readChunk = 1 << 16

// ErrNotWSR is returned when a stream does not start with the WSR1 magic.
var ErrNotWSR = errors.New("rasterio: not a WSR1 grid")

type wsrHeader struct {
	Geometry raster.Geometry `json:"geometry"`
	CRS      string          `json:"crs,omitempty"`
}

// WriteWSR encodes r in the native binary format.
func WriteWSR(w io.Writer, r *raster.Raster, crs string) error {
	hdr, err := json.Marshal(wsrHeader{Geometry: r.Geometry(), CRS: crs})
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	bw.Write(wsrMagic[:])
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(hdr))); err != nil {
		return err
	}
	bw.Write(hdr)
	if err := binary.Write(bw, binary.LittleEndian, r.NoData()); err != nil {
		return err
	}
	buf := make([]byte, 8)
	for i := 0; i < r.Geometry().Len(); i++ {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(r.AtIndex(i)))
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadWSR decodes a WSR1 grid and returns it with its CRS.
func ReadWSR(r io.Reader) (*raster.Raster, string, error) {
	br := bufio.NewReader(r)
	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, "", fmt.Errorf("wsr: magic: %w", err)
	}
	if magic != wsrMagic {
		return nil, "", ErrNotWSR
	}
	var n uint32
	if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
		return nil, "", fmt.Errorf("wsr: header length: %w", err)
	}
	if n == 0 || n > maxWSRHeader {
		return nil, "", fmt.Errorf("wsr: header length %d out of range", n)
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, "", fmt.Errorf("wsr: header: %w", err)
	}
	var hdr wsrHeader
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&hdr); err != nil {
		return nil, "", fmt.Errorf("wsr: header: %w", err)
	}
	if err := hdr.Geometry.Validate(); err != nil {
		return nil, "", fmt.Errorf("wsr: %w", err)
	}
	var nodata float64
	if err := binary.Read(br, binary.LittleEndian, &nodata); err != nil {
		return nil, "", fmt.Errorf("wsr: no-data: %w", err)
	}
	// grow with the data actually present so a truncated body fails early
	total := hdr.Geometry.Len()
	vals := make([]float64, 0, min(total, readChunk))
	buf := make([]float64, min(total, readChunk))
	for len(vals) < total {
		chunk := buf[:min(total-len(vals), len(buf))]
		if err := binary.Read(br, binary.LittleEndian, chunk); err != nil {
			return nil, "", fmt.Errorf("wsr: body at value %d: %w", len(vals), err)
		}
		vals = append(vals, chunk...)
	}
	return raster.Adopt(hdr.Geometry, vals, nodata), hdr.CRS, nil
}
