package rasterio

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"watershed/pkg/raster"
)

// RenderPNG writes r as a grayscale preview stretched between its valid
// minimum (black) and maximum (white). No-data cells are transparent.
func RenderPNG(w io.Writer, r *raster.Raster) error {
	g := r.Geometry()
	img := image.NewNRGBA(image.Rect(0, 0, g.Cols, g.Rows))
	lo, hi, ok := r.Range()
	span := hi - lo
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			if !ok || !r.Valid(row, col) {
				continue
			}
			v := r.At(row, col)
			shade := uint8(0)
			switch {
			case math.IsInf(v, 1):
				shade = 255
			case math.IsInf(v, -1):
			case span > 0 && !math.IsInf(span, 0):
				shade = uint8(math.Round(255 * (v - lo) / span))
			}
			img.SetNRGBA(col, row, color.NRGBA{R: shade, G: shade, B: shade, A: 255})
		}
	}
	return png.Encode(w, img)
}

// RenderMaskPNG writes m with selected cells in c over a transparent
// background.
func RenderMaskPNG(w io.Writer, m *raster.Mask, c color.NRGBA) error {
	g := m.Geometry()
	img := image.NewNRGBA(image.Rect(0, 0, g.Cols, g.Rows))
	for _, i := range m.Cells() {
		row, col := g.RowCol(i)
		img.SetNRGBA(col, row, c)
	}
	return png.Encode(w, img)
}
