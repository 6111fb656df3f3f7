package raster

import "fmt"

// Mask is an immutable boolean grid.
type Mask struct {
	geom  Geometry
	bits  []bool
	count int
}

// NewMask builds a mask from a copy of cells.
func NewMask(g Geometry, cells []bool) (*Mask, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if len(cells) != g.Len() {
		return nil, fmt.Errorf("raster: %d cells for %dx%d mask", len(cells), g.Rows, g.Cols)
	}
	cp := make([]bool, len(cells))
	copy(cp, cells)
	return AdoptMask(g, cp), nil
}

// AdoptMask wraps cells without copying; see Adopt.
func AdoptMask(g Geometry, cells []bool) *Mask {
	n := 0
	for _, b := range cells {
		if b {
			n++
		}
	}
	return &Mask{geom: g, bits: cells, count: n}
}

// Geometry returns the mask geometry.
func (m *Mask) Geometry() Geometry { return m.geom }

// At reports whether (row, col) is set. Out-of-bounds cells are unset.
func (m *Mask) At(row, col int) bool {
	return m.geom.InBounds(row, col) && m.bits[m.geom.Index(row, col)]
}

// AtIndex reports whether the cell at i is set.
func (m *Mask) AtIndex(i int) bool { return m.bits[i] }

// Count is the number of set cells.
func (m *Mask) Count() int { return m.count }

// Cells returns the row-major indices of the set cells in ascending order.
func (m *Mask) Cells() []int {
	out := make([]int, 0, m.count)
	for i, b := range m.bits {
		if b {
			out = append(out, i)
		}
	}
	return out
}

// Equal reports whether both masks share geometry and set cells.
func (m *Mask) Equal(o *Mask) bool {
	if o == nil || !m.geom.Equal(o.geom) || m.count != o.count {
		return false
	}
	for i := range m.bits {
		if m.bits[i] != o.bits[i] {
			return false
		}
	}
	return true
}

// Subset reports whether every cell set in m is also set in o.
func (m *Mask) Subset(o *Mask) bool {
	if o == nil || !m.geom.Equal(o.geom) {
		return false
	}
	for i, b := range m.bits {
		if b && !o.bits[i] {
			return false
		}
	}
	return true
}
